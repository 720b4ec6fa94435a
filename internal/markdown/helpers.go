package markdown

import "strings"

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const mdV2SpecialChars = `_*[]()~` + "`" + `>#+-=|{}.!\`

//nolint:gochecknoglobals // Replacer is immutable and safe for concurrent use.
var mdV2Replacer = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(mdV2SpecialChars))
	for i := range len(mdV2SpecialChars) {
		c := string(mdV2SpecialChars[i])
		pairs = append(pairs, c, `\`+c)
	}
	return strings.NewReplacer(pairs...)
}()

// EscapeV2 escapes text for Telegram's MarkdownV2 parse mode.
func EscapeV2(input string) string {
	if !strings.ContainsAny(input, mdV2SpecialChars) {
		return input
	}

	return mdV2Replacer.Replace(input)
}

// Truncate cuts input to at most maxRunes runes, marking the cut with an
// ellipsis.
func Truncate(input string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}

	runes := []rune(input)
	if len(runes) <= maxRunes {
		return input
	}

	return string(runes[:maxRunes-1]) + "…"
}
