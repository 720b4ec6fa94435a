package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"visionscraper/internal/domain"
	"visionscraper/internal/markdown"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	maxCaptionRunes = 1024
	maxErrorRunes   = 1024
)

// Telegram reports run outcomes to a single chat.
type Telegram struct {
	api    *bot.Bot
	chatID int64
	log    *slog.Logger
}

func NewTelegram(
	token string,
	chatID int64,
	log *slog.Logger,
	opts ...bot.Option,
) (*Telegram, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("token is empty")
	}

	if chatID == 0 {
		return nil, errors.New("chat ID is empty")
	}

	api, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

func (t *Telegram) NotifyRun(ctx context.Context, run *domain.Run) error {
	if run == nil {
		return errors.New("run is nil")
	}

	msg, err := t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      FormatRun(run),
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	t.log.DebugContext(ctx, "Run notification is sent",
		"chatID", t.chatID,
		"messageID", msg.ID,
		"target", run.Target,
		"stage", run.Stage)

	return nil
}

// FormatRun renders a MarkdownV2 message describing the run.
func FormatRun(run *domain.Run) string {
	var b strings.Builder

	if run.Succeeded() {
		b.WriteString("✅ *Vision run finished*\n\n")
	} else {
		b.WriteString("❌ *Vision run failed*\n\n")
	}

	b.WriteString("*Target:* ")
	b.WriteString(markdown.EscapeV2(run.Target))
	b.WriteString("\n")

	if !run.Succeeded() {
		b.WriteString("*Stage:* ")
		b.WriteString(markdown.EscapeV2(string(run.Stage)))
		b.WriteString("\n")
	}

	if run.ImageSize > 0 {
		image := fmt.Sprintf("%d bytes", run.ImageSize)
		if run.MIMEType != "" {
			image += ", " + run.MIMEType
		}

		b.WriteString("*Image:* ")
		b.WriteString(markdown.EscapeV2(image))
		b.WriteString("\n")
	}

	if run.Caption != "" {
		b.WriteString("\n*Caption:*\n")
		b.WriteString(markdown.EscapeV2(markdown.Truncate(run.Caption, maxCaptionRunes)))
		b.WriteString("\n")
	}

	if run.Err != "" {
		b.WriteString("\n*Error:*\n`")
		b.WriteString(markdown.EscapeV2(markdown.Truncate(run.Err, maxErrorRunes)))
		b.WriteString("`\n")
	}

	if d := run.Duration(); d > 0 {
		b.WriteString(markdown.EscapeV2(fmt.Sprintf("\nTook %.1fs", d.Seconds())))
	}

	return strings.TrimRight(b.String(), "\n")
}
