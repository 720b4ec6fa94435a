package fetcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"visionscraper/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	inlineImagePrefix = "data:image"

	DefaultMaxImageBytes int64 = 20 << 20
)

type Fetcher struct {
	client        *http.Client
	maxImageBytes int64
	log           *slog.Logger
}

func New(timeout time.Duration, maxImageBytes int64, log *slog.Logger) *Fetcher {
	return NewWithClient(&http.Client{Timeout: timeout}, maxImageBytes, log)
}

func NewWithClient(client *http.Client, maxImageBytes int64, log *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}

	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}

	return &Fetcher{
		client:        client,
		maxImageBytes: maxImageBytes,
		log:           log,
	}
}

// Fetch scrapes the target page and returns the bytes of its first image.
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	f.log.InfoContext(ctx, "Scraping target",
		"target", target)

	page, err := f.get(ctx, target, "text/html,application/xhtml+xml,*/*;q=0.8", 0)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	src, err := firstImageSource(page)
	if err != nil {
		return nil, fmt.Errorf("find image (target = %s): %w", target, err)
	}

	var image []byte

	if strings.HasPrefix(src, inlineImagePrefix) {
		f.log.DebugContext(ctx, "Image is inline data",
			"target", target,
			"srcLength", len(src))

		image, err = decodeInlineImage(src)
		if err != nil {
			return nil, fmt.Errorf("decode inline image: %w", err)
		}
	} else {
		imageURL := resolveReference(target, src)

		f.log.DebugContext(ctx, "Image is remote",
			"target", target,
			"src", src,
			"imageURL", imageURL)

		image, err = f.get(ctx, imageURL, "image/*,*/*;q=0.8", f.maxImageBytes)
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
	}

	if len(image) == 0 {
		return nil, fmt.Errorf("fetch image (target = %s): %w", target, domain.ErrEmptyImage)
	}

	f.log.InfoContext(ctx, "Image is fetched",
		"target", target,
		"imageSize", len(image))

	return image, nil
}

func (f *Fetcher) get(
	ctx context.Context,
	rawURL string,
	accept string,
	limit int64,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.NetworkError{Op: http.MethodGet, URL: rawURL, Err: err}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req) //nolint:gosec // URL comes from config or scraped page
	if err != nil {
		return nil, &domain.NetworkError{Op: http.MethodGet, URL: rawURL, Err: err}
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"url", rawURL,
				"operation", "get")
		}
	}()

	if !domain.IsStatusOK(resp.StatusCode) {
		return nil, &domain.NetworkError{Op: http.MethodGet, URL: rawURL, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, &domain.NetworkError{Op: http.MethodGet, URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	if limit > 0 && int64(len(content)) > limit {
		return nil, fmt.Errorf("read body (URL = %s, limit = %d): %w", rawURL, limit, domain.ErrImageTooLarge)
	}

	return content, nil
}

func firstImageSource(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("create document from reader: %w", err)
	}

	img := doc.Find("img").First()
	if img.Length() == 0 {
		return "", fmt.Errorf("no img element: %w", domain.ErrNotFound)
	}

	src, ok := img.Attr("src")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return "", fmt.Errorf("img element has no src: %w", domain.ErrNotFound)
	}

	return src, nil
}

// decodeInlineImage decodes everything after the first comma of a data URL.
func decodeInlineImage(src string) ([]byte, error) {
	_, payload, ok := strings.Cut(src, ",")
	if !ok {
		return nil, fmt.Errorf("no comma in data URL: %w", domain.ErrDecode)
	}

	// Whitespace inside the payload is ignored, as in hand-formatted pages.
	payload = strings.Join(strings.Fields(payload), "")

	image, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return image, nil
	}

	// Unpadded payloads show up in hand-written pages.
	image, rawErr := base64.RawStdEncoding.DecodeString(payload)
	if rawErr == nil {
		return image, nil
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrDecode, err)
}

func resolveReference(pageURL, src string) string {
	ref, err := url.Parse(src)
	if err != nil || ref.IsAbs() {
		return src
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return src
	}

	return base.ResolveReference(ref).String()
}
