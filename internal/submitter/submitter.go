package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"visionscraper/internal/domain"

	"github.com/go-resty/resty/v2"
)

const submitPath = "/api/submit-response"

type Config struct {
	APIToken   string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Submitter forwards an inference result to the results-collection endpoint.
type Submitter struct {
	client   *resty.Client
	endpoint string
	log      *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Submitter, error) {
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, errors.New("API token is empty")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is empty")
	}

	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}

	client.
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &Submitter{
		client:   client,
		endpoint: baseURL + submitPath,
		log:      log,
	}, nil
}

// Submit posts the result verbatim and returns the endpoint's response body.
func (s *Submitter) Submit(ctx context.Context, result json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(result) {
		return nil, errors.New("result is not valid JSON")
	}

	s.log.InfoContext(ctx, "Submitting result",
		"endpoint", s.endpoint,
		"resultSize", len(result))

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody([]byte(result)).
		Post(submitPath)
	if err != nil {
		return nil, &domain.NetworkError{Op: http.MethodPost, URL: s.endpoint, Err: err}
	}

	if !domain.IsStatusOK(resp.StatusCode()) {
		return nil, &domain.NetworkError{
			Op:         http.MethodPost,
			URL:        s.endpoint,
			StatusCode: resp.StatusCode(),
			Err:        responseError(resp.Body()),
		}
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("decode submission response (status = %d): invalid JSON", resp.StatusCode())
	}

	s.log.InfoContext(ctx, "Result is submitted",
		"endpoint", s.endpoint,
		"status", resp.StatusCode(),
		"elapsed", resp.Time())

	return json.RawMessage(body), nil
}

func responseError(body []byte) error {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil
	}

	const maxLen = 256
	if len(text) > maxLen {
		text = text[:maxLen] + "…"
	}

	return errors.New(text)
}
