package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"visionscraper/internal/domain"

	"github.com/gabriel-vasile/mimetype"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const chatCompletionsPath = "v1/chat/completions"

type OpenAIConfig struct {
	APIToken   string
	BaseURL    string
	Model      string
	DetectMIME bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIAnalyzer posts captioning requests to an OpenAI-compatible chat
// completions endpoint.
type OpenAIAnalyzer struct {
	client     openai.Client
	endpoint   string
	model      string
	detectMIME bool
	log        *slog.Logger
}

func NewOpenAIAnalyzer(cfg OpenAIConfig, log *slog.Logger) (*OpenAIAnalyzer, error) {
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, errors.New("API token is empty")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is empty")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("model is empty")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(token),
		option.WithBaseURL(baseURL + "/"),
		option.WithMaxRetries(0),
		option.WithHeader("Content-Type", "application/json"),
		// The client picks these up from OPENAI_* variables; they mean nothing
		// to a third-party endpoint.
		option.WithHeaderDel("OpenAI-Organization"),
		option.WithHeaderDel("OpenAI-Project"),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIAnalyzer{
		client:     openai.NewClient(opts...),
		endpoint:   baseURL + "/" + chatCompletionsPath,
		model:      model,
		detectMIME: cfg.DetectMIME,
		log:        log,
	}, nil
}

// Analyze sends the image for captioning and returns the response body as is.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, image []byte) (json.RawMessage, error) {
	if len(image) == 0 {
		return nil, domain.ErrEmptyImage
	}

	mimeType := a.MIMEType(image)

	a.log.InfoContext(ctx, "Sending image for analysis",
		"model", a.model,
		"mimeType", mimeType,
		"imageSize", len(image))

	params := BuildRequest(a.model, mimeType, image)

	// Raw bytes skip the client's content-type check; some endpoints answer
	// JSON as text/plain.
	var raw []byte
	if err := a.client.Post(ctx, chatCompletionsPath, params, &raw); err != nil {
		return nil, a.networkError(err)
	}

	if len(raw) == 0 {
		return nil, a.decodeError(errors.New("response body is empty"))
	}

	if !json.Valid(raw) {
		return nil, a.decodeError(errors.New("response body is not valid JSON"))
	}

	result := json.RawMessage(raw)

	a.log.InfoContext(ctx, "Image is analyzed",
		"model", a.model,
		"responseSize", len(result))

	return result, nil
}

// MIMEType returns the label the image is sent under.
func (a *OpenAIAnalyzer) MIMEType(image []byte) string {
	if !a.detectMIME {
		return DefaultMIMEType
	}

	return detectMIMEType(image)
}

// BuildRequest assembles the chat completion request carrying the image as
// a base64 data URL.
func BuildRequest(model string, mimeType string, image []byte) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(CaptionInstruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: DataURL(mimeType, image),
				}),
			}),
		},
	}
}

func DataURL(mimeType string, image []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func detectMIMEType(image []byte) string {
	detected := mimetype.Detect(image)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return m.String()
		}
	}

	return DefaultMIMEType
}

func (a *OpenAIAnalyzer) decodeError(err error) error {
	return fmt.Errorf("analyze image: %w", &domain.NetworkError{
		Op:  http.MethodPost,
		URL: a.endpoint,
		Err: err,
	})
}

func (a *OpenAIAnalyzer) networkError(err error) error {
	netErr := &domain.NetworkError{Op: http.MethodPost, URL: a.endpoint, Err: err}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		netErr.StatusCode = apiErr.StatusCode
	}

	return fmt.Errorf("analyze image: %w", netErr)
}
