package analyzer_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"visionscraper/internal/analyzer"
	"visionscraper/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

type recordedRequest struct {
	path     string
	auth     string
	ctype    string
	org      string
	project  string
	captured capturedRequest
}

type inferenceServer struct {
	srv   *httptest.Server
	calls atomic.Int32

	mu   sync.Mutex
	last recordedRequest
}

func (s *inferenceServer) lastRequest() recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

func newInferenceServer(t *testing.T, status int, body string) *inferenceServer {
	t.Helper()

	return newInferenceServerWithType(t, status, "application/json", body)
}

// newInferenceServerWithType answers with the given content type. An empty
// contentType sends no Content-Type header at all.
func newInferenceServerWithType(t *testing.T, status int, contentType string, body string) *inferenceServer {
	t.Helper()

	s := &inferenceServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)

		rec := recordedRequest{
			path:    r.URL.Path,
			auth:    r.Header.Get("Authorization"),
			ctype:   r.Header.Get("Content-Type"),
			org:     r.Header.Get("OpenAI-Organization"),
			project: r.Header.Get("OpenAI-Project"),
		}

		raw, err := io.ReadAll(r.Body)
		if err == nil {
			_ = json.Unmarshal(raw, &rec.captured)
		}

		s.mu.Lock()
		s.last = rec
		s.mu.Unlock()

		if contentType == "" {
			w.Header()["Content-Type"] = nil
		} else {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.srv.Close)

	return s
}

func newAnalyzer(t *testing.T, baseURL string, detectMIME bool) *analyzer.OpenAIAnalyzer {
	t.Helper()

	a, err := analyzer.NewOpenAIAnalyzer(analyzer.OpenAIConfig{
		APIToken:   testToken,
		BaseURL:    baseURL,
		Model:      "microsoft-florence-2-large",
		DetectMIME: detectMIME,
	}, slog.Default())
	require.NoError(t, err)

	return a
}

func TestAnalyzeReturnsResponseUnchanged(t *testing.T) {
	const body = `{"choices":[{"text":"a cat"}]}`
	s := newInferenceServer(t, http.StatusOK, body)

	result, err := newAnalyzer(t, s.srv.URL, false).Analyze(context.Background(), []byte("hello"))
	require.NoError(t, err)

	assert.JSONEq(t, body, string(result))
	assert.Equal(t, int32(1), s.calls.Load())
	rec := s.lastRequest()
	assert.Equal(t, "/v1/chat/completions", rec.path)
	assert.Equal(t, "Bearer "+testToken, rec.auth)
	assert.Contains(t, rec.ctype, "application/json")
}

func TestAnalyzeAcceptsJSONWithAnyContentType(t *testing.T) {
	const body = `{"choices":[{"text":"a cat"}]}`

	for _, contentType := range []string{"text/plain; charset=utf-8", "application/octet-stream", ""} {
		s := newInferenceServerWithType(t, http.StatusOK, contentType, body)

		result, err := newAnalyzer(t, s.srv.URL, false).Analyze(context.Background(), []byte("hello"))
		require.NoError(t, err, contentType)
		assert.JSONEq(t, body, string(result), contentType)
	}
}

func TestAnalyzeRejectsNonJSONBody(t *testing.T) {
	s := newInferenceServerWithType(t, http.StatusOK, "text/plain", "a cat, probably")

	_, err := newAnalyzer(t, s.srv.URL, false).Analyze(context.Background(), []byte("hello"))

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestAnalyzeDropsOpenAIAccountHeaders(t *testing.T) {
	t.Setenv("OPENAI_ORG_ID", "org-from-env")
	t.Setenv("OPENAI_PROJECT_ID", "proj-from-env")

	s := newInferenceServer(t, http.StatusOK, `{}`)

	_, err := newAnalyzer(t, s.srv.URL, false).Analyze(context.Background(), []byte("hello"))
	require.NoError(t, err)

	rec := s.lastRequest()
	assert.Empty(t, rec.org)
	assert.Empty(t, rec.project)
	assert.Equal(t, "Bearer "+testToken, rec.auth)
}

func TestAnalyzeBuildsCaptionRequest(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x01, 0xfe}
	s := newInferenceServer(t, http.StatusOK, `{}`)

	_, err := newAnalyzer(t, s.srv.URL, false).Analyze(context.Background(), image)
	require.NoError(t, err)

	req := s.lastRequest().captured
	assert.Equal(t, "microsoft-florence-2-large", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	require.Len(t, req.Messages[0].Content, 2)

	text, img := req.Messages[0].Content[0], req.Messages[0].Content[1]
	assert.Equal(t, "text", text.Type)
	assert.Equal(t, analyzer.CaptionInstruction, text.Text)
	assert.Equal(t, "image_url", img.Type)

	const prefix = "data:image/jpeg;base64,"
	require.True(t, strings.HasPrefix(img.ImageURL.URL, prefix), img.ImageURL.URL)

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img.ImageURL.URL, prefix))
	require.NoError(t, err)
	assert.Equal(t, image, decoded)
}

func TestAnalyzeDetectsMIMEType(t *testing.T) {
	png := []byte{
		0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00,
	}
	s := newInferenceServer(t, http.StatusOK, `{}`)

	_, err := newAnalyzer(t, s.srv.URL, true).Analyze(context.Background(), png)
	require.NoError(t, err)

	req := s.lastRequest().captured
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestAnalyzeDetectionFallsBackToJPEG(t *testing.T) {
	s := newInferenceServer(t, http.StatusOK, `{}`)

	_, err := newAnalyzer(t, s.srv.URL, true).Analyze(context.Background(), []byte("plain text, not an image"))
	require.NoError(t, err)

	req := s.lastRequest().captured
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content[1].ImageURL.URL, "data:image/jpeg;base64,"))
}

func TestMIMETypeLabel(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

	assert.Equal(t, analyzer.DefaultMIMEType, newAnalyzer(t, "https://example.com", false).MIMEType(png))
	assert.Equal(t, "image/png", newAnalyzer(t, "https://example.com", true).MIMEType(png))
}

func TestAnalyzeStatusFailureIsNotRetried(t *testing.T) {
	s := newInferenceServer(t, http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`)

	_, err := newAnalyzer(t, s.srv.URL, false).Analyze(context.Background(), []byte("hello"))

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestAnalyzeRejectsEmptyImage(t *testing.T) {
	s := newInferenceServer(t, http.StatusOK, `{}`)

	_, err := newAnalyzer(t, s.srv.URL, false).Analyze(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrEmptyImage)
	assert.Zero(t, s.calls.Load())
}

func TestNewOpenAIAnalyzerValidatesConfig(t *testing.T) {
	_, err := analyzer.NewOpenAIAnalyzer(analyzer.OpenAIConfig{BaseURL: "https://example.com", Model: "m"}, slog.Default())
	require.Error(t, err)

	_, err = analyzer.NewOpenAIAnalyzer(analyzer.OpenAIConfig{APIToken: "t", Model: "m"}, slog.Default())
	require.Error(t, err)

	_, err = analyzer.NewOpenAIAnalyzer(analyzer.OpenAIConfig{APIToken: "t", BaseURL: "https://example.com"}, slog.Default())
	require.Error(t, err)
}

func TestDataURLRoundTrip(t *testing.T) {
	for _, image := range [][]byte{{0}, []byte("hello"), {0xff, 0xfe, 0xfd, 0x00, 0x7f}} {
		url := analyzer.DataURL(analyzer.DefaultMIMEType, image)

		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/jpeg;base64,"))
		require.NoError(t, err)
		assert.Equal(t, image, decoded)
	}
}
