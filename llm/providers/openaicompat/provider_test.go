package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
	"github.com/xiaoyun172/CS-LLM-house-sub001/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{ProviderName: "test", APIKey: "sk-test", BaseURL: srv.URL, DefaultModel: "m-default"}, zap.NewNop()).
		WithHTTPClient(srv.Client())
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "/v1/chat/completions", p.cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.cfg.ModelsEndpoint)
	assert.NotNil(t, p.client)
}

func TestCompletion_Success(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": "m-default",
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": "hello"},
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4},
		})
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.FirstContent())
	assert.Equal(t, "test", resp.Provider)
	assert.Equal(t, 3, resp.Usage.PromptTokens)
	assert.Equal(t, "m-default", got["model"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].(map[string]any)["content"])
}

func TestCompletion_ImageContentParts(t *testing.T) {
	var raw string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw = string(body.Messages[0].Content)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
	})

	msg := types.NewUserMessage("locate the button")
	msg.Images = []types.ImageContent{{Type: "base64", Data: "QUJD", MimeType: "image/png"}}
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "vision", Messages: []types.Message{msg}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "["), "content should be an array of parts: %s", raw)
	assert.Contains(t, raw, `"type":"text"`)
	assert.Contains(t, raw, `data:image/png;base64,QUJD`)
}

func TestCompletion_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, types.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, types.ErrRateLimited, true},
		{"quota", http.StatusBadRequest, `{"error":{"message":"insufficient quota"}}`, types.ErrQuotaExceeded, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad"}}`, types.ErrInvalidRequest, false},
		{"overloaded", 529, `overloaded`, types.ErrModelOverloaded, true},
		{"gateway timeout", http.StatusGatewayTimeout, ``, types.ErrUpstreamTimeout, true},
		{"internal", http.StatusInternalServerError, `boom`, types.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []types.Message{types.NewUserMessage("x")},
			})
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.status, e.HTTPStatus)
		})
	}
}

func TestCompletion_EmptyMessages(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestCompletion_MalformedBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("x")},
	})
	assert.True(t, types.IsRetryable(err))
}

func TestHealthCheck(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad (type: invalid)", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad","type":"invalid"}}`)))
	assert.Equal(t, "plain text", ReadErrorMessage(strings.NewReader("plain text\n")))
}
