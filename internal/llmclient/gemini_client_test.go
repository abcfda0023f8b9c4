package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/config"
)

func testClient(t *testing.T, endpoint string) *GeminiClient {
	t.Helper()
	c, err := NewGeminiClient(config.LLMConfig{
		APIKey:          "test-key",
		Model:           "gemini-2.0-flash",
		Endpoint:        endpoint,
		Timeout:         5 * time.Second,
		MaxOutputTokens: 1024,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func geminiOK(text string) interface{} {
	return map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMConfig{Model: "gemini-2.0-flash"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestGenerateSuccess(t *testing.T) {
	var captured geminiRequestPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.NoError(t, json.NewEncoder(w).Encode(geminiOK(`{"analysis":"ok"}`)))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	out, err := c.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt:    "you classify forms",
		UserPrompt:      "classify this page",
		Temperature:     0.2,
		MaxOutputTokens: 512,
		ForceJSON:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"analysis":"ok"}`, out)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "you classify forms", captured.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMimeType)
	assert.Equal(t, 512, captured.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, int64(1), c.Requests())
}

func TestGenerateStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, CodeAuth},
		{"forbidden", http.StatusForbidden, `{"error":"no access"}`, CodeAuth},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, CodeRateLimit},
		{"quota exhausted", http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, CodeQuota},
		{"server error", http.StatusInternalServerError, `oops`, CodeUpstream},
		{"bad request", http.StatusBadRequest, `invalid`, CodeUpstream},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			c := testClient(t, server.URL)
			_, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tc.code, CodeOf(err))
		})
	}
}

func TestGenerateTransportErrorCode(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1") // nothing listens here
	_, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Equal(t, CodeTransport, CodeOf(err))
	assert.False(t, IsTerminal(err))
}

func TestGenerateEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Equal(t, CodeUpstream, CodeOf(err))
}

func TestTerminalClassification(t *testing.T) {
	assert.True(t, IsTerminal(&APIError{Code: CodeAuth}))
	assert.True(t, IsTerminal(&APIError{Code: CodeQuota}))
	assert.False(t, IsTerminal(&APIError{Code: CodeRateLimit}))
	assert.False(t, IsTerminal(&APIError{Code: CodeUpstream}))
	assert.False(t, IsTerminal(context.DeadlineExceeded))
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "davinci", APIKey: "k"}, zaptest.NewLogger(t))
	require.Error(t, err)
}
