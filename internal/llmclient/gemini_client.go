// internal/llmclient/gemini_client.go
// Client for Gemini-style generateContent endpoints. One call is exactly one
// request/response exchange under a bounded timeout; retry policy belongs to
// the caller, which typically prefers the deterministic fallback scanner
// over a second model attempt.
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/config"
)

// GeminiClient implements schemas.LLMClient against the generateContent API.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	cfg        config.LLMConfig
	requests   atomic.Int64
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// -- Wire structures --

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient constructs the client. A missing API key is a fatal
// configuration error surfaced here, before any request is attempted.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generative model API key is required (set FORMPILOT_LLM_API_KEY or llm.api_key)")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &GeminiClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("llmclient.gemini"),
	}, nil
}

// Generate performs a single exchange and returns the model's text output.
// Failures come back as *APIError.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	c.requests.Add(1)
	payload := c.buildRequestPayload(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &APIError{Code: CodeTransport, Message: "failed to marshal request payload", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &APIError{Code: CodeTransport, Message: "failed to create HTTP request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("Generation request failed in transit.", zap.Error(err), zap.Duration("duration", duration))
		return "", &APIError{Code: CodeTransport, Message: "request failed in transit", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Code: CodeTransport, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyStatus(resp.StatusCode, respBody)
	}

	var responsePayload geminiResponsePayload
	if err := json.Unmarshal(respBody, &responsePayload); err != nil {
		return "", &APIError{Code: CodeUpstream, StatusCode: resp.StatusCode, Message: "undecodable response payload", Err: err}
	}

	if len(responsePayload.Candidates) == 0 {
		return "", &APIError{Code: CodeUpstream, StatusCode: resp.StatusCode, Message: "response contained no candidates"}
	}

	candidate := responsePayload.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", &APIError{
			Code:       CodeUpstream,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("response contained empty content parts (finish reason %q)", candidate.FinishReason),
		}
	}

	c.logger.Info("Generation complete.",
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
		zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
	)

	var out strings.Builder
	for _, part := range candidate.Content.Parts {
		out.WriteString(part.Text)
	}
	return out.String(), nil
}

// Requests reports how many exchanges this client has attempted, successful
// or not.
func (c *GeminiClient) Requests() int64 {
	return c.requests.Load()
}

func (c *GeminiClient) buildRequestPayload(req schemas.GenerationRequest) geminiRequestPayload {
	genCfg := geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if genCfg.MaxOutputTokens <= 0 {
		genCfg.MaxOutputTokens = c.cfg.MaxOutputTokens
	}
	if req.ForceJSON {
		genCfg.ResponseMimeType = "application/json"
	}

	payload := geminiRequestPayload{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}},
		},
		GenerationConfig: genCfg,
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &geminiSystemInstruction{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		}
	}
	return payload
}

// classifyStatus maps an HTTP failure onto the error taxonomy.
func (c *GeminiClient) classifyStatus(status int, body []byte) *APIError {
	c.logger.Error("Provider returned error status.", zap.Int("status", status), zap.ByteString("response", body))

	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &APIError{
			Code:        CodeAuth,
			StatusCode:  status,
			Message:     msg,
			Remediation: "verify FORMPILOT_LLM_API_KEY is set to a valid key with access to the configured model",
		}
	case http.StatusTooManyRequests:
		if isQuotaBody(body) {
			return &APIError{
				Code:        CodeQuota,
				StatusCode:  status,
				Message:     msg,
				Remediation: "the project quota is exhausted; raise the quota or switch projects",
			}
		}
		return &APIError{Code: CodeRateLimit, StatusCode: status, Message: msg}
	case http.StatusPaymentRequired:
		return &APIError{
			Code:        CodeQuota,
			StatusCode:  status,
			Message:     msg,
			Remediation: "billing is not enabled or the balance is exhausted for this API key",
		}
	default:
		return &APIError{Code: CodeUpstream, StatusCode: status, Message: msg}
	}
}

// isQuotaBody sniffs a 429 body for quota-exhaustion markers so hard quota
// failures are not misfiled as transient rate limits.
func isQuotaBody(body []byte) bool {
	lc := strings.ToLower(string(body))
	return strings.Contains(lc, "quota") || strings.Contains(lc, "resource_exhausted")
}

// IsTerminal reports whether err is a generation failure the fallback path
// cannot compensate for.
func IsTerminal(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return false
}
