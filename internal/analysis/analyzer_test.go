package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/llmclient"
	"github.com/formpilot/formpilot-cli/internal/patterncache"
)

func newTestAnalyzer(t *testing.T, client schemas.LLMClient, session schemas.PageSession, cache *patterncache.Cache) *Analyzer {
	t.Helper()
	return NewAnalyzer(Options{
		Client:  client,
		Session: session,
		Cache:   cache,
	}, zaptest.NewLogger(t))
}

func TestAnalyzeModelSuccess(t *testing.T) {
	llm := &mockLLM{response: validModelJSON}
	a := newTestAnalyzer(t, llm, &mockSession{}, nil)

	result, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)

	assert.Equal(t, schemas.SourceModel, result.Source)
	assert.Equal(t, schemas.PageTypeSignup, result.PageType)
	assert.Equal(t, 1, llm.calls)

	// Verification ran: the default mock probe resolves everything.
	require.Len(t, result.Fields, 2)
	for _, f := range result.Fields {
		assert.True(t, f.SelectorValid)
		assert.True(t, f.ActuallyVisible)
	}
	require.NotNil(t, result.SubmitButton)
	assert.True(t, result.SubmitButton.SelectorValid)

	// The deterministic pass flags the off-screen decoy even though the
	// model (correctly) left it out of fields.
	assert.True(t, result.TrapSelectors()[`input[name="website"]`])
}

func TestAnalyzeDetectorOverridesModel(t *testing.T) {
	// The model wrongly plans to fill the decoy and reports no honeypots.
	wrong := `{
	  "analysis": "Signup form.",
	  "confidence": 0.9,
	  "pageType": "signup",
	  "fields": [
	    {"purpose": "email", "selector": "#email", "elementType": "input", "required": true, "importance": "critical"},
	    {"purpose": "other", "selector": "input[name=\"website\"]", "elementType": "input", "required": false, "importance": "optional"}
	  ],
	  "checkboxes": [],
	  "honeypots": [],
	  "submitButton": {"selector": "#signup-btn", "text": "Sign Up"}
	}`
	a := newTestAnalyzer(t, &mockLLM{response: wrong}, &mockSession{}, nil)

	result, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)

	assert.True(t, result.TrapSelectors()[`input[name="website"]`])
	require.Len(t, result.Fields, 2)
	assert.False(t, result.Fields[0].Suspicious)
	assert.True(t, result.Fields[1].Suspicious, "detector verdict must override the model's plan")
}

func TestAnalyzeTransportFailureFallsBack(t *testing.T) {
	llm := &mockLLM{err: &llmclient.APIError{Code: llmclient.CodeTransport, Message: "connection refused"}}
	a := newTestAnalyzer(t, llm, &mockSession{}, nil)

	result, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)

	assert.Equal(t, schemas.SourceFallback, result.Source)
	assert.LessOrEqual(t, result.Confidence, fallbackConfidenceCap)
	assert.NotEmpty(t, result.Fields)
}

func TestAnalyzeTerminalErrorSurfaces(t *testing.T) {
	for _, code := range []llmclient.ErrorCode{llmclient.CodeAuth, llmclient.CodeQuota} {
		llm := &mockLLM{err: &llmclient.APIError{Code: code, Message: "rejected"}}
		a := newTestAnalyzer(t, llm, &mockSession{}, nil)

		result, err := a.Analyze(context.Background(), signupState())
		require.Error(t, err)
		assert.Nil(t, result)
		assert.Equal(t, code, llmclient.CodeOf(err))
	}
}

func TestAnalyzeUnrecoverableOutputCapsConfidence(t *testing.T) {
	llm := &mockLLM{response: "I am sorry, I cannot help with that."}
	a := newTestAnalyzer(t, llm, &mockSession{}, nil)

	result, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)

	assert.Equal(t, schemas.SourceFallback, result.Source)
	assert.LessOrEqual(t, result.Confidence, unrecoverableConfidenceCap)
	assert.NotEmpty(t, result.Fields, "the page is still scannable deterministically")
}

func TestAnalyzeCachesPerHost(t *testing.T) {
	cache, err := patterncache.New(8, time.Hour, nil)
	require.NoError(t, err)
	llm := &mockLLM{response: validModelJSON}
	a := newTestAnalyzer(t, llm, &mockSession{}, cache)

	first, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)
	require.Equal(t, 1, llm.calls)

	second, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls, "cached pattern must skip the generative call")
	assert.Equal(t, first.PageType, second.PageType)
	assert.Equal(t, len(first.Fields), len(second.Fields))
}

func TestAnalyzeDoesNotCacheFallback(t *testing.T) {
	cache, err := patterncache.New(8, time.Hour, nil)
	require.NoError(t, err)
	llm := &mockLLM{err: &llmclient.APIError{Code: llmclient.CodeTransport, Message: "down"}}
	a := newTestAnalyzer(t, llm, &mockSession{}, cache)

	_, err = a.Analyze(context.Background(), signupState())
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), signupState())
	require.NoError(t, err)

	assert.Equal(t, 2, llm.calls, "heuristic results are never worth caching")
	assert.Equal(t, 0, cache.Len())
}

func TestAnalyzeCachedCopyIsNotPoisonedByVerification(t *testing.T) {
	cache, err := patterncache.New(8, time.Hour, nil)
	require.NoError(t, err)
	a := newTestAnalyzer(t, &mockLLM{response: validModelJSON}, &mockSession{}, cache)

	_, err = a.Analyze(context.Background(), signupState())
	require.NoError(t, err)

	// Second pass against a page where #email no longer resolves.
	a.verifier = NewVerifier(&mockSession{probes: map[string]probeResult{
		"#email": {Count: 0},
	}}, zaptest.NewLogger(t))
	degraded, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)
	assert.False(t, degraded.Fields[0].SelectorValid)

	// A third pass with healthy probes sees the pristine cached plans.
	a.verifier = NewVerifier(&mockSession{}, zaptest.NewLogger(t))
	healthy, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)
	assert.True(t, healthy.Fields[0].SelectorValid)
}

func TestAnalyzeFiresHook(t *testing.T) {
	a := newTestAnalyzer(t, &mockLLM{response: validModelJSON}, &mockSession{}, nil)
	var observed *schemas.AnalysisResult
	a.OnAnalysis = func(r *schemas.AnalysisResult) { observed = r }

	result, err := a.Analyze(context.Background(), signupState())
	require.NoError(t, err)
	assert.Same(t, result, observed)
}

func TestSiteKey(t *testing.T) {
	assert.Equal(t, "example.com", siteKey("https://EXAMPLE.com/signup?x=1"))
	assert.Equal(t, "sub.example.com:8443", siteKey("https://sub.example.com:8443/join"))
	assert.Equal(t, "not a url", siteKey("  Not A URL "))
}
