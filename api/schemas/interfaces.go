// api/schemas/interfaces.go
package schemas

import (
	"context"

	json "github.com/json-iterator/go"
)

// -- Browser Driver Surface --

// PageSession is the browser automation surface the pipeline consumes. One
// session owns one tab exclusively for the session's duration; every method
// that touches the page blocks and honors the context. The core never
// manages browser process lifecycle through this interface.
type PageSession interface {
	// Navigate loads the URL and waits for the page to stabilize.
	Navigate(ctx context.Context, url string) error
	// ExecuteScript evaluates a script in the page and returns the JSON
	// encoded result value.
	ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
	// WaitQuiescent waits for a bounded network-idle period plus a settle
	// delay, returning early when a form-indicator selector appears.
	// A timeout is reported but never fatal; callers proceed with whatever
	// the page holds.
	WaitQuiescent(ctx context.Context, indicators []string) error
	// Click clicks the element after scrolling it into view.
	Click(ctx context.Context, selector string) error
	// Type enters text into the element. Secret values are filled
	// atomically; everything else may be typed character by character.
	Type(ctx context.Context, selector, text string, secret bool) error
	// SetChecked forces the checkbox into the given state.
	SetChecked(ctx context.Context, selector string, checked bool) error
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
}

// -- Generative Model Surface --

// GenerationRequest is the single request shape for the hosted model.
type GenerationRequest struct {
	SystemPrompt    string  `json:"system_prompt"`
	UserPrompt      string  `json:"user_prompt"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
	ForceJSON       bool    `json:"force_json"`
}

// LLMClient performs exactly one request/response exchange per call. Retries,
// if any, are a caller policy; the client's only obligations are a bounded
// timeout and typed failure classification.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
