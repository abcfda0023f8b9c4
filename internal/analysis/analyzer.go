// internal/analysis/analyzer.go
// Pipeline orchestration for one page: deterministic trap pass, generative
// analysis with repair, detector-precedence merge, then live selector
// verification. The generative stage failing is an expected condition, not
// an exception path; the fallback scanner re-enters the pipeline at the
// verification stage with the same contract.
package analysis

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/llmclient"
	"github.com/formpilot/formpilot-cli/internal/patterncache"
	"github.com/formpilot/formpilot-cli/internal/trap"
)

// unrecoverableConfidenceCap bounds confidence when the model responded but
// produced nothing parseable; the fallback result earns even less trust in
// that situation than on a clean transport failure.
const unrecoverableConfidenceCap = 0.3

// Analyzer runs the analysis half of the pipeline. Construct one per
// session; it holds no per-page state.
type Analyzer struct {
	client   schemas.LLMClient
	prompts  *PromptBuilder
	scanner  *Scanner
	verifier *Verifier
	cache    *patterncache.Cache
	logger   *zap.Logger

	// OnAnalysis, when set, observes every final result before it is
	// returned. External collaborators (persistence, reporting) hook here.
	OnAnalysis func(*schemas.AnalysisResult)

	maxOutputTokens int
	temperature     float64
}

// Options carries the analyzer's collaborators. Cache is optional.
type Options struct {
	Client          schemas.LLMClient
	Session         schemas.PageSession
	Cache           *patterncache.Cache
	ExcerptMaxChars int
	FallbackCap     float64
	MaxOutputTokens int
	Temperature     float64
}

func NewAnalyzer(opts Options, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		client:          opts.Client,
		prompts:         NewPromptBuilder(opts.ExcerptMaxChars),
		scanner:         NewScanner(opts.FallbackCap),
		verifier:        NewVerifier(opts.Session, logger),
		cache:           opts.Cache,
		logger:          logger.Named("analysis"),
		maxOutputTokens: opts.MaxOutputTokens,
		temperature:     opts.Temperature,
	}
}

// Analyze produces the verified AnalysisResult for a page state. Errors are
// terminal only: auth/quota failures of the generative provider, context
// cancellation, or the page session dying mid-verification. Everything else
// degrades through repair or the fallback scanner.
func (a *Analyzer) Analyze(ctx context.Context, state *schemas.PageState) (*schemas.AnalysisResult, error) {
	verdicts := trap.ClassifyAll(state.Elements)

	if cached, ok := a.cachedResult(state); ok {
		a.logger.Info("Reusing cached site pattern.", zap.String("url", state.URL))
		return a.finish(ctx, cached, verdicts)
	}

	result, err := a.generate(ctx, state, verdicts)
	if err != nil {
		return nil, err
	}

	final, err := a.finish(ctx, result, verdicts)
	if err != nil {
		return nil, err
	}

	if a.cache != nil && final.Source != schemas.SourceFallback {
		a.cache.Put(siteKey(state.URL), final)
	}
	return final, nil
}

// generate runs the model path and falls back to the heuristic scanner on
// any non-terminal failure.
func (a *Analyzer) generate(ctx context.Context, state *schemas.PageState, verdicts []schemas.TrapVerdict) (*schemas.AnalysisResult, error) {
	req := schemas.GenerationRequest{
		SystemPrompt:    a.prompts.SystemPrompt(),
		UserPrompt:      a.prompts.UserPrompt(state, verdicts),
		MaxOutputTokens: a.maxOutputTokens,
		Temperature:     a.temperature,
		ForceJSON:       true,
	}

	raw, err := a.client.Generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if llmclient.IsTerminal(err) {
			// Auth and quota failures have remediation steps the operator
			// must see; the fallback cannot buy anything here.
			return nil, fmt.Errorf("generative analysis failed terminally: %w", err)
		}
		a.logger.Warn("Generative analysis unavailable; using heuristic scanner.", zap.Error(err))
		return a.scanner.Scan(state), nil
	}

	outcome := Parse(raw)
	switch outcome.Kind {
	case OutcomeValid:
		return outcome.Result, nil
	case OutcomeRepaired:
		a.logger.Info("Model output repaired.", zap.Strings("fixes", outcome.Fixes))
		return outcome.Result, nil
	default:
		a.logger.Warn("Model output unrecoverable; using heuristic scanner.", zap.String("reason", outcome.Reason))
		result := a.scanner.Scan(state)
		if result.Confidence > unrecoverableConfidenceCap {
			result.Confidence = unrecoverableConfidenceCap
		}
		return result, nil
	}
}

// finish applies the detector-precedence merge and live verification, then
// fires the analysis hook.
func (a *Analyzer) finish(ctx context.Context, result *schemas.AnalysisResult, verdicts []schemas.TrapVerdict) (*schemas.AnalysisResult, error) {
	mergeVerdicts(result, verdicts)

	if err := a.verifier.Verify(ctx, result); err != nil {
		return nil, err
	}

	a.logger.Info("Analysis complete.",
		zap.String("source", string(result.Source)),
		zap.String("page_type", string(result.PageType)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("fields", len(result.Fields)),
		zap.Int("checkboxes", len(result.Checkboxes)),
		zap.Int("honeypots", len(result.Honeypots)))

	if a.OnAnalysis != nil {
		a.OnAnalysis(result)
	}
	return result, nil
}

// mergeVerdicts enforces detector precedence: any element the deterministic
// detector flagged is a honeypot in the final result no matter what the
// model claimed, and the corresponding field/checkbox plans are marked
// suspicious so the executor excludes them.
func mergeVerdicts(result *schemas.AnalysisResult, verdicts []schemas.TrapVerdict) {
	known := make(map[string]bool, len(result.Honeypots))
	for _, h := range result.Honeypots {
		known[h.Selector] = true
	}

	trapped := make(map[string]bool)
	for _, v := range verdicts {
		if !v.IsTrap {
			continue
		}
		trapped[v.Selector] = true
		if !known[v.Selector] {
			result.Honeypots = append(result.Honeypots, schemas.HoneypotEntry{
				Selector:   v.Selector,
				Reasons:    v.Reasons,
				Confidence: v.Confidence,
			})
			known[v.Selector] = true
		}
	}

	for i := range result.Fields {
		if trapped[result.Fields[i].Selector] {
			result.Fields[i].Suspicious = true
		}
	}
	for i := range result.Checkboxes {
		if trapped[result.Checkboxes[i].Selector] {
			result.Checkboxes[i].Suspicious = true
		}
	}
}

func (a *Analyzer) cachedResult(state *schemas.PageState) (*schemas.AnalysisResult, bool) {
	if a.cache == nil {
		return nil, false
	}
	cached, ok := a.cache.Get(siteKey(state.URL))
	if !ok {
		return nil, false
	}
	// Hand back a copy: verification mutates plans in place and must not
	// poison the cached original.
	cp := *cached
	cp.Fields = append([]schemas.FieldPlan(nil), cached.Fields...)
	cp.Checkboxes = append([]schemas.CheckboxPlan(nil), cached.Checkboxes...)
	cp.Honeypots = append([]schemas.HoneypotEntry(nil), cached.Honeypots...)
	if cached.SubmitButton != nil {
		btn := *cached.SubmitButton
		cp.SubmitButton = &btn
	}
	return &cp, true
}

// siteKey normalizes a URL to its host for cache keying.
func siteKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.ToLower(u.Host)
}
