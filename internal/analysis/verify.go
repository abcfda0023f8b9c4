// internal/analysis/verify.go
// Selector verification against the live page. Every proposed selector is
// re-queried: exactly one match is required, and a resolvable element gets a
// real rendering-state visibility check rather than a computed-style guess.
// Failures mark the plan invalid but never remove it; the fill executor owns
// the skip decision.
package analysis

import (
	"context"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

// selectorProbe resolves one selector and reports match count plus actual
// visibility. checkVisibility() is preferred where the browser has it; the
// fallback combines layout boxes with computed style.
const selectorProbe = `function (sel) {
	try {
		var els = document.querySelectorAll(sel);
		if (els.length !== 1) {
			return { count: els.length, visible: false };
		}
		var el = els[0];
		var visible;
		if (typeof el.checkVisibility === 'function') {
			visible = el.checkVisibility({ checkOpacity: true, checkVisibilityCSS: true });
		} else {
			var rects = el.getClientRects();
			var style = window.getComputedStyle(el);
			visible = rects.length > 0 &&
				style.visibility !== 'hidden' &&
				style.display !== 'none' &&
				parseFloat(style.opacity) > 0.01;
		}
		return { count: 1, visible: !!visible };
	} catch (e) {
		return { count: 0, visible: false };
	}
}`

type probeResult struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

// Verifier re-checks analysis output against the live page.
type Verifier struct {
	session schemas.PageSession
	logger  *zap.Logger
}

func NewVerifier(session schemas.PageSession, logger *zap.Logger) *Verifier {
	return &Verifier{session: session, logger: logger.Named("verify")}
}

// Verify annotates every plan in place with selectorValid and
// actuallyVisible. Per-element probe failures are recorded as invalid
// selectors; only context cancellation aborts the pass.
func (v *Verifier) Verify(ctx context.Context, result *schemas.AnalysisResult) error {
	for i := range result.Fields {
		ok, visible, err := v.probe(ctx, result.Fields[i].Selector)
		if err != nil {
			return err
		}
		result.Fields[i].SelectorValid = ok
		result.Fields[i].ActuallyVisible = visible
	}
	for i := range result.Checkboxes {
		ok, visible, err := v.probe(ctx, result.Checkboxes[i].Selector)
		if err != nil {
			return err
		}
		result.Checkboxes[i].SelectorValid = ok
		result.Checkboxes[i].ActuallyVisible = visible
	}
	if result.SubmitButton != nil {
		ok, visible, err := v.probe(ctx, result.SubmitButton.Selector)
		if err != nil {
			return err
		}
		result.SubmitButton.SelectorValid = ok
		result.SubmitButton.ActuallyVisible = visible
	}
	return nil
}

// probe returns (exactly-one-match, actually-visible). A script failure is
// downgraded to an invalid selector unless the context itself died.
func (v *Verifier) probe(ctx context.Context, selector string) (bool, bool, error) {
	raw, err := v.session.ExecuteScript(ctx, selectorProbe, []interface{}{selector})
	if err != nil {
		if ctx.Err() != nil {
			return false, false, ctx.Err()
		}
		v.logger.Warn("Selector probe failed; marking invalid.", zap.String("selector", selector), zap.Error(err))
		return false, false, nil
	}

	var res probeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		v.logger.Warn("Selector probe returned malformed output.", zap.String("selector", selector), zap.Error(err))
		return false, false, nil
	}

	if res.Count != 1 {
		v.logger.Debug("Selector does not resolve uniquely.", zap.String("selector", selector), zap.Int("count", res.Count))
		return false, false, nil
	}
	return true, res.Visible, nil
}
