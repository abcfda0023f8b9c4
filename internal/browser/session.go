// internal/browser/session.go
// Session implements the page interaction surface consumed by the extraction
// and fill pipeline. Each method manages its own operational timeout so a
// stuck action can be abandoned without tearing down the whole session, and
// every wait is cancellable through both the caller's context and the
// session lifecycle context.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/browser/humanoid"
	"github.com/formpilot/formpilot-cli/internal/config"
)

// ErrQuiescenceTimeout signals that the page never reached a quiet state
// within the configured window. Callers proceed with the partial page.
var ErrQuiescenceTimeout = errors.New("page did not reach quiescence within the wait window")

// Session drives a single browser tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	delays humanoid.DelayStrategy
	net    *netTracker
	logger *zap.Logger
}

var _ schemas.PageSession = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, delays humanoid.DelayStrategy, net *netTracker, logger *zap.Logger) *Session {
	id := uuid.New().String()
	if delays == nil {
		delays = humanoid.ZeroDelays{}
	}
	return &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		delays: delays,
		net:    net,
		logger: logger.Named("session").With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Close releases the tab. Safe to call more than once.
func (s *Session) Close() {
	s.cancel()
}

// runActions executes chromedp actions under a context that honors both the
// session lifetime and the caller's deadline.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the document to become ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating.", zap.String("url", url))

	navTimeout := s.cfg.Browser.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()

	err := s.runActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, navTimeout, navCtx.Err())
		}
		if ctx.Err() != nil || s.ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// ExecuteScript evaluates a script in the page. When the script is a
// function expression it is applied to args; a bare expression ignores args.
// The result comes back as its JSON encoding.
func (s *Session) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	expr := script
	if len(args) > 0 {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode script arguments: %w", err)
		}
		expr = fmt.Sprintf("(%s).apply(null, %s)", script, string(encoded))
	}

	opCtx, opCancel := context.WithTimeout(ctx, 30*time.Second)
	defer opCancel()

	var raw json.RawMessage
	err := s.runActions(opCtx, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("script evaluation timed out: %w", opCtx.Err())
		}
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return raw, nil
}

// WaitQuiescent waits for the page to go quiet before extraction: a bounded
// wait for inflight network requests to drain, an indicator poll that ends
// the wait early as soon as any selector matches, and a fixed settle delay.
// Exhausting the window returns ErrQuiescenceTimeout; the caller decides
// whether to proceed.
func (s *Session) WaitQuiescent(ctx context.Context, indicators []string) error {
	window := s.cfg.Browser.QuiescentWait
	if window <= 0 {
		window = 10 * time.Second
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, window)
	defer waitCancel()

	timedOut := false

	// Network idle gets at most half the window so a chatty page still
	// leaves room for the indicator poll.
	if s.net != nil {
		idleCtx, idleCancel := context.WithTimeout(waitCtx, window/2)
		idleErr := s.net.waitIdle(idleCtx, s.cfg.Browser.NetworkQuiet, s.logger)
		idleCancel()
		if idleErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			// The network never drained; the indicator poll below decides
			// whether the page is usable anyway.
			s.logger.Debug("Network did not go idle within its share of the wait window.")
		}
	}

	if err := s.pollForIndicators(waitCtx, indicators); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		timedOut = true
	}

	if settle := s.cfg.Browser.SettleDelay; settle > 0 {
		timer := time.NewTimer(settle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-timer.C:
		}
	}

	if timedOut {
		return fmt.Errorf("%w (waited %v)", ErrQuiescenceTimeout, window)
	}
	return nil
}

// pollForIndicators checks repeatedly whether any indicator is present.
func (s *Session) pollForIndicators(ctx context.Context, indicators []string) error {
	if len(indicators) == 0 {
		// Nothing to look for; treat document-ready as quiet enough.
		return s.runActions(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
	}

	selectors, err := json.Marshal(indicators)
	if err != nil {
		return err
	}
	probe := fmt.Sprintf(`(%s).some(function(sel) {
		try { return document.querySelector(sel) !== null; } catch (e) { return false; }
	})`, string(selectors))

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		var found bool
		if err := s.runActions(ctx, chromedp.Evaluate(probe, &found)); err != nil {
			return err
		}
		if found {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Click scrolls the element into view, lets the viewport settle, and clicks.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking element.", zap.String("selector", selector))

	opCtx, opCancel := context.WithTimeout(ctx, 30*time.Second)
	defer opCancel()

	err := s.runActions(opCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
	)
	if err == nil {
		if err = humanoid.Wait(opCtx, s.delays, humanoid.DelayScrollSettle); err == nil {
			err = s.runActions(opCtx, chromedp.Click(selector, chromedp.ByQuery))
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("click timed out for selector '%s': %w", selector, opCtx.Err())
		}
		return fmt.Errorf("click failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Type clears the element and enters text. Secret values go in as a single
// SendKeys so the credential never dribbles through per-key event streams;
// everything else is typed rune by rune with human-like gaps.
func (s *Session) Type(ctx context.Context, selector, text string, secret bool) error {
	s.logger.Debug("Typing into element.",
		zap.String("selector", selector),
		zap.Int("text_length", len(text)),
		zap.Bool("secret", secret))

	// Budget grows with text length under the slowest plausible cadence.
	timeout := 30*time.Second + time.Duration(len(text))*500*time.Millisecond
	if timeout > 3*time.Minute {
		timeout = 3 * time.Minute
	}
	opCtx, opCancel := context.WithTimeout(ctx, timeout)
	defer opCancel()

	if err := s.prepareField(opCtx, selector); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		return err
	}

	var err error
	if secret {
		err = s.runActions(opCtx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
	} else {
		err = s.typeHumanly(opCtx, selector, text)
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("typing timed out for selector '%s': %w", selector, opCtx.Err())
		}
		return fmt.Errorf("typing failed for selector '%s': %w", selector, err)
	}
	return nil
}

// prepareField scrolls the element into view and clears its current value.
// Clearing goes through JS rather than SetValue: a transiently
// non-interactable node fails SetValue but accepts a value assignment, and
// the dispatched events keep reactive frameworks in sync.
func (s *Session) prepareField(ctx context.Context, selector string) error {
	jsClear := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		if (!el) { return false; }
		if (el.disabled || el.readOnly) { return false; }
		try {
			el.focus();
			el.value = "";
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
		} catch (e) { return false; }
		return true;
	})(%s)`, mustEncode(selector))

	var cleared bool
	err := s.runActions(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Evaluate(jsClear, &cleared, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithSilent(true)
		}),
	)
	if err != nil {
		return fmt.Errorf("field preparation failed for selector '%s': %w", selector, err)
	}
	if !cleared {
		return fmt.Errorf("field '%s' is stale, disabled, or read-only", selector)
	}
	return humanoid.Wait(ctx, s.delays, humanoid.DelayScrollSettle)
}

// typeHumanly sends the text one rune at a time with keystroke pauses.
func (s *Session) typeHumanly(ctx context.Context, selector, text string) error {
	for _, r := range text {
		if err := s.runActions(ctx, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return err
		}
		if err := humanoid.Wait(ctx, s.delays, humanoid.DelayKeystroke); err != nil {
			return err
		}
	}
	return nil
}

// SetChecked forces the checkbox into the requested state. Direct property
// assignment plus events is used instead of a click so the outcome is
// deterministic regardless of the current state.
func (s *Session) SetChecked(ctx context.Context, selector string, checked bool) error {
	s.logger.Debug("Setting checkbox state.", zap.String("selector", selector), zap.Bool("checked", checked))

	opCtx, opCancel := context.WithTimeout(ctx, 15*time.Second)
	defer opCancel()

	jsSet := fmt.Sprintf(`(function(sel, state) {
		const el = document.querySelector(sel);
		if (!el || el.disabled) { return false; }
		if (el.checked !== state) {
			el.checked = state;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			el.dispatchEvent(new Event('click', { bubbles: true }));
		}
		return true;
	})(%s, %t)`, mustEncode(selector), checked)

	var ok bool
	err := s.runActions(opCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Evaluate(jsSet, &ok, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithSilent(true)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		return fmt.Errorf("failed to set checkbox '%s': %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("checkbox '%s' not found or disabled", selector)
	}
	return nil
}

// CurrentURL returns the page's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()

	var loc string
	if err := s.runActions(opCtx, chromedp.Location(&loc)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if s.ctx.Err() != nil {
			return "", s.ctx.Err()
		}
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return loc, nil
}

func mustEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Selectors and primitives always encode; a failure here is a bug.
		panic(fmt.Sprintf("json encoding failed: %v", err))
	}
	return string(b)
}

// combineContext derives a context canceled when either input is canceled.
// Interactions must stop on session teardown even while a caller deadline
// is still live, and vice versa.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
