// internal/browser/humanoid/humanoid.go
// Human-mimicry timing for page interactions. The fill executor and the
// browser session never sleep directly; they ask a DelayStrategy for the
// pause appropriate to the action about to happen. Tests swap in ZeroDelays
// so fill sequences run instantly and deterministically.
package humanoid

import (
	"context"
	"math/rand"
	"time"

	"github.com/formpilot/formpilot-cli/internal/config"
)

// DelayKind names an interaction phase with a distinct timing profile.
type DelayKind int

const (
	// DelayKeystroke is the pause between individual key presses.
	DelayKeystroke DelayKind = iota
	// DelayBetweenFields is the pause after finishing one field and before
	// focusing the next.
	DelayBetweenFields
	// DelayScrollSettle is the pause after scrolling an element into view.
	DelayScrollSettle
	// DelayPreSubmit is the hesitation before clicking submit.
	DelayPreSubmit
)

// DelayStrategy produces the pause duration for an interaction phase.
// Implementations must be safe for use from a single goroutine at a time;
// the session serializes all page interactions.
type DelayStrategy interface {
	Delay(kind DelayKind) time.Duration
}

// Wait sleeps for the strategy's delay, returning early with the context
// error if the context is done first. A zero duration returns immediately.
func Wait(ctx context.Context, strategy DelayStrategy, kind DelayKind) error {
	d := strategy.Delay(kind)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HumanDelays draws pauses from distributions tuned to look like a person
// working through a form. Keystroke gaps follow a clipped normal
// distribution; field-to-field pauses are uniform within a configured range.
type HumanDelays struct {
	cfg config.HumanoidConfig
	rng *rand.Rand
}

// NewHumanDelays builds a strategy from configuration. A nil rng gets a
// time-seeded source.
func NewHumanDelays(cfg config.HumanoidConfig, rng *rand.Rand) *HumanDelays {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &HumanDelays{cfg: cfg, rng: rng}
}

func (h *HumanDelays) Delay(kind DelayKind) time.Duration {
	switch kind {
	case DelayKeystroke:
		ms := h.rng.NormFloat64()*h.cfg.KeyDelayStdDevMs + h.cfg.KeyDelayMeanMs
		if ms < h.cfg.KeyDelayMinMs {
			ms = h.cfg.KeyDelayMinMs
		}
		return time.Duration(ms * float64(time.Millisecond))
	case DelayBetweenFields:
		return h.uniformMs(h.cfg.FieldDelayMinMs, h.cfg.FieldDelayMaxMs)
	case DelayScrollSettle:
		// Half again the configured settle, jittered.
		base := h.cfg.ScrollSettleMs
		return h.uniformMs(base, base+base/2)
	case DelayPreSubmit:
		// People pause longest before committing.
		return h.uniformMs(h.cfg.FieldDelayMaxMs, h.cfg.FieldDelayMaxMs*2)
	default:
		return 0
	}
}

func (h *HumanDelays) uniformMs(min, max int) time.Duration {
	if max <= min {
		return time.Duration(min) * time.Millisecond
	}
	return time.Duration(min+h.rng.Intn(max-min)) * time.Millisecond
}

// ZeroDelays returns zero for every phase. Used in tests and when mimicry is
// disabled in configuration.
type ZeroDelays struct{}

func (ZeroDelays) Delay(DelayKind) time.Duration { return 0 }

// FromConfig selects the strategy the configuration asks for.
func FromConfig(cfg config.HumanoidConfig) DelayStrategy {
	if !cfg.Enabled {
		return ZeroDelays{}
	}
	return NewHumanDelays(cfg, nil)
}
