// internal/browser/networkidle.go
// Inflight-request tracking over CDP network events, so quiescence waits
// observe actual network activity instead of guessing from timers.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// netTracker counts the requests the page currently has in flight.
type netTracker struct {
	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
}

func newNetTracker() *netTracker {
	return &netTracker{inflight: make(map[network.RequestID]struct{})}
}

// listen subscribes the tracker to the tab's network events. network.Enable
// must be active on the same context for events to flow.
func (t *netTracker) listen(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			t.mu.Lock()
			t.inflight[e.RequestID] = struct{}{}
			t.mu.Unlock()
		case *network.EventLoadingFinished:
			t.finish(e.RequestID)
		case *network.EventLoadingFailed:
			t.finish(e.RequestID)
		}
	})
}

func (t *netTracker) finish(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

func (t *netTracker) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight)
}

// waitIdle polls until no request has been in flight for quietPeriod. The
// bound comes from the caller's context; its expiry is returned as the
// context error.
func (t *netTracker) waitIdle(ctx context.Context, quietPeriod time.Duration, logger *zap.Logger) error {
	if quietPeriod <= 0 {
		quietPeriod = 500 * time.Millisecond
	}
	ticker := time.NewTicker(quietPeriod / 2)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := t.count(); n > 0 {
				lastActivity = time.Now()
				logger.Debug("Waiting for network idle.", zap.Int("inflight_requests", n))
			} else if time.Since(lastActivity) >= quietPeriod {
				return nil
			}
		}
	}
}
