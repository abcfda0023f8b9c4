package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/formpilot/formpilot-cli/internal/config"
)

func TestCombineContextSecondaryCancel(t *testing.T) {
	primary := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	cancelSecondary()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled after secondary cancel")
	}
}

func TestCombineContextPrimaryCancel(t *testing.T) {
	primary, cancelPrimary := context.WithCancel(context.Background())
	secondary := context.Background()

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	cancelPrimary()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled after primary cancel")
	}
}

func TestWaitIdleReturnsOnceRequestsDrain(t *testing.T) {
	tracker := newNetTracker()
	tracker.inflight["req-1"] = struct{}{}

	go func() {
		time.Sleep(50 * time.Millisecond)
		tracker.finish("req-1")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tracker.waitIdle(ctx, 20*time.Millisecond, zaptest.NewLogger(t)))
	assert.Equal(t, 0, tracker.count())
}

func TestWaitIdleTimesOutWhileRequestsInflight(t *testing.T) {
	tracker := newNetTracker()
	tracker.inflight["req-1"] = struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := tracker.waitIdle(ctx, 20*time.Millisecond, zaptest.NewLogger(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitIdleImmediatelyQuiet(t *testing.T) {
	tracker := newNetTracker()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tracker.waitIdle(ctx, 20*time.Millisecond, zaptest.NewLogger(t)))
}

func TestMustEncode(t *testing.T) {
	assert.Equal(t, `"input[name=\"email\"]"`, mustEncode(`input[name="email"]`))
	assert.Equal(t, `true`, mustEncode(true))
}

func TestExecOptionsNotEmpty(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true}
	opts := execOptions(&cfg)
	require.NotEmpty(t, opts)

	// UserAgent and TLS flags only appear when configured.
	cfg.UserAgent = "formpilot-test"
	cfg.IgnoreTLSErrors = true
	withExtras := execOptions(&cfg)
	assert.Greater(t, len(withExtras), len(opts))
}
