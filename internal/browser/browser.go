// internal/browser/browser.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/browser/humanoid"
	"github.com/formpilot/formpilot-cli/internal/config"
)

// Browser owns a headless Chrome process via chromedp's exec allocator.
// Sessions (tabs) are created from it and share the process.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         *config.Config
}

// Launch starts the browser process. The returned Browser must be closed to
// reap the process; Close also tears down any sessions still open.
func Launch(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Browser, error) {
	opts := execOptions(&cfg.Browser)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	b := &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("browser"),
		cfg:         cfg,
	}
	return b, nil
}

// execOptions maps browser configuration onto chromedp allocator flags.
func execOptions(cfg *config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	return opts
}

// NewSession opens a fresh tab and returns the Session driving it. The
// session owns the tab exclusively until Close.
func (b *Browser) NewSession(delays humanoid.DelayStrategy) (*Session, error) {
	var ctxOpts []chromedp.ContextOption
	if b.cfg.Browser.Debug {
		sugar := b.logger.Sugar()
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx, ctxOpts...)

	// Connect the target eagerly so session construction surfaces launch
	// failures instead of the first interaction. Network events are enabled
	// up front so the idle tracker sees requests from the first navigation.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	tracker := newNetTracker()
	tracker.listen(tabCtx)

	return newSession(tabCtx, tabCancel, b.cfg, delays, tracker, b.logger), nil
}

// Close shuts the browser process down. Safe to call once.
func (b *Browser) Close() {
	b.logger.Debug("Shutting down browser process.")
	b.allocCancel()
}
