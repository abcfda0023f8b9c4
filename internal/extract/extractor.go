// internal/extract/extractor.go
// Page-state extraction. One pass navigates (when asked), waits for the page
// to settle, and pulls a structured snapshot of every interactive element
// through a single embedded script evaluation. The snapshot is the only
// input the rest of the pipeline sees; nothing downstream touches the live
// DOM until the fill executor runs.
package extract

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/browser"
)

//go:embed js_scripts/page_snapshot.js
var pageSnapshotScript string

// FormIndicators are the selectors whose appearance ends the quiescence wait
// early. Any one of them implies the page has rendered something fillable.
var FormIndicators = []string{
	"form",
	"input[type=email]",
	"input[type=password]",
	"button[type=submit]",
}

// Extractor turns a live page into a schemas.PageState.
type Extractor struct {
	session schemas.PageSession
	logger  *zap.Logger
}

func New(session schemas.PageSession, logger *zap.Logger) *Extractor {
	return &Extractor{
		session: session,
		logger:  logger.Named("extract"),
	}
}

// Extract navigates to url (when non-empty) and snapshots the page. A
// quiescence timeout is downgraded to a partial snapshot, never an error;
// only navigation and script failures are fatal.
func (e *Extractor) Extract(ctx context.Context, url string) (*schemas.PageState, error) {
	if url != "" {
		if err := e.session.Navigate(ctx, url); err != nil {
			return nil, fmt.Errorf("extraction navigation failed: %w", err)
		}
	}

	partial := false
	if err := e.session.WaitQuiescent(ctx, FormIndicators); err != nil {
		if errors.Is(err, browser.ErrQuiescenceTimeout) {
			e.logger.Warn("Page never went quiet; extracting a partial snapshot.", zap.Error(err))
			partial = true
		} else {
			return nil, err
		}
	}

	state, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	state.Partial = partial

	e.logger.Info("Page extracted.",
		zap.String("url", state.URL),
		zap.Int("elements", len(state.Elements)),
		zap.Bool("partial", partial))
	return state, nil
}

// Snapshot reads the current page without navigating or waiting. The fill
// executor uses it to re-read state after validation failures.
func (e *Extractor) Snapshot(ctx context.Context) (*schemas.PageState, error) {
	raw, err := e.session.ExecuteScript(ctx, "("+pageSnapshotScript+")()", nil)
	if err != nil {
		return nil, fmt.Errorf("page snapshot script failed: %w", err)
	}

	var state schemas.PageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("page snapshot produced malformed output: %w", err)
	}
	return &state, nil
}
