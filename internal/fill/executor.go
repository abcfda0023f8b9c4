// internal/fill/executor.go
// Fill execution. The executor walks an explicit state machine over a
// verified AnalysisResult: fields in importance order, checkbox policy,
// a post-fill validation scan with one bounded retry, then submission.
// Per-plan failures are recorded and never abort the session; only context
// cancellation does.
package fill

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/browser/humanoid"
	"github.com/formpilot/formpilot-cli/internal/config"
)

//go:embed js_scripts/validation_scan.js
var validationScanScript string

// ErrSubmitNotFound reports that filling succeeded but no usable submit
// control exists. Callers treat it as a reportable condition, not a failure.
var ErrSubmitNotFound = errors.New("no usable submit control on the page")

// State names the executor's current phase, for logs and tests.
type State string

const (
	StatePreparing          State = "preparing"
	StateFillingFields      State = "filling_fields"
	StateHandlingCheckboxes State = "handling_checkboxes"
	StateValidating         State = "validating"
	StateRetrying           State = "retrying"
	StateSubmitting         State = "submitting"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Executor drives one fill session against one page.
type Executor struct {
	session schemas.PageSession
	delays  humanoid.DelayStrategy
	cfg     config.FillConfig
	logger  *zap.Logger

	// OnOutcome, when set, observes every per-plan outcome as it is
	// recorded. External collaborators (persistence, reporting) hook here.
	OnOutcome func(schemas.FillOutcome)

	state State
}

func NewExecutor(session schemas.PageSession, delays humanoid.DelayStrategy, cfg config.FillConfig, logger *zap.Logger) *Executor {
	return &Executor{
		session: session,
		delays:  delays,
		cfg:     cfg,
		logger:  logger.Named("fill"),
		state:   StatePreparing,
	}
}

// State reports the executor's current phase.
func (e *Executor) State() State { return e.state }

// filledField remembers what went into a field so the validation retry can
// re-type it.
type filledField struct {
	plan   schemas.FieldPlan
	value  string
	secret bool
}

// Execute runs the full state machine. The returned summary is valid even
// when err is non-nil: cancellation between steps leaves every outcome
// recorded so far intact.
func (e *Executor) Execute(ctx context.Context, result *schemas.AnalysisResult, data *schemas.UserData) (*schemas.SessionSummary, error) {
	summary := &schemas.SessionSummary{Outcomes: []schemas.FillOutcome{}}
	if result == nil || data == nil {
		e.setState(StateFailed)
		return summary, errors.New("fill requires an analysis result and user data")
	}

	e.setState(StatePreparing)
	traps := result.TrapSelectors()
	fields := orderFields(result.Fields)

	e.setState(StateFillingFields)
	filled, err := e.fillFields(ctx, fields, traps, data, summary)
	if err != nil {
		e.setState(StateFailed)
		return summary, err
	}

	e.setState(StateHandlingCheckboxes)
	if err := e.handleCheckboxes(ctx, result.Checkboxes, traps, summary); err != nil {
		e.setState(StateFailed)
		return summary, err
	}

	e.setState(StateValidating)
	if err := e.validate(ctx, filled, summary); err != nil {
		e.setState(StateFailed)
		return summary, err
	}

	if e.cfg.Submit {
		e.setState(StateSubmitting)
		if err := e.submit(ctx, result.SubmitButton, summary); err != nil {
			if errors.Is(err, ErrSubmitNotFound) {
				e.logger.Warn("Filling finished but no submit control was usable.")
			} else {
				e.setState(StateFailed)
				return summary, err
			}
		}
	}

	summary.Success = summary.FieldsProcessed > 0 && anySucceeded(summary.Outcomes) && summary.ValidationErrors == 0
	if summary.Success {
		e.setState(StateDone)
	} else {
		e.setState(StateFailed)
	}

	e.logger.Info("Fill session finished.",
		zap.Bool("success", summary.Success),
		zap.Int("fields", summary.FieldsProcessed),
		zap.Int("checkboxes", summary.CheckboxesProcessed),
		zap.Int("honeypots_avoided", summary.HoneypotsAvoided),
		zap.Int("validation_errors", summary.ValidationErrors),
		zap.Bool("submitted", summary.Submitted))
	return summary, nil
}

func (e *Executor) fillFields(ctx context.Context, fields []schemas.FieldPlan, traps map[string]bool, data *schemas.UserData, summary *schemas.SessionSummary) ([]filledField, error) {
	var filled []filledField
	for _, f := range fields {
		if ctx.Err() != nil {
			return filled, ctx.Err()
		}

		if f.Suspicious || traps[f.Selector] {
			summary.HoneypotsAvoided++
			e.record(summary, schemas.FillOutcome{Selector: f.Selector, Err: "skipped: flagged as honeypot"})
			continue
		}
		if !f.SelectorValid {
			e.record(summary, schemas.FillOutcome{Selector: f.Selector, Err: "skipped: selector does not resolve uniquely"})
			continue
		}
		if !f.ActuallyVisible {
			e.record(summary, schemas.FillOutcome{Selector: f.Selector, Err: "skipped: element not visible"})
			continue
		}

		value, class, secret := valueFor(f.Purpose, data)
		if value == "" {
			e.record(summary, schemas.FillOutcome{Selector: f.Selector, ValueClass: class, Err: "skipped: no value for purpose"})
			continue
		}

		if err := humanoid.Wait(ctx, e.delays, humanoid.DelayBetweenFields); err != nil {
			return filled, err
		}

		err := e.session.Type(ctx, f.Selector, value, secret)
		summary.FieldsProcessed++
		outcome := schemas.FillOutcome{Selector: f.Selector, Attempted: true, Succeeded: err == nil, ValueClass: class}
		if err != nil {
			if ctx.Err() != nil {
				e.record(summary, outcome)
				return filled, ctx.Err()
			}
			outcome.Err = err.Error()
			e.logger.Warn("Field fill failed.",
				zap.String("selector", f.Selector),
				zap.String("value_class", class),
				zap.Error(err))
		} else {
			filled = append(filled, filledField{plan: f, value: value, secret: secret})
		}
		e.record(summary, outcome)
	}
	return filled, nil
}

func (e *Executor) handleCheckboxes(ctx context.Context, boxes []schemas.CheckboxPlan, traps map[string]bool, summary *schemas.SessionSummary) error {
	for _, cb := range boxes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if cb.Suspicious || traps[cb.Selector] {
			summary.HoneypotsAvoided++
			e.record(summary, schemas.FillOutcome{Selector: cb.Selector, Err: "skipped: flagged as honeypot"})
			continue
		}
		if !cb.SelectorValid || !cb.ActuallyVisible {
			e.record(summary, schemas.FillOutcome{Selector: cb.Selector, Err: "skipped: unresolvable or invisible"})
			continue
		}

		action := decideCheckbox(cb)
		if action == actionSkip {
			continue
		}

		if err := humanoid.Wait(ctx, e.delays, humanoid.DelayBetweenFields); err != nil {
			return err
		}

		err := e.session.SetChecked(ctx, cb.Selector, action == actionCheck)
		summary.CheckboxesProcessed++
		outcome := schemas.FillOutcome{Selector: cb.Selector, Attempted: true, Succeeded: err == nil, ValueClass: "checkbox"}
		if err != nil {
			if ctx.Err() != nil {
				e.record(summary, outcome)
				return ctx.Err()
			}
			outcome.Err = err.Error()
			e.logger.Warn("Checkbox interaction failed.", zap.String("selector", cb.Selector), zap.Error(err))
		}
		e.record(summary, outcome)
	}
	return nil
}

// validate scans for visible validation failures, retries the matching
// fields once, and rescans. Whatever remains is the final error count.
func (e *Executor) validate(ctx context.Context, filled []filledField, summary *schemas.SessionSummary) error {
	messages, err := e.scanValidation(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	e.setState(StateRetrying)
	e.logger.Info("Validation failures detected; retrying matching fields once.",
		zap.Strings("messages", messages))

	retried := false
	for _, ff := range matchFailures(messages, filled) {
		if err := humanoid.Wait(ctx, e.delays, humanoid.DelayBetweenFields); err != nil {
			return err
		}
		if err := e.session.Type(ctx, ff.plan.Selector, ff.value, ff.secret); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("Validation retry failed.", zap.String("selector", ff.plan.Selector), zap.Error(err))
			continue
		}
		retried = true
	}

	if retried {
		messages, err = e.scanValidation(ctx)
		if err != nil {
			return err
		}
	}
	summary.ValidationErrors = len(messages)
	return nil
}

func (e *Executor) scanValidation(ctx context.Context) ([]string, error) {
	if e.cfg.ValidationSettle > 0 {
		if err := sleepCtx(ctx, e.cfg.ValidationSettle); err != nil {
			return nil, err
		}
	}

	raw, err := e.session.ExecuteScript(ctx, "("+validationScanScript+")()", nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A broken scan must not fail a filled form.
		e.logger.Warn("Validation scan failed; assuming no errors.", zap.Error(err))
		return nil, nil
	}

	var messages []string
	if err := json.Unmarshal(raw, &messages); err != nil {
		e.logger.Warn("Validation scan returned malformed output.", zap.Error(err))
		return nil, nil
	}
	return messages, nil
}

func (e *Executor) submit(ctx context.Context, btn *schemas.ButtonPlan, summary *schemas.SessionSummary) error {
	if btn == nil || btn.Selector == "" || !btn.SelectorValid || !btn.ActuallyVisible {
		return ErrSubmitNotFound
	}

	if err := humanoid.Wait(ctx, e.delays, humanoid.DelayPreSubmit); err != nil {
		return err
	}
	if err := e.session.Click(ctx, btn.Selector); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("submit click failed: %w", err)
	}
	summary.Submitted = true
	return nil
}

func (e *Executor) record(summary *schemas.SessionSummary, outcome schemas.FillOutcome) {
	summary.Outcomes = append(summary.Outcomes, outcome)
	if e.OnOutcome != nil {
		e.OnOutcome(outcome)
	}
}

func (e *Executor) setState(s State) {
	e.state = s
	e.logger.Debug("Executor state changed.", zap.String("state", string(s)))
}

// orderFields sorts by importance tier, keeping the analyzer's order within
// each tier.
func orderFields(fields []schemas.FieldPlan) []schemas.FieldPlan {
	out := append([]schemas.FieldPlan(nil), fields...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Importance.Rank() < out[j].Importance.Rank()
	})
	return out
}

// retryKeywords map validation-message tokens to the purposes worth
// re-typing. Anything else (server-side uniqueness, captcha) cannot be fixed
// by typing again.
var retryKeywords = map[string][]schemas.FieldPurpose{
	"email":    {schemas.PurposeEmail},
	"password": {schemas.PurposePassword, schemas.PurposePasswordConfirm},
	"match":    {schemas.PurposePassword, schemas.PurposePasswordConfirm},
	"phone":    {schemas.PurposePhone},
	"name":     {schemas.PurposeFirstName, schemas.PurposeLastName, schemas.PurposeFullName},
	"username": {schemas.PurposeUsername},
	"required": nil, // handled below: re-fill everything
}

// matchFailures selects the filled fields whose purpose a validation message
// implicates. A bare "required" complaint re-fills every field once.
func matchFailures(messages []string, filled []filledField) []filledField {
	wanted := make(map[schemas.FieldPurpose]bool)
	refillAll := false
	for _, msg := range messages {
		lower := strings.ToLower(msg)
		for token, purposes := range retryKeywords {
			if !strings.Contains(lower, token) {
				continue
			}
			if purposes == nil {
				refillAll = true
				continue
			}
			for _, p := range purposes {
				wanted[p] = true
			}
		}
	}

	var out []filledField
	for _, ff := range filled {
		if refillAll || wanted[ff.plan.Purpose] {
			out = append(out, ff)
		}
	}
	return out
}

func anySucceeded(outcomes []schemas.FillOutcome) bool {
	for _, o := range outcomes {
		if o.Attempted && o.Succeeded && o.ValueClass != "checkbox" {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
