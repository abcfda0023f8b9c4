package analysis

import (
	"context"
	"errors"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

func verifiableResult() *schemas.AnalysisResult {
	return &schemas.AnalysisResult{
		Fields: []schemas.FieldPlan{
			{Purpose: schemas.PurposeEmail, Selector: "#email"},
			{Purpose: schemas.PurposePassword, Selector: ".pw-input"},
		},
		Checkboxes: []schemas.CheckboxPlan{
			{Selector: `input[name="newsletter"]`},
		},
		Honeypots:    []schemas.HoneypotEntry{},
		SubmitButton: &schemas.ButtonPlan{Selector: "#signup-btn", Text: "Sign Up"},
	}
}

func TestVerifyAnnotatesPlans(t *testing.T) {
	session := &mockSession{probes: map[string]probeResult{
		// Class selector matches two inputs: not unique, therefore invalid.
		".pw-input": {Count: 2, Visible: false},
		// Resolvable but hidden at render time.
		`input[name="newsletter"]`: {Count: 1, Visible: false},
	}}
	result := verifiableResult()

	err := NewVerifier(session, zaptest.NewLogger(t)).Verify(context.Background(), result)
	require.NoError(t, err)

	assert.True(t, result.Fields[0].SelectorValid)
	assert.True(t, result.Fields[0].ActuallyVisible)

	assert.False(t, result.Fields[1].SelectorValid)
	assert.False(t, result.Fields[1].ActuallyVisible)

	assert.True(t, result.Checkboxes[0].SelectorValid)
	assert.False(t, result.Checkboxes[0].ActuallyVisible)

	assert.True(t, result.SubmitButton.SelectorValid)
	assert.True(t, result.SubmitButton.ActuallyVisible)
}

func TestVerifyZeroMatchesIsInvalid(t *testing.T) {
	session := &mockSession{probes: map[string]probeResult{
		"#email": {Count: 0, Visible: false},
	}}
	result := verifiableResult()

	err := NewVerifier(session, zaptest.NewLogger(t)).Verify(context.Background(), result)
	require.NoError(t, err)
	assert.False(t, result.Fields[0].SelectorValid)
}

type failingSession struct {
	mockSession
	err error
}

func (f *failingSession) ExecuteScript(context.Context, string, []interface{}) (json.RawMessage, error) {
	return nil, f.err
}

func TestVerifyDowngradesScriptFailure(t *testing.T) {
	session := &failingSession{err: errors.New("evaluate failed")}
	result := verifiableResult()

	err := NewVerifier(session, zaptest.NewLogger(t)).Verify(context.Background(), result)
	require.NoError(t, err, "a flaky probe marks the selector invalid, not the pass failed")
	assert.False(t, result.Fields[0].SelectorValid)
	assert.False(t, result.SubmitButton.SelectorValid)
}

func TestVerifyAbortsOnContextCancel(t *testing.T) {
	session := &failingSession{err: errors.New("evaluate failed")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewVerifier(session, zaptest.NewLogger(t)).Verify(ctx, verifiableResult())
	assert.ErrorIs(t, err, context.Canceled)
}
