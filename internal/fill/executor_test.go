package fill

import (
	"context"
	"errors"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/browser/humanoid"
	"github.com/formpilot/formpilot-cli/internal/config"
)

type typeCall struct {
	selector string
	value    string
	secret   bool
}

type checkCall struct {
	selector string
	checked  bool
}

// fakeSession records interactions and replays scripted validation scans.
type fakeSession struct {
	typed   []typeCall
	checked []checkCall
	clicked []string

	typeErr map[string]error
	// scans holds successive validation scan results; the last entry
	// repeats once exhausted.
	scans     [][]string
	scanCalls int
}

var _ schemas.PageSession = (*fakeSession)(nil)

func (f *fakeSession) Navigate(context.Context, string) error        { return nil }
func (f *fakeSession) WaitQuiescent(context.Context, []string) error { return nil }

func (f *fakeSession) ExecuteScript(context.Context, string, []interface{}) (json.RawMessage, error) {
	messages := []string{}
	if len(f.scans) > 0 {
		idx := f.scanCalls
		if idx >= len(f.scans) {
			idx = len(f.scans) - 1
		}
		messages = f.scans[idx]
	}
	f.scanCalls++
	return json.Marshal(messages)
}

func (f *fakeSession) Click(_ context.Context, selector string) error {
	f.clicked = append(f.clicked, selector)
	return nil
}

func (f *fakeSession) Type(_ context.Context, selector, value string, secret bool) error {
	if err, ok := f.typeErr[selector]; ok {
		return err
	}
	f.typed = append(f.typed, typeCall{selector: selector, value: value, secret: secret})
	return nil
}

func (f *fakeSession) SetChecked(_ context.Context, selector string, checked bool) error {
	f.checked = append(f.checked, checkCall{selector: selector, checked: checked})
	return nil
}

func (f *fakeSession) CurrentURL(context.Context) (string, error) { return "", nil }

func testUserData() *schemas.UserData {
	return &schemas.UserData{
		Email:     "casey.turner.42@example.com",
		Password:  "S3cret!Password+x",
		FirstName: "Casey",
		LastName:  "Turner",
		Username:  "casey_turner_42",
		Phone:     "555-0142",
	}
}

func verifiedField(purpose schemas.FieldPurpose, selector string, importance schemas.Importance) schemas.FieldPlan {
	return schemas.FieldPlan{
		Purpose: purpose, Selector: selector, ElementType: "input",
		Importance: importance, SelectorValid: true, ActuallyVisible: true,
	}
}

func signupResult() *schemas.AnalysisResult {
	return &schemas.AnalysisResult{
		Fields: []schemas.FieldPlan{
			verifiedField(schemas.PurposeFirstName, "#first", schemas.ImportanceImportant),
			verifiedField(schemas.PurposeEmail, "#email", schemas.ImportanceCritical),
			verifiedField(schemas.PurposePassword, "#pw", schemas.ImportanceCritical),
		},
		Checkboxes: []schemas.CheckboxPlan{
			{Selector: "#tos", LabelText: "I agree to the Terms of Service", SelectorValid: true, ActuallyVisible: true},
		},
		Honeypots:    []schemas.HoneypotEntry{},
		SubmitButton: &schemas.ButtonPlan{Selector: "#go", Text: "Sign Up", SelectorValid: true, ActuallyVisible: true},
		PageType:     schemas.PageTypeSignup,
		Source:       schemas.SourceModel,
	}
}

func newTestExecutor(t *testing.T, session *fakeSession, cfg config.FillConfig) *Executor {
	t.Helper()
	return NewExecutor(session, humanoid.ZeroDelays{}, cfg, zaptest.NewLogger(t))
}

func TestExecuteFillsInImportanceOrder(t *testing.T) {
	session := &fakeSession{}
	e := newTestExecutor(t, session, config.FillConfig{})

	summary, err := e.Execute(context.Background(), signupResult(), testUserData())
	require.NoError(t, err)

	require.Len(t, session.typed, 3)
	// Critical fields first, analyzer order preserved within a tier.
	assert.Equal(t, "#email", session.typed[0].selector)
	assert.Equal(t, "#pw", session.typed[1].selector)
	assert.Equal(t, "#first", session.typed[2].selector)

	assert.False(t, session.typed[0].secret)
	assert.True(t, session.typed[1].secret, "passwords are typed as secrets")

	assert.True(t, summary.Success)
	assert.Equal(t, 3, summary.FieldsProcessed)
	assert.Equal(t, StateDone, e.State())
}

func TestExecuteSkipsTrapsAndUnverified(t *testing.T) {
	result := signupResult()
	result.Fields = append(result.Fields,
		schemas.FieldPlan{Purpose: schemas.PurposeOther, Selector: `input[name="website"]`, Suspicious: true, SelectorValid: true, ActuallyVisible: true},
		schemas.FieldPlan{Purpose: schemas.PurposeUsername, Selector: "#ghost", SelectorValid: false},
		schemas.FieldPlan{Purpose: schemas.PurposePhone, Selector: "#hidden-phone", SelectorValid: true, ActuallyVisible: false},
	)
	result.Honeypots = append(result.Honeypots, schemas.HoneypotEntry{Selector: "#hp"})
	result.Fields = append(result.Fields,
		schemas.FieldPlan{Purpose: schemas.PurposeOther, Selector: "#hp", SelectorValid: true, ActuallyVisible: true})

	session := &fakeSession{}
	summary, err := newTestExecutor(t, session, config.FillConfig{}).Execute(context.Background(), result, testUserData())
	require.NoError(t, err)

	for _, call := range session.typed {
		assert.NotContains(t, []string{`input[name="website"]`, "#ghost", "#hidden-phone", "#hp"}, call.selector)
	}
	assert.Equal(t, 2, summary.HoneypotsAvoided)
	assert.Equal(t, 3, summary.FieldsProcessed, "only verified, safe fields are attempted")
	assert.True(t, summary.Success)
}

func TestExecuteCheckboxPolicy(t *testing.T) {
	result := signupResult()
	result.Checkboxes = []schemas.CheckboxPlan{
		{Selector: "#tos", LabelText: "I accept the terms", SelectorValid: true, ActuallyVisible: true},
		{Selector: "#news", LabelText: "Send me the newsletter", SelectorValid: true, ActuallyVisible: true},
		{Selector: "#req", LabelText: "Mystery box", Required: true, SelectorValid: true, ActuallyVisible: true},
		{Selector: "#opt", LabelText: "Mystery box", SelectorValid: true, ActuallyVisible: true},
	}

	session := &fakeSession{}
	summary, err := newTestExecutor(t, session, config.FillConfig{}).Execute(context.Background(), result, testUserData())
	require.NoError(t, err)

	require.Len(t, session.checked, 3)
	assert.Equal(t, checkCall{"#tos", true}, session.checked[0])
	assert.Equal(t, checkCall{"#news", false}, session.checked[1])
	assert.Equal(t, checkCall{"#req", true}, session.checked[2])
	assert.Equal(t, 3, summary.CheckboxesProcessed)
}

func TestExecuteValidationRetryClearsErrors(t *testing.T) {
	session := &fakeSession{scans: [][]string{
		{"Please enter a valid email address"},
		{},
	}}
	summary, err := newTestExecutor(t, session, config.FillConfig{}).Execute(context.Background(), signupResult(), testUserData())
	require.NoError(t, err)

	// The email field was typed twice: initial fill plus the retry.
	emailFills := 0
	for _, call := range session.typed {
		if call.selector == "#email" {
			emailFills++
		}
	}
	assert.Equal(t, 2, emailFills)
	assert.Equal(t, 0, summary.ValidationErrors)
	assert.True(t, summary.Success)
}

func TestExecuteUnresolvedValidationFailsSession(t *testing.T) {
	session := &fakeSession{scans: [][]string{
		{"Password does not meet requirements"},
		{"Password does not meet requirements"},
	}}
	e := newTestExecutor(t, session, config.FillConfig{})
	summary, err := e.Execute(context.Background(), signupResult(), testUserData())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ValidationErrors)
	assert.False(t, summary.Success)
	assert.Equal(t, StateFailed, e.State())
}

func TestExecuteSubmitsWhenConfigured(t *testing.T) {
	session := &fakeSession{}
	summary, err := newTestExecutor(t, session, config.FillConfig{Submit: true}).
		Execute(context.Background(), signupResult(), testUserData())
	require.NoError(t, err)

	assert.Equal(t, []string{"#go"}, session.clicked)
	assert.True(t, summary.Submitted)
}

func TestExecuteMissingSubmitIsNotFatal(t *testing.T) {
	result := signupResult()
	result.SubmitButton = nil

	session := &fakeSession{}
	summary, err := newTestExecutor(t, session, config.FillConfig{Submit: true}).
		Execute(context.Background(), result, testUserData())
	require.NoError(t, err)

	assert.Empty(t, session.clicked)
	assert.False(t, summary.Submitted)
	assert.True(t, summary.Success, "filling succeeded even though nothing was submittable")
}

func TestExecuteInvalidSubmitSelectorIsNotFatal(t *testing.T) {
	result := signupResult()
	result.SubmitButton.SelectorValid = false

	session := &fakeSession{}
	summary, err := newTestExecutor(t, session, config.FillConfig{Submit: true}).
		Execute(context.Background(), result, testUserData())
	require.NoError(t, err)
	assert.False(t, summary.Submitted)
}

func TestExecuteHiddenSubmitIsNotClicked(t *testing.T) {
	result := signupResult()
	result.SubmitButton.ActuallyVisible = false

	session := &fakeSession{}
	summary, err := newTestExecutor(t, session, config.FillConfig{Submit: true}).
		Execute(context.Background(), result, testUserData())
	require.NoError(t, err)

	assert.Empty(t, session.clicked)
	assert.False(t, summary.Submitted)
	assert.True(t, summary.Success)
}

func TestExecuteRecordsFieldFailures(t *testing.T) {
	session := &fakeSession{typeErr: map[string]error{"#first": errors.New("node detached")}}
	summary, err := newTestExecutor(t, session, config.FillConfig{}).
		Execute(context.Background(), signupResult(), testUserData())
	require.NoError(t, err)

	var failed *schemas.FillOutcome
	for i := range summary.Outcomes {
		if summary.Outcomes[i].Selector == "#first" {
			failed = &summary.Outcomes[i]
		}
	}
	require.NotNil(t, failed)
	assert.True(t, failed.Attempted)
	assert.False(t, failed.Succeeded)
	assert.Contains(t, failed.Err, "node detached")

	// Other fields still landed, so the session survives.
	assert.True(t, summary.Success)
}

func TestExecuteFiresOutcomeHook(t *testing.T) {
	session := &fakeSession{}
	e := newTestExecutor(t, session, config.FillConfig{})
	var seen []schemas.FillOutcome
	e.OnOutcome = func(o schemas.FillOutcome) { seen = append(seen, o) }

	summary, err := e.Execute(context.Background(), signupResult(), testUserData())
	require.NoError(t, err)
	assert.Equal(t, summary.Outcomes, seen)
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestExecutor(t, &fakeSession{}, config.FillConfig{})
	summary, err := e.Execute(ctx, signupResult(), testUserData())

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary, "partial summary stays valid on cancellation")
	assert.Equal(t, StateFailed, e.State())
}

func TestExecuteNilInputs(t *testing.T) {
	e := newTestExecutor(t, &fakeSession{}, config.FillConfig{})
	_, err := e.Execute(context.Background(), nil, testUserData())
	assert.Error(t, err)
}

func TestMatchFailures(t *testing.T) {
	filled := []filledField{
		{plan: schemas.FieldPlan{Purpose: schemas.PurposeEmail, Selector: "#email"}, value: "a@b.c"},
		{plan: schemas.FieldPlan{Purpose: schemas.PurposePassword, Selector: "#pw"}, value: "x", secret: true},
		{plan: schemas.FieldPlan{Purpose: schemas.PurposePhone, Selector: "#phone"}, value: "555"},
	}

	matched := matchFailures([]string{"Passwords do not match"}, filled)
	require.Len(t, matched, 1)
	assert.Equal(t, "#pw", matched[0].plan.Selector)

	matched = matchFailures([]string{"This field is required"}, filled)
	assert.Len(t, matched, 3, "a bare required complaint re-fills everything")

	matched = matchFailures([]string{"Captcha verification failed"}, filled)
	assert.Empty(t, matched)
}
