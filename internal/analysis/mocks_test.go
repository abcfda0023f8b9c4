package analysis

import (
	"context"

	json "github.com/json-iterator/go"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

// mockLLM returns a scripted response or error for every Generate call.
type mockLLM struct {
	response string
	err      error
	calls    int
}

func (m *mockLLM) Generate(context.Context, schemas.GenerationRequest) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

// mockSession implements the probe surface of PageSession. probes maps a
// selector to its {count, visible} answer; unknown selectors resolve to a
// unique visible match.
type mockSession struct {
	probes map[string]probeResult
}

var _ schemas.PageSession = (*mockSession)(nil)

func (m *mockSession) ExecuteScript(_ context.Context, _ string, args []interface{}) (json.RawMessage, error) {
	res := probeResult{Count: 1, Visible: true}
	if len(args) == 1 {
		if sel, ok := args[0].(string); ok {
			if scripted, found := m.probes[sel]; found {
				res = scripted
			}
		}
	}
	return json.Marshal(res)
}

func (m *mockSession) Navigate(context.Context, string) error            { return nil }
func (m *mockSession) WaitQuiescent(context.Context, []string) error     { return nil }
func (m *mockSession) Click(context.Context, string) error               { return nil }
func (m *mockSession) Type(context.Context, string, string, bool) error  { return nil }
func (m *mockSession) SetChecked(context.Context, string, bool) error    { return nil }
func (m *mockSession) CurrentURL(context.Context) (string, error)        { return "", nil }

// signupState is a small but representative page: email, password, a
// newsletter checkbox, an off-screen decoy, and a submit button.
func signupState() *schemas.PageState {
	visible := schemas.ComputedVisibility{
		Display: "block", Visibility: "visible", Opacity: 1,
		Position: "static", Width: 200, Height: 32,
	}
	return &schemas.PageState{
		URL:   "https://example.com/signup",
		Title: "Create your account",
		HTML:  `<html><body><form id="reg"><input id="email"><input id="pw" type="password"></form></body></html>`,
		Elements: []schemas.ElementSnapshot{
			{
				Tag: "input", InputType: "email", ID: "email", Name: "email",
				Required: true, Selector: "#email", Visibility: visible,
				NearbyLabels: []string{"Email address"},
			},
			{
				Tag: "input", InputType: "password", ID: "pw", Name: "password",
				Required: true, Selector: "#pw", Visibility: visible,
				NearbyLabels: []string{"Password"},
			},
			{
				Tag: "input", InputType: "checkbox", Name: "newsletter",
				Selector: "input[name=\"newsletter\"]", Visibility: visible,
				NearbyLabels: []string{"Subscribe to our newsletter"},
			},
			{
				Tag: "input", InputType: "text", Name: "website",
				Selector: "input[name=\"website\"]",
				Visibility: schemas.ComputedVisibility{
					Display: "block", Visibility: "visible", Opacity: 1,
					Position: "absolute", OffsetLeft: -9999, Width: 200, Height: 32,
				},
			},
			{
				Tag: "button", InputType: "submit", Selector: "#signup-btn",
				Visibility: visible, NearbyLabels: []string{"Sign Up"},
				AncestorFormID: "reg",
			},
		},
	}
}

// validModelJSON is a complete, contract-conforming model response for
// signupState.
const validModelJSON = `{
  "analysis": "Standard signup form with email and password.",
  "confidence": 0.92,
  "pageType": "signup",
  "fields": [
    {"purpose": "email", "selector": "#email", "elementType": "input", "required": true, "importance": "critical"},
    {"purpose": "password", "selector": "#pw", "elementType": "input", "required": true, "importance": "critical"}
  ],
  "checkboxes": [
    {"selector": "input[name=\"newsletter\"]", "labelText": "Subscribe to our newsletter", "required": false}
  ],
  "honeypots": [],
  "submitButton": {"selector": "#signup-btn", "text": "Sign Up"}
}`
