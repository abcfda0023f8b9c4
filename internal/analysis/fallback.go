// internal/analysis/fallback.go
// Deterministic fallback scanner. When the generative path fails outright,
// this produces the identical AnalysisResult contract from nothing but the
// snapshot: rule-based purpose inference over name/id/placeholder/label
// tokens plus the same trap rules, with confidence capped below the
// generative path's typical range.
package analysis

import (
	"strings"

	"github.com/formpilot/formpilot-cli/api/schemas"
	"github.com/formpilot/formpilot-cli/internal/trap"
)

// fallbackConfidenceCap bounds how sure the heuristic path ever claims to be.
const fallbackConfidenceCap = 0.8

// Scanner is stateless; one instance serves any number of pages.
type Scanner struct {
	confidenceCap float64
}

// NewScanner builds a scanner. A non-positive or out-of-range cap falls back
// to the default.
func NewScanner(confidenceCap float64) *Scanner {
	if confidenceCap <= 0 || confidenceCap > fallbackConfidenceCap {
		confidenceCap = fallbackConfidenceCap
	}
	return &Scanner{confidenceCap: confidenceCap}
}

// Scan classifies the snapshot without the model. The output satisfies the
// same structural contract as the repaired generative output.
func (s *Scanner) Scan(state *schemas.PageState) *schemas.AnalysisResult {
	result := &schemas.AnalysisResult{
		Analysis:   "Heuristic scan (generative analysis unavailable).",
		Fields:     []schemas.FieldPlan{},
		Checkboxes: []schemas.CheckboxPlan{},
		Honeypots:  []schemas.HoneypotEntry{},
		PageType:   schemas.PageTypeUnknown,
		Source:     schemas.SourceFallback,
	}
	if state == nil {
		result.Confidence = 0.1
		return result
	}

	verdicts := trap.ClassifyAll(state.Elements)
	trapped := make(map[string]bool)
	for _, v := range verdicts {
		if v.IsTrap {
			trapped[v.Selector] = true
			result.Honeypots = append(result.Honeypots, schemas.HoneypotEntry{
				Selector:   v.Selector,
				Reasons:    v.Reasons,
				Confidence: v.Confidence,
			})
		}
	}

	var sawPassword, sawEmail bool
	var submit *schemas.ButtonPlan

	for _, el := range state.Elements {
		if el.Disabled || trapped[el.Selector] {
			continue
		}
		switch el.Tag {
		case "input":
			switch el.InputType {
			case "hidden", "submit", "button", "image", "reset", "file":
				if el.InputType == "submit" && submit == nil {
					submit = &schemas.ButtonPlan{Selector: el.Selector, Text: firstLabel(el)}
				}
				continue
			case "checkbox":
				result.Checkboxes = append(result.Checkboxes, schemas.CheckboxPlan{
					Selector:  el.Selector,
					LabelText: strings.Join(el.NearbyLabels, " "),
					Required:  el.Required,
				})
				continue
			case "radio":
				continue
			}
			purpose := inferPurpose(el)
			if purpose == schemas.PurposeEmail {
				sawEmail = true
			}
			if purpose == schemas.PurposePassword || purpose == schemas.PurposePasswordConfirm {
				sawPassword = true
			}
			result.Fields = append(result.Fields, schemas.FieldPlan{
				Purpose:     purpose,
				Selector:    el.Selector,
				ElementType: el.Tag,
				Required:    el.Required,
				Importance:  importanceFor(purpose),
			})
		case "textarea", "select":
			result.Fields = append(result.Fields, schemas.FieldPlan{
				Purpose:     inferPurpose(el),
				Selector:    el.Selector,
				ElementType: el.Tag,
				Required:    el.Required,
				Importance:  schemas.ImportanceOptional,
			})
		case "button":
			if submit == nil && isSubmitControl(el) {
				submit = &schemas.ButtonPlan{Selector: el.Selector, Text: firstLabel(el)}
			}
		}
	}

	result.SubmitButton = submit
	result.PageType = inferPageType(state, sawEmail, sawPassword)
	result.Confidence = s.score(result)

	// The fallback must honor the same contract as the repaired model path.
	normalized, _ := NormalizeResult(result)
	normalized.Source = schemas.SourceFallback
	return normalized
}

// score reflects how much signal the heuristics actually found, capped below
// the generative range.
func (s *Scanner) score(result *schemas.AnalysisResult) float64 {
	c := 0.3
	if len(result.Fields) > 0 {
		c += 0.2
	}
	if result.SubmitButton != nil {
		c += 0.1
	}
	if result.PageType != schemas.PageTypeUnknown {
		c += 0.2
	}
	if c > s.confidenceCap {
		c = s.confidenceCap
	}
	return c
}

// purposeRules map token sets to purposes, most specific first. A rule
// matches when every token appears in the element's combined text.
var purposeRules = []struct {
	tokens  []string
	purpose schemas.FieldPurpose
}{
	{[]string{"confirm", "password"}, schemas.PurposePasswordConfirm},
	{[]string{"password", "repeat"}, schemas.PurposePasswordConfirm},
	{[]string{"verify", "password"}, schemas.PurposePasswordConfirm},
	{[]string{"password"}, schemas.PurposePassword},
	{[]string{"email"}, schemas.PurposeEmail},
	{[]string{"e-mail"}, schemas.PurposeEmail},
	{[]string{"first", "name"}, schemas.PurposeFirstName},
	{[]string{"fname"}, schemas.PurposeFirstName},
	{[]string{"given", "name"}, schemas.PurposeFirstName},
	{[]string{"last", "name"}, schemas.PurposeLastName},
	{[]string{"lname"}, schemas.PurposeLastName},
	{[]string{"surname"}, schemas.PurposeLastName},
	{[]string{"family", "name"}, schemas.PurposeLastName},
	{[]string{"full", "name"}, schemas.PurposeFullName},
	{[]string{"username"}, schemas.PurposeUsername},
	{[]string{"user", "name"}, schemas.PurposeUsername},
	{[]string{"login"}, schemas.PurposeUsername},
	{[]string{"phone"}, schemas.PurposePhone},
	{[]string{"mobile"}, schemas.PurposePhone},
	{[]string{"tel"}, schemas.PurposePhone},
	{[]string{"company"}, schemas.PurposeCompany},
	{[]string{"organization"}, schemas.PurposeCompany},
	{[]string{"organisation"}, schemas.PurposeCompany},
	{[]string{"name"}, schemas.PurposeFullName},
}

// inferPurpose classifies by input type first, then token rules over the
// element's identifying text.
func inferPurpose(el schemas.ElementSnapshot) schemas.FieldPurpose {
	switch el.InputType {
	case "email":
		return schemas.PurposeEmail
	case "tel":
		return schemas.PurposePhone
	}

	haystack := strings.ToLower(strings.Join(append([]string{
		el.ID, el.Name, el.Placeholder, strings.Join(el.ClassNames, " "),
	}, el.NearbyLabels...), " "))

	if el.InputType == "password" {
		for _, tok := range []string{"confirm", "repeat", "verify", "again"} {
			if strings.Contains(haystack, tok) {
				return schemas.PurposePasswordConfirm
			}
		}
		return schemas.PurposePassword
	}

	for _, rule := range purposeRules {
		matched := true
		for _, tok := range rule.tokens {
			if !strings.Contains(haystack, tok) {
				matched = false
				break
			}
		}
		if matched {
			return rule.purpose
		}
	}
	return schemas.PurposeOther
}

// importanceFor fixes the fill ordering tier per purpose: credentials are
// critical, identity fields important, everything else optional.
func importanceFor(p schemas.FieldPurpose) schemas.Importance {
	switch p {
	case schemas.PurposeEmail, schemas.PurposePassword, schemas.PurposePasswordConfirm:
		return schemas.ImportanceCritical
	case schemas.PurposeFirstName, schemas.PurposeLastName, schemas.PurposeFullName, schemas.PurposeUsername:
		return schemas.ImportanceImportant
	default:
		return schemas.ImportanceOptional
	}
}

func isSubmitControl(el schemas.ElementSnapshot) bool {
	if el.InputType == "submit" || el.InputType == "" {
		text := strings.ToLower(strings.Join(el.NearbyLabels, " "))
		for _, tok := range []string{"sign up", "signup", "register", "create", "submit", "continue", "join", "log in", "login", "send"} {
			if strings.Contains(text, tok) {
				return true
			}
		}
		// A lone typeless button inside a form defaults to submit.
		return el.InputType == "submit" || el.AncestorFormID != ""
	}
	return false
}

func inferPageType(state *schemas.PageState, sawEmail, sawPassword bool) schemas.PageType {
	haystack := strings.ToLower(state.URL + " " + state.Title)
	switch {
	case containsAny(haystack, "signup", "sign-up", "register", "join", "create-account", "create account"):
		return schemas.PageTypeSignup
	case containsAny(haystack, "login", "log-in", "signin", "sign-in"):
		return schemas.PageTypeLogin
	case containsAny(haystack, "survey", "poll", "questionnaire", "feedback"):
		return schemas.PageTypeSurvey
	case containsAny(haystack, "contact"):
		return schemas.PageTypeContact
	case sawEmail && sawPassword:
		return schemas.PageTypeSignup
	default:
		return schemas.PageTypeUnknown
	}
}

func containsAny(s string, tokens ...string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func firstLabel(el schemas.ElementSnapshot) string {
	if len(el.NearbyLabels) > 0 {
		return el.NearbyLabels[0]
	}
	return ""
}
