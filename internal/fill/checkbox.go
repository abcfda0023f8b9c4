// internal/fill/checkbox.go
package fill

import (
	"strings"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

// checkboxAction is the policy decision for one checkbox.
type checkboxAction int

const (
	actionSkip checkboxAction = iota
	actionCheck
	actionUncheck
)

// consentTokens mark checkboxes that gate form acceptance; these get checked.
var consentTokens = []string{"terms", "privacy", "consent", "agree", "accept", "policy", "tos"}

// marketingTokens mark opt-ins that should stay off.
var marketingTokens = []string{"newsletter", "marketing", "promotional", "promotions", "subscribe", "offers", "updates"}

// decideCheckbox applies the policy priority: consent keywords win, then
// marketing opt-outs, then a required flag, otherwise leave it alone.
func decideCheckbox(plan schemas.CheckboxPlan) checkboxAction {
	label := strings.ToLower(plan.LabelText + " " + plan.Selector)
	for _, tok := range consentTokens {
		if strings.Contains(label, tok) {
			return actionCheck
		}
	}
	for _, tok := range marketingTokens {
		if strings.Contains(label, tok) {
			return actionUncheck
		}
	}
	if plan.Required {
		return actionCheck
	}
	return actionSkip
}
