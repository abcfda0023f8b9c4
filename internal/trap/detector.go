// internal/trap/detector.go
// Deterministic honeypot classification. Every rule is independently
// sufficient and contributes its own reason code; the verdict is pure state
// derived from a snapshot, recomputed on every pass. The detector's word is
// final: downstream merging never lets a generative-model claim overrule a
// positive verdict here.
package trap

import (
	"strings"
	"unicode"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

// offScreenThreshold is the pixel boundary beyond which absolute or fixed
// positioning counts as deliberate off-canvas placement.
const offScreenThreshold = 1000.0

// denylist holds tokens that mark a field as a decoy when they appear as a
// standalone token in its id, name, or class list. "website", "url", and
// "company" are common decoy names when they stand alone.
var denylist = map[string]bool{
	"honeypot":        true,
	"hpot":            true,
	"hp":              true,
	"bot":             true,
	"botcheck":        true,
	"trap":            true,
	"winnie_the_pooh": true,
	"do_not_fill":     true,
	"donotfill":       true,
	"nofill":          true,
	"spamcheck":       true,
	"website":         true,
	"url":             true,
	"company":         true,
}

// Classify derives the trap verdict for a single snapshot.
func Classify(snap schemas.ElementSnapshot) schemas.TrapVerdict {
	var reasons []schemas.TrapReason

	vis := snap.Visibility
	if styleHidden(vis) {
		reasons = append(reasons, schemas.ReasonStyleHidden)
	}
	if vis.Width <= 1 || vis.Height <= 1 {
		reasons = append(reasons, schemas.ReasonZeroSize)
	}
	if offScreen(vis) {
		reasons = append(reasons, schemas.ReasonOffScreen)
	}
	if clipCollapsed(vis.ClipPath) {
		reasons = append(reasons, schemas.ReasonClipCollapsed)
	}
	if vis.AriaHidden || vis.TabIndex < 0 {
		reasons = append(reasons, schemas.ReasonA11yHidden)
	}
	if suspiciousName(snap) {
		reasons = append(reasons, schemas.ReasonSuspiciousName)
	}
	if vis.ParentHidden {
		reasons = append(reasons, schemas.ReasonHiddenAncestor)
	}

	return schemas.TrapVerdict{
		Selector:   snap.Selector,
		IsTrap:     len(reasons) > 0,
		Reasons:    reasons,
		Confidence: confidence(len(reasons)),
	}
}

// ClassifyAll maps Classify over a snapshot list, preserving order.
func ClassifyAll(snaps []schemas.ElementSnapshot) []schemas.TrapVerdict {
	verdicts := make([]schemas.TrapVerdict, 0, len(snaps))
	for _, snap := range snaps {
		verdicts = append(verdicts, Classify(snap))
	}
	return verdicts
}

// Traps reduces a verdict list to the positive verdicts only.
func Traps(verdicts []schemas.TrapVerdict) []schemas.TrapVerdict {
	var out []schemas.TrapVerdict
	for _, v := range verdicts {
		if v.IsTrap {
			out = append(out, v)
		}
	}
	return out
}

// confidence normalizes the reason count to [0,1]. Two or more independent
// reasons saturate to certainty.
func confidence(reasons int) float64 {
	if reasons <= 0 {
		return 0
	}
	c := float64(reasons) / 2.0
	if c > 1 {
		c = 1
	}
	return c
}

func styleHidden(vis schemas.ComputedVisibility) bool {
	switch vis.Display {
	case "none":
		return true
	}
	switch vis.Visibility {
	case "hidden", "collapse":
		return true
	}
	return vis.Opacity < 0.02
}

func offScreen(vis schemas.ComputedVisibility) bool {
	if vis.Position != "absolute" && vis.Position != "fixed" {
		return false
	}
	return vis.OffsetLeft < -offScreenThreshold ||
		vis.OffsetTop < -offScreenThreshold ||
		vis.OffsetLeft > offScreenThreshold*10 ||
		vis.OffsetTop > offScreenThreshold*10
}

func clipCollapsed(clipPath string) bool {
	cp := strings.ReplaceAll(strings.ToLower(clipPath), " ", "")
	if cp == "" || cp == "none" {
		return false
	}
	// inset(100%) and inset(50%) both collapse the paint area to nothing;
	// rect(0,0,0,0) is the legacy clip equivalent.
	return strings.HasPrefix(cp, "inset(100%") ||
		strings.HasPrefix(cp, "inset(50%") ||
		strings.Contains(cp, "rect(0px,0px,0px,0px)") ||
		strings.Contains(cp, "rect(0,0,0,0)")
}

// suspiciousName tokenizes id, name, class names, and the autocomplete-ish
// placeholder, then checks each token against the denylist. Contiguous
// multi-word markers ("do_not_fill") are also checked whole.
func suspiciousName(snap schemas.ElementSnapshot) bool {
	candidates := make([]string, 0, len(snap.ClassNames)+3)
	candidates = append(candidates, snap.ID, snap.Name, snap.Placeholder)
	candidates = append(candidates, snap.ClassNames...)

	for _, c := range candidates {
		lc := strings.ToLower(strings.TrimSpace(c))
		if lc == "" {
			continue
		}
		if denylist[lc] {
			return true
		}
		for _, tok := range tokenize(lc) {
			if denylist[tok] {
				return true
			}
		}
	}
	return false
}

// tokenize splits an identifier on separators and camelCase boundaries.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for i, r := range s {
		switch {
		case r == '-' || r == '_' || r == ' ' || r == '.' || r == '[' || r == ']':
			flush()
		case unicode.IsUpper(r) && i > 0:
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
