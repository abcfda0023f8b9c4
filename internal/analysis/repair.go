// internal/analysis/repair.go
// Response repair and validation. Raw model text passes through up to four
// parse strategies, and whatever object survives is normalized in a single
// boundary pass that synthesizes safe defaults for everything missing or
// mistyped. Downstream code only ever sees the fully-defaulted type.
// Malformed output degrades confidence; it never raises.
package analysis

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

// OutcomeKind tags the result of a parse attempt.
type OutcomeKind int

const (
	// OutcomeValid means the text parsed directly and needed no fixes.
	OutcomeValid OutcomeKind = iota
	// OutcomeRepaired means parsing needed unwrapping or the object needed
	// defaulted fields. The result is still usable.
	OutcomeRepaired
	// OutcomeUnrecoverable means no strategy produced a JSON object. The
	// caller is expected to switch to the fallback scanner.
	OutcomeUnrecoverable
)

// ParseOutcome is the tagged union the repair stage produces. Result is
// non-nil exactly when Kind != OutcomeUnrecoverable.
type ParseOutcome struct {
	Kind   OutcomeKind
	Result *schemas.AnalysisResult
	// Fixes lists every default synthesized during normalization, for logs.
	Fixes []string
	// Reason explains an unrecoverable outcome.
	Reason string
}

// Regexes use \x60 for backticks since Go raw strings cannot contain them.
var fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

// defaultSubmitGuess is the selector synthesized when the model omits the
// submit button entirely.
const defaultSubmitGuess = "button[type=submit]"

// placeholderAnalysis fills a missing description.
const placeholderAnalysis = "No analysis text was provided."

// rawResult mirrors the contract with every leaf loosely typed, so one
// mistyped key cannot sink the whole object.
type rawResult struct {
	Analysis     json.RawMessage `json:"analysis"`
	Confidence   json.RawMessage `json:"confidence"`
	PageType     json.RawMessage `json:"pageType"`
	Fields       json.RawMessage `json:"fields"`
	Checkboxes   json.RawMessage `json:"checkboxes"`
	Honeypots    json.RawMessage `json:"honeypots"`
	SubmitButton json.RawMessage `json:"submitButton"`
}

// Parse runs the strategy ladder over raw model text and normalizes the
// survivor. It never returns an error; total failure is OutcomeUnrecoverable.
func Parse(raw string) ParseOutcome {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ParseOutcome{Kind: OutcomeUnrecoverable, Reason: "empty response"}
	}

	candidate, strategy := extractJSON(text)
	if candidate == "" {
		return ParseOutcome{Kind: OutcomeUnrecoverable, Reason: "no JSON object found in response"}
	}

	var loose rawResult
	if err := json.Unmarshal([]byte(candidate), &loose); err != nil {
		return ParseOutcome{Kind: OutcomeUnrecoverable, Reason: fmt.Sprintf("extracted candidate is not an object: %v", err)}
	}

	result, fixes := Normalize(loose)
	kind := OutcomeValid
	if strategy != "direct" || len(fixes) > 0 {
		kind = OutcomeRepaired
	}
	if len(fixes) > 0 {
		result.Source = schemas.SourceRepaired
	} else {
		result.Source = schemas.SourceModel
	}
	return ParseOutcome{Kind: kind, Result: result, Fixes: fixes}
}

// ExtractObject exposes the strategy ladder for callers with their own
// response contract (the survey answerer). It returns the first substring
// that decodes as a JSON object.
func ExtractObject(text string) (string, bool) {
	candidate, _ := extractJSON(strings.TrimSpace(text))
	return candidate, candidate != ""
}

// extractJSON walks the strategy ladder: direct parse, fence stripping,
// balanced-substring extraction, and finally mechanical JSON repair. It
// returns the first candidate that decodes as an object, plus the strategy
// name for outcome tagging.
func extractJSON(text string) (string, string) {
	if isJSONObject(text) {
		return text, "direct"
	}

	if m := fencedObjectRegex.FindStringSubmatch(text); len(m) > 1 && isJSONObject(m[1]) {
		return m[1], "fenced"
	}

	if sub := balancedObject(text); sub != "" && isJSONObject(sub) {
		return sub, "balanced"
	}

	// Last resort: let jsonrepair fix single quotes, trailing commas,
	// unquoted keys, and similar model artifacts.
	for _, candidate := range []string{text, balancedObject(text)} {
		if candidate == "" {
			continue
		}
		if repaired, err := jsonrepair.JSONRepair(candidate); err == nil && isJSONObject(repaired) {
			return repaired, "jsonrepair"
		}
	}
	return "", ""
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var probe map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &probe) == nil
}

// balancedObject returns the first brace-balanced substring, honoring
// strings and escapes so braces inside values do not truncate the scan.
func balancedObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// Normalize performs the single boundary validation pass: every key is
// coerced or defaulted, and each synthesized default is recorded. Running it
// on an already-complete result yields zero fixes, which keeps repair
// idempotent.
func Normalize(loose rawResult) (*schemas.AnalysisResult, []string) {
	var fixes []string
	result := &schemas.AnalysisResult{}

	if s, ok := decodeString(loose.Analysis); ok && strings.TrimSpace(s) != "" {
		result.Analysis = s
	} else {
		result.Analysis = placeholderAnalysis
		fixes = append(fixes, "analysis: placeholder")
	}

	if c, ok := decodeFloat(loose.Confidence); ok {
		if c < 0 || c > 1 || math.IsNaN(c) {
			result.Confidence = clamp01(c)
			fixes = append(fixes, "confidence: clamped to [0,1]")
		} else {
			result.Confidence = c
		}
	} else {
		result.Confidence = 0.5
		fixes = append(fixes, "confidence: defaulted to 0.5")
	}

	if s, ok := decodeString(loose.PageType); ok && validPageType(schemas.PageType(s)) {
		result.PageType = schemas.PageType(s)
	} else {
		result.PageType = schemas.PageTypeUnknown
		fixes = append(fixes, "pageType: defaulted to unknown")
	}

	result.Fields, fixes = decodeFields(loose.Fields, fixes)
	result.Checkboxes, fixes = decodeCheckboxes(loose.Checkboxes, fixes)
	result.Honeypots, fixes = decodeHoneypots(loose.Honeypots, fixes)

	if btn := decodeButton(loose.SubmitButton); btn != nil {
		result.SubmitButton = btn
	} else {
		result.SubmitButton = &schemas.ButtonPlan{Selector: defaultSubmitGuess, Text: ""}
		fixes = append(fixes, "submitButton: generic selector guess")
	}

	return result, fixes
}

// NormalizeResult re-validates an assembled result (used for idempotency
// checks and for fallback output, which must satisfy the same contract).
func NormalizeResult(in *schemas.AnalysisResult) (*schemas.AnalysisResult, []string) {
	encoded, err := json.Marshal(in)
	if err != nil {
		// A result we built ourselves always marshals.
		panic(fmt.Sprintf("analysis result failed to marshal: %v", err))
	}
	var loose rawResult
	_ = json.Unmarshal(encoded, &loose)
	out, fixes := Normalize(loose)
	out.Source = in.Source
	return out, fixes
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return "", false
}

func decodeFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	// Tolerate numeric strings; models emit "0.9" often enough to matter.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var parsed float64
		if _, scanErr := fmt.Sscanf(strings.TrimSpace(s), "%g", &parsed); scanErr == nil {
			return parsed, true
		}
	}
	return 0, false
}

func decodeFields(raw json.RawMessage, fixes []string) ([]schemas.FieldPlan, []string) {
	var fields []schemas.FieldPlan
	if len(raw) == 0 {
		return []schemas.FieldPlan{}, append(fixes, "fields: defaulted to empty array")
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return []schemas.FieldPlan{}, append(fixes, "fields: unreadable, defaulted to empty array")
	}
	out := fields[:0]
	for _, f := range fields {
		if strings.TrimSpace(f.Selector) == "" {
			fixes = append(fixes, "fields: dropped entry without selector")
			continue
		}
		if !validPurpose(f.Purpose) {
			f.Purpose = schemas.PurposeOther
			fixes = append(fixes, fmt.Sprintf("fields[%s]: purpose defaulted to other", f.Selector))
		}
		if f.Importance.Rank() > schemas.ImportanceOptional.Rank() {
			f.Importance = schemas.ImportanceOptional
			fixes = append(fixes, fmt.Sprintf("fields[%s]: importance defaulted to optional", f.Selector))
		}
		out = append(out, f)
	}
	if out == nil {
		out = []schemas.FieldPlan{}
	}
	return out, fixes
}

func decodeCheckboxes(raw json.RawMessage, fixes []string) ([]schemas.CheckboxPlan, []string) {
	var boxes []schemas.CheckboxPlan
	if len(raw) == 0 {
		return []schemas.CheckboxPlan{}, append(fixes, "checkboxes: defaulted to empty array")
	}
	if err := json.Unmarshal(raw, &boxes); err != nil {
		return []schemas.CheckboxPlan{}, append(fixes, "checkboxes: unreadable, defaulted to empty array")
	}
	out := boxes[:0]
	for _, b := range boxes {
		if strings.TrimSpace(b.Selector) == "" {
			fixes = append(fixes, "checkboxes: dropped entry without selector")
			continue
		}
		out = append(out, b)
	}
	if out == nil {
		out = []schemas.CheckboxPlan{}
	}
	return out, fixes
}

func decodeHoneypots(raw json.RawMessage, fixes []string) ([]schemas.HoneypotEntry, []string) {
	var pots []schemas.HoneypotEntry
	if len(raw) == 0 {
		return []schemas.HoneypotEntry{}, append(fixes, "honeypots: defaulted to empty array")
	}
	if err := json.Unmarshal(raw, &pots); err != nil {
		return []schemas.HoneypotEntry{}, append(fixes, "honeypots: unreadable, defaulted to empty array")
	}
	out := pots[:0]
	for _, p := range pots {
		if strings.TrimSpace(p.Selector) == "" {
			fixes = append(fixes, "honeypots: dropped entry without selector")
			continue
		}
		out = append(out, p)
	}
	if out == nil {
		out = []schemas.HoneypotEntry{}
	}
	return out, fixes
}

func decodeButton(raw json.RawMessage) *schemas.ButtonPlan {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var btn schemas.ButtonPlan
	if err := json.Unmarshal(raw, &btn); err != nil || strings.TrimSpace(btn.Selector) == "" {
		return nil
	}
	return &btn
}

func validPageType(pt schemas.PageType) bool {
	switch pt {
	case schemas.PageTypeSignup, schemas.PageTypeLogin, schemas.PageTypeSurvey,
		schemas.PageTypeContact, schemas.PageTypeUnknown:
		return true
	}
	return false
}

func validPurpose(p schemas.FieldPurpose) bool {
	switch p {
	case schemas.PurposeEmail, schemas.PurposePassword, schemas.PurposePasswordConfirm,
		schemas.PurposeFirstName, schemas.PurposeLastName, schemas.PurposeFullName,
		schemas.PurposeUsername, schemas.PurposePhone, schemas.PurposeCompany, schemas.PurposeOther:
		return true
	}
	return false
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0.5
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
