// api/schemas/schemas.go
package schemas

// -- Page State Extraction --

// ComputedVisibility captures the style/layout signals an ElementSnapshot
// carries so the trap detector can reason about hiding techniques without
// re-querying the live page.
type ComputedVisibility struct {
	Display    string  `json:"display"`
	Visibility string  `json:"visibility"`
	Opacity    float64 `json:"opacity"`
	Position   string  `json:"position"`
	OffsetTop  float64 `json:"offsetTop"`
	OffsetLeft float64 `json:"offsetLeft"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	ZIndex     string  `json:"zIndex"`
	ClipPath   string  `json:"clipPath"`
	Transform  string  `json:"transform"`
	TabIndex   int     `json:"tabIndex"`
	AriaHidden bool    `json:"ariaHidden"`
	// ParentHidden is set when any ancestor container is itself hidden by
	// computed style. It lets the detector inherit the parent's verdict.
	ParentHidden bool `json:"parentHidden"`
}

// BoundingBox is the element's viewport-relative rendered rectangle.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ElementSnapshot is a point-in-time structured read of one interactive DOM
// node. Snapshots are created fresh on every extraction pass and never
// mutated afterwards; every downstream stage treats them as immutable input.
type ElementSnapshot struct {
	Tag            string             `json:"tag"`
	InputType      string             `json:"inputType"`
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	ClassNames     []string           `json:"classNames"`
	Placeholder    string             `json:"placeholder"`
	CurrentValue   string             `json:"currentValue"`
	Required       bool               `json:"required"`
	Disabled       bool               `json:"disabled"`
	Visibility     ComputedVisibility `json:"visibility"`
	Box            BoundingBox        `json:"box"`
	NearbyLabels   []string           `json:"nearbyLabels"`
	AncestorFormID string             `json:"ancestorFormId,omitempty"`
	// Selector is a best-effort unique locator computed at extraction time
	// (id > name > structural path). Downstream stages re-verify it against
	// the live page before acting on it.
	Selector string `json:"selector"`
}

// -- Trap Detection --

// TrapReason is a stable code naming one independently sufficient hiding
// signal. A verdict carries every reason that fired.
type TrapReason string

const (
	ReasonStyleHidden    TrapReason = "style-hidden"
	ReasonZeroSize       TrapReason = "zero-size"
	ReasonOffScreen      TrapReason = "off-screen"
	ReasonClipCollapsed  TrapReason = "clip-collapsed"
	ReasonA11yHidden     TrapReason = "a11y-hidden"
	ReasonSuspiciousName TrapReason = "suspicious-name"
	ReasonHiddenAncestor TrapReason = "hidden-ancestor"
)

// TrapVerdict is the deterministic classification of a single snapshot.
// Verdicts are stateless and recomputed on every pass.
type TrapVerdict struct {
	Selector   string       `json:"selector"`
	IsTrap     bool         `json:"isTrap"`
	Reasons    []TrapReason `json:"reasons"`
	Confidence float64      `json:"confidence"`
}

// HasReason reports whether the verdict carries the given reason code.
func (v TrapVerdict) HasReason(r TrapReason) bool {
	for _, have := range v.Reasons {
		if have == r {
			return true
		}
	}
	return false
}

// -- Analysis Contract --

// FieldPurpose classifies what a field is for, driving value generation.
type FieldPurpose string

const (
	PurposeEmail           FieldPurpose = "email"
	PurposePassword        FieldPurpose = "password"
	PurposePasswordConfirm FieldPurpose = "passwordConfirm"
	PurposeFirstName       FieldPurpose = "firstName"
	PurposeLastName        FieldPurpose = "lastName"
	PurposeFullName        FieldPurpose = "fullName"
	PurposeUsername        FieldPurpose = "username"
	PurposePhone           FieldPurpose = "phone"
	PurposeCompany         FieldPurpose = "company"
	PurposeOther           FieldPurpose = "other"
)

// Importance orders fields for filling: critical before important before
// optional. Within a tier the insertion order is preserved.
type Importance string

const (
	ImportanceCritical  Importance = "critical"
	ImportanceImportant Importance = "important"
	ImportanceOptional  Importance = "optional"
)

// Rank maps an Importance to a sortable weight; unknown values sort last.
func (i Importance) Rank() int {
	switch i {
	case ImportanceCritical:
		return 0
	case ImportanceImportant:
		return 1
	case ImportanceOptional:
		return 2
	default:
		return 3
	}
}

// FieldPlan is the unit the fill executor consumes for one text-like input.
type FieldPlan struct {
	Purpose         FieldPurpose `json:"purpose"`
	Selector        string       `json:"selector"`
	ElementType     string       `json:"elementType"`
	Required        bool         `json:"required"`
	Importance      Importance   `json:"importance"`
	SelectorValid   bool         `json:"selectorValid"`
	ActuallyVisible bool         `json:"actuallyVisible"`
	Suspicious      bool         `json:"suspicious"`
}

// CheckboxPlan describes one checkbox plus the label text the decision
// policy keys off.
type CheckboxPlan struct {
	Selector        string `json:"selector"`
	LabelText       string `json:"labelText"`
	Required        bool   `json:"required"`
	SelectorValid   bool   `json:"selectorValid"`
	ActuallyVisible bool   `json:"actuallyVisible"`
	Suspicious      bool   `json:"suspicious"`
}

// ButtonPlan describes the submit control.
type ButtonPlan struct {
	Selector        string `json:"selector"`
	Text            string `json:"text"`
	SelectorValid   bool   `json:"selectorValid"`
	ActuallyVisible bool   `json:"actuallyVisible"`
}

// HoneypotEntry is the AnalysisResult-facing form of a trap verdict.
type HoneypotEntry struct {
	Selector   string       `json:"selector"`
	Reasons    []TrapReason `json:"reasons"`
	Confidence float64      `json:"confidence"`
}

// PageType is a coarse classification of the page being filled.
type PageType string

const (
	PageTypeSignup  PageType = "signup"
	PageTypeLogin   PageType = "login"
	PageTypeSurvey  PageType = "survey"
	PageTypeContact PageType = "contact"
	PageTypeUnknown PageType = "unknown"
)

// ResultSource records which path produced an AnalysisResult.
type ResultSource string

const (
	SourceModel    ResultSource = "model"
	SourceRepaired ResultSource = "repaired"
	SourceFallback ResultSource = "fallback"
)

// AnalysisResult is the pipeline's canonical output contract. Both the
// generative path and the fallback scanner produce this exact shape. After
// normalization the slice fields are never nil and Confidence is in [0,1].
type AnalysisResult struct {
	Analysis     string          `json:"analysis"`
	Fields       []FieldPlan     `json:"fields"`
	Checkboxes   []CheckboxPlan  `json:"checkboxes"`
	Honeypots    []HoneypotEntry `json:"honeypots"`
	SubmitButton *ButtonPlan     `json:"submitButton,omitempty"`
	Confidence   float64         `json:"confidence"`
	PageType     PageType        `json:"pageType"`
	Source       ResultSource    `json:"source"`
}

// TrapSelectors returns the set of selectors the honeypot entries cover.
// The fill executor uses this as its exclusion set.
func (r *AnalysisResult) TrapSelectors() map[string]bool {
	set := make(map[string]bool, len(r.Honeypots))
	for _, h := range r.Honeypots {
		set[h.Selector] = true
	}
	return set
}

// -- Fill Execution --

// FillOutcome is the per-plan execution record. Outcomes are aggregated into
// a SessionSummary and then discarded; persistence is a collaborator concern.
type FillOutcome struct {
	Selector   string `json:"selector"`
	Attempted  bool   `json:"attempted"`
	Succeeded  bool   `json:"succeeded"`
	ValueClass string `json:"valueClass,omitempty"`
	Err        string `json:"error,omitempty"`
}

// SessionSummary is the session output contract for callers.
type SessionSummary struct {
	Success             bool          `json:"success"`
	FieldsProcessed     int           `json:"fieldsProcessed"`
	CheckboxesProcessed int           `json:"checkboxesProcessed"`
	HoneypotsAvoided    int           `json:"honeypotsAvoided"`
	ValidationErrors    int           `json:"validationErrors"`
	Submitted           bool          `json:"submitted"`
	Outcomes            []FillOutcome `json:"outcomes"`
}

// UserData is the session input contract: the identity used to fill forms.
// Company is usually left blank; standalone company fields are a common
// decoy and an empty value is the safer default.
type UserData struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
	Company   string `json:"company,omitempty"`
}
