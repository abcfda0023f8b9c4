// internal/analysis/prompt.go
// Prompt construction for the generative analysis stage. The builder is
// total: missing or malformed page data degrades to placeholder content,
// never an error, because a weak prompt still beats no analysis at all.
package analysis

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

// truncationMarker is appended whenever the HTML excerpt is cut at the cap.
const truncationMarker = "\n<!-- [truncated] -->"

const defaultExcerptCap = 8000

// systemPrompt fixes the output contract. It is schema-first: the model is
// told exactly which keys to produce, with one worked positive and one
// worked negative example, because underspecified prompts are the main
// source of unparseable output.
const systemPrompt = `You are a form-analysis engine. You receive the state of a web page
(interactive elements plus an HTML excerpt) and return a single JSON object
describing how an automated agent should fill the page.

Respond with ONLY one JSON object, no prose and no markdown fencing, with
exactly these keys:

{
  "analysis": "<one or two sentences describing the page>",
  "confidence": <number 0..1, your certainty in this classification>,
  "pageType": "<one of: signup | login | survey | contact | unknown>",
  "fields": [
    {
      "purpose": "<one of: email | password | passwordConfirm | firstName | lastName | fullName | username | phone | company | other>",
      "selector": "<CSS selector resolving to exactly one element>",
      "elementType": "<input|textarea|select>",
      "required": <bool>,
      "importance": "<critical|important|optional>"
    }
  ],
  "checkboxes": [
    { "selector": "<CSS selector>", "labelText": "<visible label>", "required": <bool> }
  ],
  "honeypots": [
    { "selector": "<CSS selector>", "reasons": ["<why you believe it is a trap>"] }
  ],
  "submitButton": { "selector": "<CSS selector>", "text": "<button text>" }
}

Rules:
- Every selector must come from the element list you were given; never invent one.
- A field that is invisible, zero-sized, positioned far off-screen, or named
  like a decoy ("honeypot", "website" on a signup form) belongs in
  "honeypots", never in "fields".
- Email and password fields are "critical"; name fields "important";
  everything else "optional".
- If there is nothing fillable, return empty arrays rather than guessing.

Worked example (correct): an input with selector "#email" of type email,
visible and required, yields
  {"purpose":"email","selector":"#email","elementType":"input","required":true,"importance":"critical"}

Worked example (incorrect, never do this): an input named "website" with
style "position:absolute;left:-9999px" must NOT appear in "fields"; it is
  {"selector":"input[name=\"website\"]","reasons":["positioned off-screen","decoy name"]}
inside "honeypots".`

// PromptBuilder assembles bounded prompts from page state.
type PromptBuilder struct {
	excerptCap int
}

// NewPromptBuilder creates a builder with the given excerpt cap; a
// non-positive cap falls back to the default.
func NewPromptBuilder(excerptCap int) *PromptBuilder {
	if excerptCap <= 0 {
		excerptCap = defaultExcerptCap
	}
	return &PromptBuilder{excerptCap: excerptCap}
}

// SystemPrompt returns the fixed contract instruction.
func (b *PromptBuilder) SystemPrompt() string { return systemPrompt }

// UserPrompt renders the page context. A nil state produces a placeholder
// request instead of failing.
func (b *PromptBuilder) UserPrompt(state *schemas.PageState, verdicts []schemas.TrapVerdict) string {
	var sb strings.Builder

	if state == nil {
		sb.WriteString("Page context: unavailable (extraction returned nothing usable).\n")
		sb.WriteString("Return the JSON contract with empty arrays, pageType \"unknown\", and low confidence.\n")
		return sb.String()
	}

	url := state.URL
	if url == "" {
		url = "(unknown)"
	}
	title := state.Title
	if title == "" {
		title = "(untitled)"
	}

	fmt.Fprintf(&sb, "Page URL: %s\nPage title: %s\n", url, title)
	if state.Partial {
		sb.WriteString("Note: the page never went fully quiet; this snapshot may be incomplete.\n")
	}
	fmt.Fprintf(&sb, "Interactive elements found: %d\n\n", len(state.Elements))

	sb.WriteString("Element list (tag, type, selector, labels, flags):\n")
	if len(state.Elements) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, el := range state.Elements {
		flags := make([]string, 0, 3)
		if el.Required {
			flags = append(flags, "required")
		}
		if el.Disabled {
			flags = append(flags, "disabled")
		}
		fmt.Fprintf(&sb, "  - %s type=%q selector=%q labels=%q %s\n",
			el.Tag, el.InputType, el.Selector, strings.Join(el.NearbyLabels, " | "), strings.Join(flags, ","))
	}

	suspects := suspectLines(verdicts)
	if len(suspects) > 0 {
		sb.WriteString("\nDeterministic trap analysis already flagged these selectors; treat them as honeypots:\n")
		for _, line := range suspects {
			sb.WriteString("  - " + line + "\n")
		}
	}

	sb.WriteString("\nHTML excerpt (scripts, styles, and comments removed):\n")
	sb.WriteString(b.excerpt(state.HTML))
	sb.WriteString("\n\nReturn the JSON contract now.")
	return sb.String()
}

func suspectLines(verdicts []schemas.TrapVerdict) []string {
	var lines []string
	for _, v := range verdicts {
		if !v.IsTrap {
			continue
		}
		reasons := make([]string, len(v.Reasons))
		for i, r := range v.Reasons {
			reasons[i] = string(r)
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", v.Selector, strings.Join(reasons, ", ")))
	}
	return lines
}

// excerpt strips non-content nodes and enforces the hard cap. Malformed
// HTML degrades to a whitespace-collapsed raw slice rather than an error.
func (b *PromptBuilder) excerpt(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "(no HTML captured)"
	}

	cleaned, err := stripNonContent(raw)
	if err != nil || strings.TrimSpace(cleaned) == "" {
		cleaned = collapseWhitespace(raw)
	}
	if len(cleaned) > b.excerptCap {
		cut := b.excerptCap
		// Back off to a rune boundary so the cap never splits a multibyte
		// character.
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		return cleaned[:cut] + truncationMarker
	}
	return cleaned
}

// droppedElements are subtrees that carry no form semantics.
var droppedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
	"iframe":   true,
	"link":     true,
	"meta":     true,
}

// stripNonContent parses the document and re-renders it without scripts,
// styles, comments, and other noise subtrees.
func stripNonContent(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	prune(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return collapseWhitespace(buf.String()), nil
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && droppedElements[c.Data]:
			n.RemoveChild(c)
		default:
			prune(c)
		}
		c = next
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
