// api/schemas/page.go
package schemas

// PageState is the complete structured read of a page produced by one
// extraction pass: the document identity, a raw HTML copy for prompt
// building, and a snapshot per interactive element.
type PageState struct {
	URL      string            `json:"url"`
	Title    string            `json:"title"`
	HTML     string            `json:"html"`
	Elements []ElementSnapshot `json:"elements"`
	// Partial is set when the quiescence wait timed out and the snapshot was
	// taken from whatever the page held at that moment.
	Partial bool `json:"partial"`
}
