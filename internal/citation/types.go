package citation

import "fmt"

// RawCitation is a citation record as attached to an answer by the generation backend.
// Index is the backend's own numbering and plays no part in display order.
type RawCitation struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	Filepath  string `json:"filepath,omitempty"`
	Content   string `json:"content,omitempty"`
	PartIndex *int   `json:"part_index,omitempty"`
}

// RawAnswer is an assistant message as stored: the answer text with inline citation
// markers, the citation list the markers point into, and the persisted feedback value.
// A nil entry in RawCitations is an absent record.
type RawAnswer struct {
	MessageID    string         `json:"message_id,omitempty"`
	Text         string         `json:"answer"`
	RawCitations []*RawCitation `json:"citations"`
	RawFeedback  string         `json:"feedback,omitempty"`
}

// Citation is a resolved, display-ordered citation.
type Citation struct {
	Ordinal   int    `json:"ordinal"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Filepath  string `json:"filepath,omitempty"`
	Content   string `json:"content,omitempty"`
	PartIndex *int   `json:"part_index,omitempty"`
}

// Label is the text shown for the citation in the references list.
func (c Citation) Label() string {
	if c.Title != "" {
		return c.Title
	}
	return fmt.Sprintf("Citation %d", c.Ordinal)
}

// ParsedAnswer is the rewritten markdown and the citations it references, unique by id
// and ordered by first occurrence.
type ParsedAnswer struct {
	MarkdownText string     `json:"markdown"`
	Citations    []Citation `json:"citations"`
}

// ReferenceSummary is the collapsed references caption, e.g. "3 references".
func (p ParsedAnswer) ReferenceSummary() string {
	switch len(p.Citations) {
	case 0:
		return ""
	case 1:
		return "1 reference"
	default:
		return fmt.Sprintf("%d references", len(p.Citations))
	}
}
