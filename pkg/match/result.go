// Package match maps slide evidence onto the elements of a registry.
package match

import (
	"time"

	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/extract"
)

// Preview lengths, in runes.
const (
	EvidencePreviewLength  = 200
	UnmatchedPreviewLength = 300
)

// SecondaryReference labels evidence produced by a non-primary reference.
const SecondaryReference = "secondary_reference"

// Unmatched reasons.
const (
	ReasonNoReference = "No element reference found"
)

// EvidenceEntry links one slide to one element.
type EvidenceEntry struct {
	SlideIndex  int    `json:"slide_index"`
	SourceFile  string `json:"source_file"`
	SourceIndex int    `json:"source_index"`

	FullText    string `json:"full_text"`
	TextPreview string `json:"text_preview"`

	// MatchPattern is the wire name of the primary pattern kind for the
	// primary entry and SecondaryReference otherwise.
	MatchPattern       string       `json:"match_pattern"`
	AllElementsInSlide []element.ID `json:"all_elements_in_slide"`
	IsPrimaryMatch     bool         `json:"is_primary_match"`
}

// MatchedElement is a registry entry together with its evidence. Every
// registry entry appears exactly once in a Result, with or without evidence.
type MatchedElement struct {
	ElementID       element.ID      `json:"element_id"`
	AskLookFor      string          `json:"ask_look_for"`
	CalibratorNotes string          `json:"calibrator_notes"`
	Evidence        []EvidenceEntry `json:"evidence"`
	EvidenceCount   int             `json:"evidence_count"`
}

// UnmatchedSlide records a non-blank slide that produced no evidence.
type UnmatchedSlide struct {
	SlideIndex  int    `json:"slide_index"`
	TextPreview string `json:"text_preview"`
	Reason      string `json:"reason"`
}

// Statistics are the counters of one matching pass.
type Statistics struct {
	TotalSlides             int `json:"total_slides"`
	MatchedSlides           int `json:"matched_slides"`
	UnmatchedSlides         int `json:"unmatched_slides"`
	SectionHeaders          int `json:"section_headers"`
	EmptySlides             int `json:"empty_slides"`
	ElementsWithEvidence    int `json:"elements_with_evidence"`
	ElementsWithoutEvidence int `json:"elements_without_evidence"`
	MultiElementSlides      int `json:"multi_element_slides"`
}

// Metadata describes where a result came from.
type Metadata struct {
	SourceEvidenceFiles []string  `json:"source_evidence_files"`
	TotalSourceSlides   int       `json:"total_source_slides"`
	GeneratedAt         time.Time `json:"generated_at"`
	Generator           string    `json:"generator"`
}

// Result is the outcome of matching a slide list against a registry.
type Result struct {
	Metadata        Metadata         `json:"metadata"`
	Statistics      Statistics       `json:"statistics"`
	MatchedElements []MatchedElement `json:"matched_elements"`
	UnmatchedSlides []UnmatchedSlide `json:"unmatched_slides"`
}

// Element returns the matched element with the given id.
func (r *Result) Element(id element.ID) (MatchedElement, bool) {
	for _, m := range r.MatchedElements {
		if m.ElementID == id {
			return m, true
		}
	}
	return MatchedElement{}, false
}

// WithoutEvidence lists the elements that collected no evidence, in
// element order.
func (r *Result) WithoutEvidence() []MatchedElement {
	var missing []MatchedElement
	for _, m := range r.MatchedElements {
		if m.EvidenceCount == 0 {
			missing = append(missing, m)
		}
	}
	return missing
}

// PatternCounts tallies the primary evidence entries by pattern kind.
func (r *Result) PatternCounts() map[extract.PatternKind]int {
	counts := make(map[extract.PatternKind]int)
	for _, m := range r.MatchedElements {
		for _, ev := range m.Evidence {
			if !ev.IsPrimaryMatch {
				continue
			}
			if kind, ok := extract.ParseKind(ev.MatchPattern); ok {
				counts[kind]++
			}
		}
	}
	return counts
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
