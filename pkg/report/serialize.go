// Package report renders matching results: the JSON document consumed by
// the evaluation stage and human-readable summaries.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/match"
)

// Document is the wire form of a match.Result. Field names and nesting are
// fixed by the downstream evaluator.
type Document struct {
	Metadata        Metadata         `json:"metadata"`
	Statistics      match.Statistics `json:"statistics"`
	MatchedElements []Element        `json:"matched_elements"`
	UnmatchedSlides []UnmatchedSlide `json:"unmatched_slides"`
}

// Metadata is the wire form of match.Metadata.
type Metadata struct {
	SourceEvidenceFiles []string `json:"source_evidence_files"`
	TotalSourceSlides   int      `json:"total_source_slides"`
	GeneratedAt         string   `json:"generated_at"`
	Generator           string   `json:"generator"`
}

// Element is one registry entry with its evidence.
type Element struct {
	ID            string       `json:"PI-Element"`
	Instructions  Instructions `json:"Calibrator instructions"`
	Evidence      []Evidence   `json:"Evidence"`
	EvidenceCount int          `json:"evidence_count"`
}

// Instructions carries the calibrator guidance of an element.
type Instructions struct {
	AskLookFor      string `json:"Ask/Look For"`
	CalibratorNotes string `json:"Calibrator notes"`
}

// Evidence is one slide attached to an element. FullText is nil when the
// document was serialized without full text.
type Evidence struct {
	SlideIndex         int      `json:"slide_index"`
	SourceFile         string   `json:"source_file"`
	SourceIndex        int      `json:"source_index"`
	TextPreview        string   `json:"text_preview"`
	MatchPattern       string   `json:"match_pattern"`
	AllElementsInSlide []string `json:"all_elements_in_slide"`
	IsPrimaryMatch     bool     `json:"is_primary_match"`
	FullText           *string  `json:"full_text,omitempty"`
}

// UnmatchedSlide is a slide that produced no evidence.
type UnmatchedSlide struct {
	SlideIndex  int    `json:"slide_index"`
	TextPreview string `json:"text_preview"`
	Reason      string `json:"reason"`
}

// SerializeOption configures Serialize.
type SerializeOption func(*serializeConfig)

type serializeConfig struct {
	fullText bool
}

// WithoutFullText omits the full slide text from every evidence record.
func WithoutFullText() SerializeOption {
	return func(c *serializeConfig) { c.fullText = false }
}

// WithFullText sets whether evidence records carry the full slide text.
func WithFullText(include bool) SerializeOption {
	return func(c *serializeConfig) { c.fullText = include }
}

// Serialize projects a result onto the wire document.
func Serialize(result *match.Result, opts ...SerializeOption) *Document {
	cfg := serializeConfig{fullText: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	doc := &Document{
		Metadata: Metadata{
			SourceEvidenceFiles: nonNil(result.Metadata.SourceEvidenceFiles),
			TotalSourceSlides:   result.Metadata.TotalSourceSlides,
			GeneratedAt:         result.Metadata.GeneratedAt.Format(time.RFC3339),
			Generator:           result.Metadata.Generator,
		},
		Statistics:      result.Statistics,
		MatchedElements: make([]Element, 0, len(result.MatchedElements)),
		UnmatchedSlides: make([]UnmatchedSlide, 0, len(result.UnmatchedSlides)),
	}

	for _, m := range result.MatchedElements {
		el := Element{
			ID: m.ElementID.String(),
			Instructions: Instructions{
				AskLookFor:      m.AskLookFor,
				CalibratorNotes: m.CalibratorNotes,
			},
			Evidence:      make([]Evidence, 0, len(m.Evidence)),
			EvidenceCount: m.EvidenceCount,
		}
		for _, ev := range m.Evidence {
			rec := Evidence{
				SlideIndex:         ev.SlideIndex,
				SourceFile:         ev.SourceFile,
				SourceIndex:        ev.SourceIndex,
				TextPreview:        ev.TextPreview,
				MatchPattern:       ev.MatchPattern,
				AllElementsInSlide: idStrings(ev.AllElementsInSlide),
				IsPrimaryMatch:     ev.IsPrimaryMatch,
			}
			if cfg.fullText {
				text := ev.FullText
				rec.FullText = &text
			}
			el.Evidence = append(el.Evidence, rec)
		}
		doc.MatchedElements = append(doc.MatchedElements, el)
	}

	for _, u := range result.UnmatchedSlides {
		doc.UnmatchedSlides = append(doc.UnmatchedSlides, UnmatchedSlide(u))
	}
	return doc
}

// Result converts a document back into a match.Result. Full text that was
// omitted at serialization time comes back empty.
func (d *Document) Result() (*match.Result, error) {
	generatedAt, err := time.Parse(time.RFC3339, d.Metadata.GeneratedAt)
	if err != nil && d.Metadata.GeneratedAt != "" {
		return nil, fmt.Errorf("parsing generated_at: %w", err)
	}

	result := &match.Result{
		Metadata: match.Metadata{
			SourceEvidenceFiles: nonNil(d.Metadata.SourceEvidenceFiles),
			TotalSourceSlides:   d.Metadata.TotalSourceSlides,
			GeneratedAt:         generatedAt,
			Generator:           d.Metadata.Generator,
		},
		Statistics:      d.Statistics,
		MatchedElements: make([]match.MatchedElement, 0, len(d.MatchedElements)),
		UnmatchedSlides: make([]match.UnmatchedSlide, 0, len(d.UnmatchedSlides)),
	}

	for _, el := range d.MatchedElements {
		id, ok := element.NormalizeID(el.ID)
		if !ok {
			return nil, fmt.Errorf("matched element with blank id")
		}
		m := match.MatchedElement{
			ElementID:       id,
			AskLookFor:      el.Instructions.AskLookFor,
			CalibratorNotes: el.Instructions.CalibratorNotes,
			Evidence:        make([]match.EvidenceEntry, 0, len(el.Evidence)),
			EvidenceCount:   el.EvidenceCount,
		}
		for _, ev := range el.Evidence {
			entry := match.EvidenceEntry{
				SlideIndex:     ev.SlideIndex,
				SourceFile:     ev.SourceFile,
				SourceIndex:    ev.SourceIndex,
				TextPreview:    ev.TextPreview,
				MatchPattern:   ev.MatchPattern,
				IsPrimaryMatch: ev.IsPrimaryMatch,
			}
			if ev.FullText != nil {
				entry.FullText = *ev.FullText
			}
			for _, raw := range ev.AllElementsInSlide {
				entry.AllElementsInSlide = append(entry.AllElementsInSlide, element.ID(raw))
			}
			m.Evidence = append(m.Evidence, entry)
		}
		result.MatchedElements = append(result.MatchedElements, m)
	}

	for _, u := range d.UnmatchedSlides {
		result.UnmatchedSlides = append(result.UnmatchedSlides, match.UnmatchedSlide(u))
	}
	return result, nil
}

// Marshal encodes the document as indented JSON. HTML escaping is off so
// slide text with "<" and ">" stays readable.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a document produced by Marshal.
func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return &doc, nil
}

func idStrings(ids []element.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
