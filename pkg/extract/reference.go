// Package extract recognises element references in slide text.
package extract

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/MaxBush6299/audithelpers/pkg/element"
)

// PatternKind identifies the slide-authoring convention a reference was
// written in.
type PatternKind int

const (
	KindArrow           PatternKind = iota // "2.1 >"
	KindNextArrow                          // "NEXT 2.1 >"
	KindPIHeader                           // "PI 2", "PI-2"
	KindParentheses                        // "(2.1)"
	KindExplicitElement                    // "Element 2.1"
	KindSlideTitle                         // "PI 6 – Training (6.1)"
)

// Kinds lists every pattern kind in declaration order.
var Kinds = []PatternKind{
	KindArrow, KindNextArrow, KindPIHeader, KindParentheses, KindExplicitElement, KindSlideTitle,
}

var kindNames = [...]string{
	KindArrow:           "arrow_format",
	KindNextArrow:       "next_arrow_format",
	KindPIHeader:        "pi_header",
	KindParentheses:     "parentheses_format",
	KindExplicitElement: "element_explicit",
	KindSlideTitle:      "slide_title_format",
}

// kindRank orders kinds by specificity for primary reference selection;
// lower ranks win.
var kindRank = [...]int{
	KindArrow:           0,
	KindNextArrow:       1,
	KindSlideTitle:      2,
	KindExplicitElement: 3,
	KindParentheses:     4,
	KindPIHeader:        5,
}

// String returns the wire name of the kind.
func (k PatternKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("PatternKind(%d)", int(k))
	}
	return kindNames[k]
}

// Rank returns the priority of the kind; 0 is the most specific.
func (k PatternKind) Rank() int {
	return kindRank[k]
}

// MarshalText encodes the kind as its wire name.
func (k PatternKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a wire name.
func (k *PatternKind) UnmarshalText(text []byte) error {
	kind, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown pattern kind %q", string(text))
	}
	*k = kind
	return nil
}

// ParseKind maps a wire name back to its kind.
func ParseKind(name string) (PatternKind, bool) {
	for _, kind := range Kinds {
		if kindNames[kind] == name {
			return kind, true
		}
	}
	return 0, false
}

// ReferenceMatch is one element mention found in a slide.
type ReferenceMatch struct {
	ElementID element.ID  `json:"element_id"`
	Kind      PatternKind `json:"pattern"`

	// Location within the scanned text. With Unicode folding on that is
	// the NFKC form of the slide, so RawText may differ from the slide
	// text and TextOffset is a byte offset into the folded string.
	RawText    string `json:"raw_text"`
	TextOffset int    `json:"text_offset"`
}

type elementPattern struct {
	kind    PatternKind
	pattern *regexp.Regexp
}

// ReferenceExtractor detects element references in slide text.
type ReferenceExtractor struct {
	patterns             []elementPattern
	sectionHeaderPattern *regexp.Regexp
	foldUnicode          bool
}

// Option configures a ReferenceExtractor.
type Option func(*ReferenceExtractor)

// WithUnicodeFolding toggles NFKC folding of the scanned text, which lets
// full-width digits and brackets from OCR output match. Enabled by default.
func WithUnicodeFolding(enabled bool) Option {
	return func(e *ReferenceExtractor) { e.foldUnicode = enabled }
}

// NewReferenceExtractor creates an extractor with the slide conventions
// compiled in their fixed declaration order.
func NewReferenceExtractor(opts ...Option) *ReferenceExtractor {
	e := &ReferenceExtractor{
		patterns: []elementPattern{
			// "1.1 >", "2.3>", "2.1A >", "2 >"
			{KindArrow, regexp.MustCompile(`(?i)(\d+(?:\.\d+)*[a-z]?)\s*>`)},
			// "NEXT 4.6 >"
			{KindNextArrow, regexp.MustCompile(`(?i)NEXT\s+(\d+(?:\.\d+)*[a-z]?)\s*>`)},
			// "PI 1", "PI-2", "PI6"
			{KindPIHeader, regexp.MustCompile(`(?i)\bPI[\s-]?(\d+)`)},
			// "(4.1)", "(6.12)"
			{KindParentheses, regexp.MustCompile(`(?i)\((\d+\.\d+(?:\.\d+)*[a-z]?)\)`)},
			// "Element 3.2"
			{KindExplicitElement, regexp.MustCompile(`(?i)\belement\s+(\d+\.\d+(?:\.\d+)*[a-z]?)`)},
			// "PI 6 – Training (6.1)"
			{KindSlideTitle, regexp.MustCompile(`(?i)\bPI\s+\d+\s*[–—-]\s*\w+.*?\((\d+\.\d+(?:\.\d+)*[a-z]?)\)`)},
		},
		sectionHeaderPattern: regexp.MustCompile(`(?i)^PI\s*\d+\s*[–—-]`),
		foldUnicode:          true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ReferenceExtractor) prepare(text string) string {
	if e.foldUnicode {
		return norm.NFKC.String(text)
	}
	return text
}

// Extract returns every reference in text: patterns in declaration order,
// and occurrence order within a pattern. The same element may appear
// several times under different kinds. Empty text yields no matches.
func (e *ReferenceExtractor) Extract(text string) []ReferenceMatch {
	if text == "" {
		return nil
	}
	return e.extract(e.prepare(text))
}

func (e *ReferenceExtractor) extract(text string) []ReferenceMatch {
	var matches []ReferenceMatch
	for _, p := range e.patterns {
		for _, loc := range p.pattern.FindAllStringSubmatchIndex(text, -1) {
			id, ok := element.NormalizeID(text[loc[2]:loc[3]])
			if !ok {
				continue
			}
			matches = append(matches, ReferenceMatch{
				ElementID:  id,
				Kind:       p.kind,
				RawText:    text[loc[0]:loc[1]],
				TextOffset: loc[0],
			})
		}
	}
	return matches
}

// Primary returns the single authoritative reference of the slide: the
// first match of the most specific kind present, with the priority
// arrow > next arrow > slide title > explicit element > parentheses > PI header.
func (e *ReferenceExtractor) Primary(text string) (element.ID, bool) {
	match, ok := primaryMatch(e.Extract(text))
	return match.ElementID, ok
}

func primaryMatch(matches []ReferenceMatch) (ReferenceMatch, bool) {
	if len(matches) == 0 {
		return ReferenceMatch{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Kind.Rank() < best.Kind.Rank() {
			best = m
		}
	}
	return best, true
}

// All returns the distinct element ids referenced in text, sorted in
// element order. A PI header is a coarse section marker: "PI 6" is dropped
// when the slide also names a more specific element of section 6.
func (e *ReferenceExtractor) All(text string) []element.ID {
	return uniqueReferences(e.Extract(text))
}

func uniqueReferences(matches []ReferenceMatch) []element.ID {
	specificMajors := make(map[string]bool)
	for _, m := range matches {
		if m.Kind != KindPIHeader {
			specificMajors[m.ElementID.Major()] = true
		}
	}

	seen := make(map[element.ID]bool)
	var ids []element.ID
	for _, m := range matches {
		if seen[m.ElementID] {
			continue
		}
		if m.Kind == KindPIHeader && specificMajors[m.ElementID.Major()] {
			continue
		}
		seen[m.ElementID] = true
		ids = append(ids, m.ElementID)
	}
	slices.SortFunc(ids, element.Compare)
	return ids
}

// IsSectionHeader reports whether text looks like a section title slide:
// at most three non-blank lines, one of them starting "PI <n> –", and no
// "Ask/Look For" prompt or arrow.
func (e *ReferenceExtractor) IsSectionHeader(text string) bool {
	return e.isSectionHeader(e.prepare(text))
}

func (e *ReferenceExtractor) isSectionHeader(text string) bool {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 || len(lines) > 3 {
		return false
	}

	if strings.Contains(strings.ToLower(text), "ask/look for") || strings.Contains(text, ">") {
		return false
	}
	for _, line := range lines {
		if e.sectionHeaderPattern.MatchString(line) {
			return true
		}
	}
	return false
}

// Analysis is the result of scanning a slide once.
type Analysis struct {
	Matches []ReferenceMatch `json:"matches"`
	All     []element.ID     `json:"all_elements"`

	// Primary is the authoritative reference; PrimaryKind is the kind of
	// the first raw match naming it, which is how the slide is labelled.
	Primary     element.ID  `json:"primary,omitempty"`
	PrimaryKind PatternKind `json:"primary_pattern"`
	HasPrimary  bool        `json:"has_primary"`

	SectionHeader bool `json:"section_header"`
}

// Analyze scans text once and derives every view the matcher needs.
func (e *ReferenceExtractor) Analyze(text string) Analysis {
	scanned := e.prepare(text)
	var matches []ReferenceMatch
	if scanned != "" {
		matches = e.extract(scanned)
	}

	analysis := Analysis{
		Matches:       matches,
		All:           uniqueReferences(matches),
		SectionHeader: e.isSectionHeader(scanned),
	}

	if primary, ok := primaryMatch(matches); ok {
		analysis.Primary = primary.ElementID
		analysis.HasPrimary = true
		analysis.PrimaryKind = primary.Kind
		for _, m := range matches {
			if m.ElementID == primary.ElementID {
				analysis.PrimaryKind = m.Kind
				break
			}
		}
	}

	return analysis
}

// CountByKind tallies matches per pattern kind.
func CountByKind(matches []ReferenceMatch) map[PatternKind]int {
	counts := make(map[PatternKind]int)
	for _, m := range matches {
		counts[m.Kind]++
	}
	return counts
}
