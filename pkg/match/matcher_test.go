package match

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/evidence"
	"github.com/MaxBush6299/audithelpers/pkg/extract"
)

var fixedTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func buildRegistry(t *testing.T, ids ...string) *element.Registry {
	t.Helper()
	defs := make([]element.Definition, len(ids))
	for i, id := range ids {
		defs[i] = element.Definition{
			RawID:           id,
			Numeric:         true,
			AskLookFor:      "Ask about " + id,
			CalibratorNotes: "Notes for " + id,
		}
	}
	reg, err := element.BuildRegistry(defs)
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}
	return reg
}

func slides(texts ...string) []evidence.Slide {
	out := make([]evidence.Slide, len(texts))
	for i, text := range texts {
		out[i] = evidence.Slide{Index: i + 1, SourceFile: "deck.pptx", SourceIndex: i + 1, Text: text}
	}
	return out
}

func mustElement(t *testing.T, r *Result, id element.ID) MatchedElement {
	t.Helper()
	m, ok := r.Element(id)
	if !ok {
		t.Fatalf("element %s missing from result", id)
	}
	return m
}

func TestMatch_Basic(t *testing.T) {
	reg := buildRegistry(t, "1.1", "2.1", "6.1")
	matcher := NewMatcher(WithClock(fixedClock))

	result := matcher.Match(slides(
		"1.1 > Ask senior plant leadership how the Plant Mission Statement was developed.",
		"",
		"PI 6 – Training (6.1)\n6.1 > Review the Training Plan",
		"Thank you",
	), reg)

	want := Statistics{
		TotalSlides:             4,
		MatchedSlides:           2,
		UnmatchedSlides:         1,
		EmptySlides:             1,
		ElementsWithEvidence:    2,
		ElementsWithoutEvidence: 1,
	}
	if diff := cmp.Diff(want, result.Statistics); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}

	first := mustElement(t, result, "1.1")
	if first.EvidenceCount != 1 {
		t.Fatalf("1.1 evidence count = %d, want 1", first.EvidenceCount)
	}
	ev := first.Evidence[0]
	if ev.MatchPattern != "arrow_format" || !ev.IsPrimaryMatch {
		t.Errorf("1.1 evidence = %+v, want primary arrow_format", ev)
	}
	if ev.SlideIndex != 1 || ev.SourceFile != "deck.pptx" || ev.SourceIndex != 1 {
		t.Errorf("provenance not propagated: %+v", ev)
	}

	training := mustElement(t, result, "6.1")
	if training.EvidenceCount != 1 {
		t.Fatalf("6.1 evidence count = %d, want 1", training.EvidenceCount)
	}
	if diff := cmp.Diff([]element.ID{"6.1"}, training.Evidence[0].AllElementsInSlide); diff != "" {
		t.Errorf("all elements mismatch (-want +got):\n%s", diff)
	}
	if training.Evidence[0].MatchPattern != "arrow_format" {
		t.Errorf("6.1 pattern = %q, want arrow_format", training.Evidence[0].MatchPattern)
	}

	if diff := cmp.Diff([]UnmatchedSlide{{SlideIndex: 4, TextPreview: "Thank you", Reason: ReasonNoReference}}, result.UnmatchedSlides); diff != "" {
		t.Errorf("unmatched mismatch (-want +got):\n%s", diff)
	}
}

func TestMatch_VariantCollapsesOntoBase(t *testing.T) {
	reg := buildRegistry(t, "2.1")
	result := NewMatcher().Match(slides("2.1 > Ask for the plan\n2.1A > Ask for examples of GCTA"), reg)

	base := mustElement(t, result, "2.1")
	if base.EvidenceCount != 1 {
		t.Fatalf("2.1 evidence count = %d, want exactly 1", base.EvidenceCount)
	}
	ev := base.Evidence[0]
	if !ev.IsPrimaryMatch || ev.MatchPattern != "arrow_format" {
		t.Errorf("evidence = %+v, want primary arrow", ev)
	}
	if diff := cmp.Diff([]element.ID{"2.1", "2.1A"}, ev.AllElementsInSlide); diff != "" {
		t.Errorf("all elements mismatch (-want +got):\n%s", diff)
	}
	if result.Statistics.MultiElementSlides != 1 {
		t.Errorf("multi element slides = %d, want 1", result.Statistics.MultiElementSlides)
	}
}

func TestMatch_VariantPrimaryClaimsBase(t *testing.T) {
	// The primary "2.1A" resolves to "2.1" before the parenthesised base
	// mention does, so the single entry is the primary one.
	reg := buildRegistry(t, "2.1")
	result := NewMatcher().Match(slides("2.1A > Ask for examples (2.1)"), reg)

	base := mustElement(t, result, "2.1")
	if base.EvidenceCount != 1 {
		t.Fatalf("evidence count = %d, want 1", base.EvidenceCount)
	}
	if !base.Evidence[0].IsPrimaryMatch || base.Evidence[0].MatchPattern != "arrow_format" {
		t.Errorf("evidence = %+v, want primary arrow", base.Evidence[0])
	}
}

func TestMatch_VariantEntryPreferred(t *testing.T) {
	reg := buildRegistry(t, "2.1", "2.1A")
	result := NewMatcher().Match(slides("2.1A > Ask for examples"), reg)

	if got := mustElement(t, result, "2.1A").EvidenceCount; got != 1 {
		t.Errorf("2.1A evidence count = %d, want 1", got)
	}
	if got := mustElement(t, result, "2.1").EvidenceCount; got != 0 {
		t.Errorf("2.1 evidence count = %d, want 0", got)
	}
}

func TestMatch_SecondaryReferences(t *testing.T) {
	reg := buildRegistry(t, "3.1", "3.2", "4.1")
	result := NewMatcher().Match(slides("3.2 > Review the plan, see also (4.1) and Element 3.1"), reg)

	primary := mustElement(t, result, "3.2").Evidence
	if len(primary) != 1 || !primary[0].IsPrimaryMatch || primary[0].MatchPattern != "arrow_format" {
		t.Errorf("3.2 evidence = %+v", primary)
	}
	for _, id := range []element.ID{"3.1", "4.1"} {
		ev := mustElement(t, result, id).Evidence
		if len(ev) != 1 || ev[0].IsPrimaryMatch || ev[0].MatchPattern != SecondaryReference {
			t.Errorf("%s evidence = %+v, want one secondary entry", id, ev)
		}
	}
}

func TestMatch_IntegerIDResolvesToDecimal(t *testing.T) {
	defs, err := element.ReadJSON(strings.NewReader(`[{"PI-Element": 2, "Ask/Look For": "Section two", "Calibrator notes": ""}]`))
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	reg, err := element.BuildRegistry(defs)
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	result := NewMatcher().Match(slides("2 > Ask for the section overview"), reg)
	got := mustElement(t, result, "2.0")
	if got.EvidenceCount != 1 {
		t.Errorf("2.0 evidence count = %d, want 1", got.EvidenceCount)
	}
}

func TestMatch_ReferenceOutsideRegistry(t *testing.T) {
	reg := buildRegistry(t, "1.1")
	result := NewMatcher().Match(slides("9.9 > Something unrelated\n7.7 > More"), reg)

	if result.Statistics.MatchedSlides != 1 || result.Statistics.UnmatchedSlides != 0 {
		t.Errorf("statistics = %+v, want the slide counted as matched", result.Statistics)
	}
	if stats := result.Statistics; stats.EmptySlides+stats.UnmatchedSlides+stats.MatchedSlides != stats.TotalSlides {
		t.Errorf("slide accounting broken: %+v", stats)
	}
	if missing := result.WithoutEvidence(); len(missing) != 1 || missing[0].ElementID != "1.1" {
		t.Errorf("1.1 should have no evidence: %+v", missing)
	}
	want := []UnmatchedSlide{{
		SlideIndex:  1,
		TextPreview: "9.9 > Something unrelated\n7.7 > More",
		Reason:      "Element(s) 7.7, 9.9 not found in elements list",
	}}
	if diff := cmp.Diff(want, result.UnmatchedSlides); diff != "" {
		t.Errorf("unmatched mismatch (-want +got):\n%s", diff)
	}
}

func TestMatch_EmptyRegistry(t *testing.T) {
	input := slides("1.1 > Ask", "", "No refs here", "PI 2 – Safety")

	for name, reg := range map[string]*element.Registry{
		"built": buildRegistry(t),
		"nil":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			result := NewMatcher().Match(input, reg)
			stats := result.Statistics
			if stats.ElementsWithEvidence != 0 || stats.ElementsWithoutEvidence != 0 {
				t.Errorf("registry counters not zero: %+v", stats)
			}
			want := Statistics{TotalSlides: 4, MatchedSlides: 2, UnmatchedSlides: 1, EmptySlides: 1, SectionHeaders: 1}
			if diff := cmp.Diff(want, stats); diff != "" {
				t.Errorf("statistics mismatch (-want +got):\n%s", diff)
			}
			if len(result.UnmatchedSlides) != 3 {
				t.Errorf("expected three unmatched records, got %+v", result.UnmatchedSlides)
			}
			if len(result.MatchedElements) != 0 {
				t.Errorf("expected no matched elements, got %d", len(result.MatchedElements))
			}
		})
	}
}

func TestMatch_SectionHeaderStillMatches(t *testing.T) {
	reg := buildRegistry(t, "1.0", "1.1")
	result := NewMatcher().Match(slides("PI 1 – Purpose & Values"), reg)

	if result.Statistics.SectionHeaders != 1 || result.Statistics.MatchedSlides != 1 {
		t.Errorf("statistics = %+v, want one matched section header", result.Statistics)
	}
	ev := mustElement(t, result, "1.0").Evidence
	if len(ev) != 1 || ev[0].MatchPattern != "pi_header" {
		t.Errorf("1.0 evidence = %+v, want pi_header", ev)
	}
}

func TestMatch_TitleSlideLabelledByFirstRawMatch(t *testing.T) {
	reg := buildRegistry(t, "6.1")
	result := NewMatcher().Match(slides("PI 6 – Training (6.1)"), reg)

	ev := mustElement(t, result, "6.1").Evidence
	if len(ev) != 1 {
		t.Fatalf("6.1 evidence = %+v, want one entry", ev)
	}
	// The slide title pattern picks the primary, but the label comes from
	// the parenthesised id, which is the first match naming it.
	if ev[0].MatchPattern != "parentheses_format" || !ev[0].IsPrimaryMatch {
		t.Errorf("evidence = %+v, want primary parentheses_format", ev[0])
	}
	if diff := cmp.Diff([]element.ID{"6.1"}, ev[0].AllElementsInSlide); diff != "" {
		t.Errorf("all elements mismatch (-want +got):\n%s", diff)
	}
	if result.Statistics.SectionHeaders != 1 || result.Statistics.MatchedSlides != 1 {
		t.Errorf("statistics = %+v", result.Statistics)
	}
}

func TestMatch_Previews(t *testing.T) {
	long := "1.1 > " + strings.Repeat("é", 400)
	reg := buildRegistry(t, "1.1")
	result := NewMatcher().Match(slides(long, strings.Repeat("x", 301)), reg)

	ev := mustElement(t, result, "1.1").Evidence[0]
	if got := []rune(ev.TextPreview); len(got) != EvidencePreviewLength+3 || !strings.HasSuffix(ev.TextPreview, "...") {
		t.Errorf("evidence preview has %d runes", len(got))
	}
	if ev.FullText != long {
		t.Error("full text was altered")
	}

	unmatched := result.UnmatchedSlides[0].TextPreview
	if len(unmatched) != UnmatchedPreviewLength+3 {
		t.Errorf("unmatched preview length = %d", len(unmatched))
	}
}

func TestMatch_OutputSortedByElement(t *testing.T) {
	reg := buildRegistry(t, "6.17", "6.2", "1.4", "10.1", "9.4")
	result := NewMatcher().Match(nil, reg)

	var ids []element.ID
	for _, m := range result.MatchedElements {
		ids = append(ids, m.ElementID)
	}
	if diff := cmp.Diff([]element.ID{"1.4", "6.17", "6.2", "9.4", "10.1"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestMatch_Invariants(t *testing.T) {
	reg := buildRegistry(t, "1.1", "1.2", "2.1", "3.1", "4.1", "6.1")
	texts := []string{
		"1.1 > Ask",
		"1.2 > Ask\nNEXT 2.1 > Next",
		"",
		"   ",
		"PI 3 – Quality",
		"Refer to (4.1) and (9.9)",
		"Closing remarks",
		"2.1 > Ask\n(2.1) again\n2.1A > Variant",
		"PI 6 – Training (6.1)\n6.1 > Review",
		"8.8 > not registered",
	}
	input := slides(texts...)
	matcher := NewMatcher()
	extractor := extract.NewReferenceExtractor()
	result := matcher.Match(input, reg)

	stats := result.Statistics
	if stats.EmptySlides+stats.UnmatchedSlides+stats.MatchedSlides != stats.TotalSlides {
		t.Errorf("slide accounting broken: %+v", stats)
	}
	if stats.ElementsWithEvidence+stats.ElementsWithoutEvidence != reg.Len() {
		t.Errorf("element accounting broken: %+v", stats)
	}

	perSlide := make(map[int]int)
	for _, m := range result.MatchedElements {
		if m.EvidenceCount != len(m.Evidence) {
			t.Errorf("%s: evidence count %d != %d", m.ElementID, m.EvidenceCount, len(m.Evidence))
		}
		for _, ev := range m.Evidence {
			perSlide[ev.SlideIndex]++
			found := false
			for _, id := range ev.AllElementsInSlide {
				if resolved, ok := reg.Resolve(id); ok && resolved == m.ElementID {
					found = true
				}
			}
			if !found {
				t.Errorf("slide %d evidence under %s not backed by a slide reference", ev.SlideIndex, m.ElementID)
			}
		}
	}
	for _, slide := range input {
		if got, limit := perSlide[slide.Index], len(extractor.All(slide.Text)); got > limit {
			t.Errorf("slide %d produced %d entries for %d references", slide.Index, got, limit)
		}
	}
}

func TestMatch_WorkersMatchSequential(t *testing.T) {
	reg := buildRegistry(t, "1.1", "1.2", "2.1", "3.1")
	var texts []string
	for i := 0; i < 200; i++ {
		switch i % 5 {
		case 0:
			texts = append(texts, fmt.Sprintf("1.%d > Ask %d", i%3, i))
		case 1:
			texts = append(texts, "")
		case 2:
			texts = append(texts, "Refer to (2.1) and Element 3.1")
		case 3:
			texts = append(texts, "no references")
		default:
			texts = append(texts, "7.7 > missing")
		}
	}
	input := slides(texts...)

	sequential := NewMatcher(WithClock(fixedClock)).Match(input, reg)
	parallel := NewMatcher(WithClock(fixedClock), WithWorkers(8)).Match(input, reg)

	if diff := cmp.Diff(sequential, parallel); diff != "" {
		t.Errorf("parallel result differs (-sequential +parallel):\n%s", diff)
	}
}

func TestMatchBatch_Metadata(t *testing.T) {
	reg := buildRegistry(t, "1.1")
	batch := &evidence.Batch{
		SourceFileList: []string{"a.pptx", "b.pptx"},
		Slides:         slides("1.1 > Ask"),
	}
	batch.SetSourceSlideCount(12)

	result := NewMatcher(WithClock(fixedClock), WithGenerator("test-run")).MatchBatch(batch, reg)

	want := Metadata{
		SourceEvidenceFiles: []string{"a.pptx", "b.pptx"},
		TotalSourceSlides:   12,
		GeneratedAt:         fixedTime,
		Generator:           "test-run",
	}
	if diff := cmp.Diff(want, result.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestResult_Helpers(t *testing.T) {
	reg := buildRegistry(t, "1.1", "2.1", "3.1")
	result := NewMatcher().Match(slides("1.1 > Ask (3.1)"), reg)

	var missing []element.ID
	for _, m := range result.WithoutEvidence() {
		missing = append(missing, m.ElementID)
	}
	if diff := cmp.Diff([]element.ID{"2.1"}, missing); diff != "" {
		t.Errorf("without evidence mismatch (-want +got):\n%s", diff)
	}

	counts := result.PatternCounts()
	if diff := cmp.Diff(map[extract.PatternKind]int{extract.KindArrow: 1}, counts); diff != "" {
		t.Errorf("pattern counts mismatch (-want +got):\n%s", diff)
	}
}
