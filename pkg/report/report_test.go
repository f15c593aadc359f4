package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/evidence"
	"github.com/MaxBush6299/audithelpers/pkg/match"
)

func sampleResult(t *testing.T) *match.Result {
	t.Helper()
	defs, err := element.ReadJSON(strings.NewReader(`[
		{"PI-Element": 1.1, "Ask/Look For": "Ask senior plant leadership about the mission", "Calibrator notes": "Look for a signed statement"},
		{"PI-Element": 2.1, "Ask/Look For": "Ask for the safety plan", "Calibrator notes": ""},
		{"PI-Element": 6.1, "Ask/Look For": "Review the training plan", "Calibrator notes": "Check dates"}
	]`))
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	reg, err := element.BuildRegistry(defs)
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	batch := &evidence.Batch{
		SourceFile: "deck.pptx",
		Slides: []evidence.Slide{
			{Index: 1, SourceFile: "deck.pptx", SourceIndex: 1, Text: "1.1 > Mission <draft> & values (6.1)"},
			{Index: 2, SourceFile: "deck.pptx", SourceIndex: 2, Text: ""},
			{Index: 3, SourceFile: "deck.pptx", SourceIndex: 3, Text: "PI 6 – Training (6.1)\n6.1 > Review the Training Plan"},
			{Index: 4, SourceFile: "deck.pptx", SourceIndex: 4, Text: "Questions?"},
		},
	}

	clock := func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return match.NewMatcher(match.WithClock(clock), match.WithGenerator("audithelpers-test")).MatchBatch(batch, reg)
}

func TestSerialize_WireShape(t *testing.T) {
	data, err := Marshal(Serialize(sampleResult(t)))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	metadata := tree["metadata"].(map[string]any)
	wantMetadata := map[string]any{
		"source_evidence_files": []any{"deck.pptx"},
		"total_source_slides":   float64(4),
		"generated_at":          "2025-01-02T03:04:05Z",
		"generator":             "audithelpers-test",
	}
	if diff := cmp.Diff(wantMetadata, metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	wantStats := map[string]any{
		"total_slides":              float64(4),
		"matched_slides":            float64(2),
		"unmatched_slides":          float64(1),
		"section_headers":           float64(0),
		"empty_slides":              float64(1),
		"elements_with_evidence":    float64(2),
		"elements_without_evidence": float64(1),
		"multi_element_slides":      float64(1),
	}
	if diff := cmp.Diff(wantStats, tree["statistics"]); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}

	elements := tree["matched_elements"].([]any)
	if len(elements) != 3 {
		t.Fatalf("expected 3 matched elements, got %d", len(elements))
	}
	first := elements[0].(map[string]any)
	if first["PI-Element"] != "1.1" {
		t.Errorf("first element = %v", first["PI-Element"])
	}
	instructions := first["Calibrator instructions"].(map[string]any)
	if instructions["Ask/Look For"] != "Ask senior plant leadership about the mission" ||
		instructions["Calibrator notes"] != "Look for a signed statement" {
		t.Errorf("instructions = %v", instructions)
	}

	ev := first["Evidence"].([]any)[0].(map[string]any)
	wantEvidence := map[string]any{
		"slide_index":           float64(1),
		"source_file":           "deck.pptx",
		"source_index":          float64(1),
		"text_preview":          "1.1 > Mission <draft> & values (6.1)",
		"match_pattern":         "arrow_format",
		"all_elements_in_slide": []any{"1.1", "6.1"},
		"is_primary_match":      true,
		"full_text":             "1.1 > Mission <draft> & values (6.1)",
	}
	if diff := cmp.Diff(wantEvidence, ev); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
	if first["evidence_count"] != float64(1) {
		t.Errorf("evidence_count = %v", first["evidence_count"])
	}

	// Elements without evidence still carry an empty list.
	safety := elements[1].(map[string]any)
	if got, ok := safety["Evidence"].([]any); !ok || len(got) != 0 {
		t.Errorf("2.1 Evidence = %v, want []", safety["Evidence"])
	}

	wantUnmatched := []any{map[string]any{
		"slide_index":  float64(4),
		"text_preview": "Questions?",
		"reason":       "No element reference found",
	}}
	if diff := cmp.Diff(wantUnmatched, tree["unmatched_slides"]); diff != "" {
		t.Errorf("unmatched mismatch (-want +got):\n%s", diff)
	}

	if !bytes.Contains(data, []byte("<draft> &")) {
		t.Error("slide text should not be HTML escaped")
	}
}

func TestSerialize_KeyOrder(t *testing.T) {
	data, err := Marshal(Serialize(sampleResult(t)))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	out := string(data)

	keys := []string{`"metadata"`, `"statistics"`, `"matched_elements"`, `"unmatched_slides"`}
	last := -1
	for _, key := range keys {
		idx := strings.Index(out, key)
		if idx < last {
			t.Errorf("%s out of order", key)
		}
		last = idx
	}
}

func TestSerialize_WithoutFullText(t *testing.T) {
	data, err := Marshal(Serialize(sampleResult(t), WithoutFullText()))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if bytes.Contains(data, []byte(`"full_text"`)) {
		t.Error("full_text present after WithoutFullText")
	}
	if !bytes.Contains(data, []byte(`"text_preview"`)) {
		t.Error("text_preview should remain")
	}
}

func TestSerialize_Deterministic(t *testing.T) {
	first, err := Marshal(Serialize(sampleResult(t)))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Marshal(Serialize(sampleResult(t)))
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("run %d produced different bytes", i)
		}
	}
}

func TestDocument_Result(t *testing.T) {
	original := sampleResult(t)
	data, err := Marshal(Serialize(original))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	doc, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	back, err := doc.Result()
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if diff := cmp.Diff(original, back); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ASCII, false},
		{"table", ASCII, false},
		{"Markdown", Markdown, false},
		{"md", Markdown, false},
		{"html", ASCII, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestWriteSummary(t *testing.T) {
	result := sampleResult(t)

	var ascii bytes.Buffer
	if err := WriteSummary(&ascii, result, ASCII); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	out := ascii.String()
	for _, want := range []string{"MATCHING SUMMARY", "Slide Statistics", "Matched to elements", "Elements Without Evidence (1)", "2.1", "Top Elements by Evidence", "Primary Match Patterns", "arrow_format", "───"} {
		if !strings.Contains(out, want) {
			t.Errorf("ASCII summary missing %q:\n%s", want, out)
		}
	}

	var md bytes.Buffer
	if err := WriteSummary(&md, result, Markdown); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	if !strings.Contains(md.String(), "## Slide Statistics") || !strings.Contains(md.String(), "| Slides") {
		t.Errorf("unexpected markdown summary:\n%s", md.String())
	}
}

func TestWriteSummary_ManyMissing(t *testing.T) {
	result := &match.Result{}
	for i := 1; i <= 12; i++ {
		result.MatchedElements = append(result.MatchedElements, match.MatchedElement{
			ElementID:  element.ID(fmt.Sprintf("%d.1", i)),
			AskLookFor: strings.Repeat("a", 80),
		})
	}

	var buf bytes.Buffer
	if err := WriteSummary(&buf, result, ASCII); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "... and 2 more") {
		t.Errorf("expected overflow line:\n%s", out)
	}
	if strings.Contains(out, "11.1") {
		t.Errorf("only the first ten missing elements should be listed:\n%s", out)
	}
	if !strings.Contains(out, strings.Repeat("a", askPreviewLength)+"...") {
		t.Errorf("ask text not truncated:\n%s", out)
	}
	if strings.Contains(out, "Top Elements") {
		t.Error("top table should be omitted when nothing has evidence")
	}
	if strings.Contains(out, "Primary Match Patterns") {
		t.Error("pattern table should be omitted when nothing matched")
	}
}

func TestTopByEvidence(t *testing.T) {
	elements := []match.MatchedElement{
		{ElementID: "1.1", EvidenceCount: 2},
		{ElementID: "1.2", EvidenceCount: 0},
		{ElementID: "2.1", EvidenceCount: 5},
		{ElementID: "3.1", EvidenceCount: 2},
	}
	var got []element.ID
	for _, m := range topByEvidence(elements, 5) {
		got = append(got, m.ElementID)
	}
	if diff := cmp.Diff([]element.ID{"2.1", "1.1", "3.1"}, got); diff != "" {
		t.Errorf("top mismatch (-want +got):\n%s", diff)
	}
}
