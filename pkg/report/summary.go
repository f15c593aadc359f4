package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/MaxBush6299/audithelpers/pkg/extract"
	"github.com/MaxBush6299/audithelpers/pkg/match"
)

const (
	maxMissingListed = 10
	maxTopListed     = 5
	askPreviewLength = 60
)

// WriteSummary prints the slide and element statistics of a result, the
// patterns primary matches were written in, the elements still lacking
// evidence and the best covered ones.
func WriteSummary(w io.Writer, result *match.Result, mode Mode) error {
	var sb strings.Builder
	stats := result.Statistics

	heading(&sb, mode, "Matching Summary")

	slidesTable := newTable(mode, "Slide Statistics")
	slidesTable.header("Slides", "Count")
	slidesTable.row("Total processed", stats.TotalSlides)
	slidesTable.row("Matched to elements", stats.MatchedSlides)
	slidesTable.row("Unmatched", stats.UnmatchedSlides)
	slidesTable.row("Section headers", stats.SectionHeaders)
	slidesTable.row("Empty", stats.EmptySlides)
	slidesTable.row("Multi-element", stats.MultiElementSlides)
	slidesTable.alignRight(2)
	section(&sb, mode, "Slide Statistics", slidesTable)

	elementsTable := newTable(mode, "Element Statistics")
	elementsTable.header("Elements", "Count")
	elementsTable.row("With evidence", stats.ElementsWithEvidence)
	elementsTable.row("Without evidence", stats.ElementsWithoutEvidence)
	elementsTable.alignRight(2)
	section(&sb, mode, "Element Statistics", elementsTable)

	if counts := result.PatternCounts(); len(counts) > 0 {
		patternsTable := newTable(mode, "Primary Match Patterns")
		patternsTable.header("Pattern", "Slides")
		for _, kind := range extract.Kinds {
			if n := counts[kind]; n > 0 {
				patternsTable.row(kind, n)
			}
		}
		patternsTable.alignRight(2)
		section(&sb, mode, "Primary Match Patterns", patternsTable)
	}

	if missing := result.WithoutEvidence(); len(missing) > 0 {
		title := fmt.Sprintf("Elements Without Evidence (%d)", len(missing))
		missingTable := newTable(mode, title)
		missingTable.header("Element", "Ask/Look For")
		for _, m := range missing[:min(len(missing), maxMissingListed)] {
			missingTable.row(m.ElementID, truncate(oneLine(m.AskLookFor), askPreviewLength))
		}
		section(&sb, mode, title, missingTable)
		if extra := len(missing) - maxMissingListed; extra > 0 {
			fmt.Fprintf(&sb, "... and %d more\n\n", extra)
		}
	}

	if top := topByEvidence(result.MatchedElements, maxTopListed); len(top) > 0 {
		topTable := newTable(mode, "Top Elements by Evidence")
		topTable.header("Element", "Slides")
		for _, m := range top {
			topTable.row(m.ElementID, m.EvidenceCount)
		}
		topTable.alignRight(2)
		section(&sb, mode, "Top Elements by Evidence", topTable)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// topByEvidence returns up to n elements with evidence, most evidence
// first; ties keep element order.
func topByEvidence(elements []match.MatchedElement, n int) []match.MatchedElement {
	var withEvidence []match.MatchedElement
	for _, m := range elements {
		if m.EvidenceCount > 0 {
			withEvidence = append(withEvidence, m)
		}
	}
	slices.SortStableFunc(withEvidence, func(a, b match.MatchedElement) int {
		return b.EvidenceCount - a.EvidenceCount
	})
	if len(withEvidence) > n {
		withEvidence = withEvidence[:n]
	}
	return withEvidence
}

func heading(sb *strings.Builder, mode Mode, title string) {
	if mode == Markdown {
		fmt.Fprintf(sb, "# %s\n\n", title)
		return
	}
	fmt.Fprintf(sb, "%s\n%s\n\n", strings.ToUpper(title), strings.Repeat("=", 60))
}

// section renders a table. Markdown tables cannot carry a title, so the
// title becomes a sub-heading.
func section(sb *strings.Builder, mode Mode, title string, tb *tableBuilder) {
	if mode == Markdown {
		fmt.Fprintf(sb, "## %s\n\n", title)
	}
	sb.WriteString(tb.String())
	sb.WriteString("\n\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
