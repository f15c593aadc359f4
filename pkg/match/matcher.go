package match

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/evidence"
	"github.com/MaxBush6299/audithelpers/pkg/extract"
)

// DefaultGenerator is recorded in result metadata unless overridden.
const DefaultGenerator = "audithelpers"

// Matcher classifies slides and assigns them to registry elements.
// A Matcher holds no per-run state and may be shared between goroutines.
type Matcher struct {
	extractor *extract.ReferenceExtractor
	workers   int
	clock     func() time.Time
	generator string
	logger    *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithExtractor replaces the default reference extractor.
func WithExtractor(e *extract.ReferenceExtractor) Option {
	return func(m *Matcher) { m.extractor = e }
}

// WithWorkers analyses slides on up to n goroutines. Outcomes are folded
// in slide order, so the result is identical to a sequential pass.
func WithWorkers(n int) Option {
	return func(m *Matcher) { m.workers = n }
}

// WithClock sets the time source for Metadata.GeneratedAt.
func WithClock(clock func() time.Time) Option {
	return func(m *Matcher) { m.clock = clock }
}

// WithGenerator sets Metadata.Generator.
func WithGenerator(name string) Option {
	return func(m *Matcher) { m.generator = name }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) { m.logger = logger }
}

// NewMatcher creates a sequential matcher with the default extractor.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		workers:   1,
		clock:     time.Now,
		generator: DefaultGenerator,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extractor == nil {
		m.extractor = extract.NewReferenceExtractor()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.workers < 1 {
		m.workers = 1
	}
	return m
}

// target is one registry key a slide resolved to.
type target struct {
	id      element.ID
	primary bool
}

// slideOutcome is everything the fold needs to know about one slide.
type slideOutcome struct {
	slide         evidence.Slide
	blank         bool
	sectionHeader bool
	refs          []element.ID
	primaryKind   extract.PatternKind
	targets       []target
}

// analyze classifies a single slide. It reads only the extractor and the
// registry, both immutable, so slides may be analysed in parallel.
func (m *Matcher) analyze(slide evidence.Slide, registry *element.Registry) slideOutcome {
	out := slideOutcome{slide: slide}
	if slide.IsBlank() {
		out.blank = true
		return out
	}

	analysis := m.extractor.Analyze(slide.Text)
	out.sectionHeader = analysis.SectionHeader
	out.refs = analysis.All
	if len(out.refs) == 0 {
		return out
	}
	out.primaryKind = analysis.PrimaryKind

	// Resolve the primary first, then the rest in element order, so the
	// primary claims its target when a variant and its base share one.
	order := make([]element.ID, 0, len(out.refs))
	if analysis.HasPrimary && slices.Contains(out.refs, analysis.Primary) {
		order = append(order, analysis.Primary)
	}
	for _, id := range out.refs {
		if !analysis.HasPrimary || id != analysis.Primary {
			order = append(order, id)
		}
	}

	claimed := make(map[element.ID]bool)
	for _, id := range order {
		key, ok := registry.Resolve(id)
		if !ok || claimed[key] {
			continue
		}
		claimed[key] = true
		out.targets = append(out.targets, target{id: key, primary: analysis.HasPrimary && id == analysis.Primary})
	}
	return out
}

func (m *Matcher) analyzeAll(slides []evidence.Slide, registry *element.Registry) []slideOutcome {
	outcomes := make([]slideOutcome, len(slides))
	if m.workers <= 1 || len(slides) < 2 {
		for i, slide := range slides {
			outcomes[i] = m.analyze(slide, registry)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, slide := range slides {
		g.Go(func() error {
			outcomes[i] = m.analyze(slide, registry)
			return nil
		})
	}
	// analyze never fails
	_ = g.Wait()
	return outcomes
}

// Match assigns every slide to the elements it references. Data-quality
// problems (blank slides, slides without references, references outside
// the registry) are classified in the result rather than returned as
// errors. A nil registry behaves as an empty one.
func (m *Matcher) Match(slides []evidence.Slide, registry *element.Registry) *Result {
	outcomes := m.analyzeAll(slides, registry)

	result := &Result{
		Metadata: Metadata{
			SourceEvidenceFiles: []string{},
			TotalSourceSlides:   len(slides),
			GeneratedAt:         m.clock(),
			Generator:           m.generator,
		},
		MatchedElements: []MatchedElement{},
		UnmatchedSlides: []UnmatchedSlide{},
	}
	stats := &result.Statistics
	stats.TotalSlides = len(slides)

	evidenceByID := make(map[element.ID][]EvidenceEntry)

	for _, out := range outcomes {
		if out.blank {
			stats.EmptySlides++
			continue
		}
		if out.sectionHeader {
			stats.SectionHeaders++
		}

		if len(out.refs) == 0 {
			stats.UnmatchedSlides++
			result.UnmatchedSlides = append(result.UnmatchedSlides, UnmatchedSlide{
				SlideIndex:  out.slide.Index,
				TextPreview: preview(out.slide.Text, UnmatchedPreviewLength),
				Reason:      ReasonNoReference,
			})
			continue
		}

		if len(out.refs) > 1 {
			stats.MultiElementSlides++
		}

		// A slide naming any element counts as matched even when none of
		// its references resolve; those still get an unmatched record.
		stats.MatchedSlides++
		if len(out.targets) == 0 {
			result.UnmatchedSlides = append(result.UnmatchedSlides, UnmatchedSlide{
				SlideIndex:  out.slide.Index,
				TextPreview: preview(out.slide.Text, UnmatchedPreviewLength),
				Reason:      notFoundReason(out.refs),
			})
			m.logger.Debug("slide references unknown elements", "slide", out.slide.Index, "refs", out.refs)
			continue
		}

		for _, t := range out.targets {
			pattern := SecondaryReference
			if t.primary {
				pattern = out.primaryKind.String()
			}
			evidenceByID[t.id] = append(evidenceByID[t.id], EvidenceEntry{
				SlideIndex:         out.slide.Index,
				SourceFile:         out.slide.SourceFile,
				SourceIndex:        out.slide.SourceIndex,
				FullText:           out.slide.Text,
				TextPreview:        preview(out.slide.Text, EvidencePreviewLength),
				MatchPattern:       pattern,
				AllElementsInSlide: slices.Clone(out.refs),
				IsPrimaryMatch:     t.primary,
			})
		}
	}

	for _, entry := range registry.Entries() {
		ev := evidenceByID[entry.ID]
		if ev == nil {
			ev = []EvidenceEntry{}
		}
		if len(ev) > 0 {
			stats.ElementsWithEvidence++
		} else {
			stats.ElementsWithoutEvidence++
		}
		result.MatchedElements = append(result.MatchedElements, MatchedElement{
			ElementID:       entry.ID,
			AskLookFor:      entry.AskLookFor,
			CalibratorNotes: entry.CalibratorNotes,
			Evidence:        ev,
			EvidenceCount:   len(ev),
		})
	}

	m.logger.Debug("matching complete",
		"slides", stats.TotalSlides,
		"matched", stats.MatchedSlides,
		"unmatched", stats.UnmatchedSlides,
		"empty", stats.EmptySlides,
		"elements_with_evidence", stats.ElementsWithEvidence,
	)
	return result
}

// MatchBatch matches a loaded evidence batch and records its provenance
// in the result metadata.
func (m *Matcher) MatchBatch(batch *evidence.Batch, registry *element.Registry) *Result {
	if batch == nil {
		batch = &evidence.Batch{}
	}
	result := m.Match(batch.Slides, registry)
	result.Metadata.SourceEvidenceFiles = batch.SourceFiles()
	result.Metadata.TotalSourceSlides = batch.SourceSlideCount()
	return result
}

func notFoundReason(refs []element.ID) string {
	names := make([]string, len(refs))
	for i, id := range refs {
		names[i] = id.String()
	}
	return fmt.Sprintf("Element(s) %s not found in elements list", strings.Join(names, ", "))
}
