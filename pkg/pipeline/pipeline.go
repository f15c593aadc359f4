// Package pipeline wires loading, registry building, matching and
// serialization into the single run used by the CLI, watch mode and the
// MCP tools.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MaxBush6299/audithelpers/pkg/config"
	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/evidence"
	"github.com/MaxBush6299/audithelpers/pkg/extract"
	"github.com/MaxBush6299/audithelpers/pkg/match"
	"github.com/MaxBush6299/audithelpers/pkg/report"
	"github.com/MaxBush6299/audithelpers/pkg/store"
)

// Request names the inputs of one run.
type Request struct {
	ElementsPath    string
	EvidencePaths   []string
	IncludeFullText bool
}

// Outcome is everything a run produced.
type Outcome struct {
	Registry *element.Registry
	Batch    *evidence.Batch
	Result   *match.Result
	Document *report.Document
	Encoded  []byte
}

// Runner executes requests with one configuration.
type Runner struct {
	cfg    *config.Config
	clock  func() time.Time
	logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock fixes the time recorded in result metadata.
func WithClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

// WithLogger sets the logger passed down to the registry and matcher.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner. A nil cfg means config.Default().
func NewRunner(cfg *config.Config, opts ...RunnerOption) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Runner{cfg: cfg, clock: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the configuration the runner was built with.
func (r *Runner) Config() *config.Config {
	return r.cfg
}

// Extractor builds a reference extractor from the configuration.
func (r *Runner) Extractor() *extract.ReferenceExtractor {
	return extract.NewReferenceExtractor(extract.WithUnicodeFolding(r.cfg.Matching.UnicodeFold))
}

// Run loads the inputs, matches them and encodes the result document.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.ElementsPath == "" {
		return nil, fmt.Errorf("elements file is required")
	}

	defs, err := element.LoadDefinitions(req.ElementsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load elements: %w", err)
	}
	registry, err := element.BuildRegistry(defs,
		element.WithCollisionPolicy(r.cfg.CollisionPolicy()),
		element.WithLogger(r.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build element registry: %w", err)
	}

	batch, err := evidence.LoadAll(ctx, req.EvidencePaths, evidence.DefaultLoadConcurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence: %w", err)
	}

	matcher := match.NewMatcher(
		match.WithExtractor(r.Extractor()),
		match.WithWorkers(r.cfg.Matching.Workers),
		match.WithGenerator(r.cfg.Matching.Generator),
		match.WithClock(r.clock),
		match.WithLogger(r.logger),
	)
	result := matcher.MatchBatch(batch, registry)

	doc := report.Serialize(result, report.WithFullText(req.IncludeFullText))
	encoded, err := report.Marshal(doc)
	if err != nil {
		return nil, err
	}

	r.logger.Info("matching finished",
		"elements", registry.Len(),
		"slides", result.Statistics.TotalSlides,
		"matched", result.Statistics.MatchedSlides,
		"unmatched", result.Statistics.UnmatchedSlides,
	)

	return &Outcome{
		Registry: registry,
		Batch:    batch,
		Result:   result,
		Document: doc,
		Encoded:  encoded,
	}, nil
}

// Record saves the outcome as a run in history.
func Record(ctx context.Context, runs store.Store, req Request, out *Outcome, outputPath string) (*store.Run, error) {
	run := store.NewRun(req.ElementsPath, req.EvidencePaths, out.Result.Statistics, out.Encoded)
	run.OutputPath = outputPath
	if err := runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}
