package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MaxBush6299/audithelpers/pkg/config"
	"github.com/MaxBush6299/audithelpers/pkg/match"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one recorded matching run: its inputs, its statistics and the
// serialized result document.
type Run struct {
	ID            string           `json:"id"`
	CreatedAt     time.Time        `json:"created_at"`
	ElementsPath  string           `json:"elements_path"`
	EvidencePaths []string         `json:"evidence_paths"`
	OutputPath    string           `json:"output_path,omitempty"`
	Statistics    match.Statistics `json:"statistics"`

	// Document is the JSON produced by report.Marshal, stored byte for byte.
	Document []byte `json:"-"`
}

// RunSummary is a Run without its document.
type RunSummary struct {
	ID            string           `json:"id"`
	CreatedAt     time.Time        `json:"created_at"`
	ElementsPath  string           `json:"elements_path"`
	EvidencePaths []string         `json:"evidence_paths"`
	OutputPath    string           `json:"output_path,omitempty"`
	Statistics    match.Statistics `json:"statistics"`
}

// NewRun creates a run with a fresh id stamped with the current time.
func NewRun(elementsPath string, evidencePaths []string, stats match.Statistics, document []byte) *Run {
	return &Run{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		ElementsPath:  elementsPath,
		EvidencePaths: slices.Clone(evidencePaths),
		Statistics:    stats,
		Document:      document,
	}
}

// Summary drops the document.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		ElementsPath:  r.ElementsPath,
		EvidencePaths: slices.Clone(r.EvidencePaths),
		OutputPath:    r.OutputPath,
		Statistics:    r.Statistics,
	}
}

// Store keeps run history.
type Store interface {
	Save(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// List returns every run, newest first.
	List(ctx context.Context) ([]RunSummary, error)
	Close() error
}

// Open builds the store selected by cfg. It is called once at startup and
// the result passed to whatever needs history.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return OpenFileStore(cfg.Path)
	case config.BackendSQLite:
		return OpenSQLite(cfg.Path)
	case config.BackendNone, "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

func validateRun(run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	return nil
}

// sortSummaries orders newest first, breaking ties by id.
func sortSummaries(runs []RunSummary) {
	slices.SortFunc(runs, func(a, b RunSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

// Nop discards runs. It backs the "none" storage backend.
type Nop struct{}

func (Nop) Save(context.Context, *Run) error { return nil }

func (Nop) Get(_ context.Context, id string) (*Run, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (Nop) List(context.Context) ([]RunSummary, error) { return []RunSummary{}, nil }

func (Nop) Close() error { return nil }
