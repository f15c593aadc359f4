package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	indexFileName    = "index.json"
	runsDir          = "runs"
	runFileName      = "run.json"
	documentFileName = "document.json"
	indexVersion     = "1.0.0"
)

type fileIndex struct {
	Version string       `json:"version"`
	Runs    []RunSummary `json:"runs"`
}

// FileStore keeps runs as plain files: an index.json manifest plus one
// directory per run holding run.json and the result document.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	index *fileIndex
}

// OpenFileStore opens the store rooted at path, creating it if needed.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	if err := os.MkdirAll(filepath.Join(path, runsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{path: path, index: &fileIndex{Version: indexVersion, Runs: []RunSummary{}}}

	data, err := os.ReadFile(filepath.Join(path, indexFileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.saveIndex(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read store index: %w", err)
	default:
		if err := json.Unmarshal(data, s.index); err != nil {
			return nil, fmt.Errorf("failed to parse store index: %w", err)
		}
	}
	return s, nil
}

// Path returns the store's root directory.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the run files and then records the run in the index.
// Saving an existing id replaces it.
func (s *FileStore) Save(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.MarshalIndent(run.Summary(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := s.writeRunFile(run.ID, runFileName, meta); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if err := s.writeRunFile(run.ID, documentFileName, run.Document); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	s.upsert(run.Summary())
	return s.saveIndex()
}

// Get loads a run and its document.
func (s *FileStore) Get(ctx context.Context, id string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.has(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	meta, err := s.readRunFile(id, runFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	var summary RunSummary
	if err := json.Unmarshal(meta, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", id, err)
	}
	doc, err := s.readRunFile(id, documentFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read document for %s: %w", id, err)
	}

	return &Run{
		ID:            summary.ID,
		CreatedAt:     summary.CreatedAt,
		ElementsPath:  summary.ElementsPath,
		EvidencePaths: summary.EvidencePaths,
		OutputPath:    summary.OutputPath,
		Statistics:    summary.Statistics,
		Document:      doc,
	}, nil
}

// List returns the indexed runs, newest first.
func (s *FileStore) List(ctx context.Context) ([]RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]RunSummary, len(s.index.Runs))
	copy(runs, s.index.Runs)
	sortSummaries(runs)
	return runs, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) has(id string) bool {
	for _, r := range s.index.Runs {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *FileStore) upsert(summary RunSummary) {
	for i, existing := range s.index.Runs {
		if existing.ID == summary.ID {
			s.index.Runs[i] = summary
			return
		}
	}
	s.index.Runs = append(s.index.Runs, summary)
}

func (s *FileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store index: %w", err)
	}
	return os.WriteFile(filepath.Join(s.path, indexFileName), data, 0644)
}

func (s *FileStore) runDir(id string) string {
	return filepath.Join(s.path, runsDir, filepath.Base(id))
}

func (s *FileStore) writeRunFile(id, name string, data []byte) error {
	dir := s.runDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

func (s *FileStore) readRunFile(id, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.runDir(id), name))
}
