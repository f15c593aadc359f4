package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// DefaultLoadConcurrency bounds how many evidence files are read at once.
const DefaultLoadConcurrency = 4

// ReadBatch decodes one evidence document.
func ReadBatch(r io.Reader) (*Batch, error) {
	var batch Batch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decoding evidence: %w", err)
	}
	return &batch, nil
}

// LoadBatch reads the evidence file at path.
func LoadBatch(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening evidence file: %w", err)
	}
	defer f.Close()

	batch, err := ReadBatch(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return batch, nil
}

// LoadBatches reads the evidence files concurrently and returns them in
// argument order. The first failure cancels the remaining reads.
func LoadBatches(ctx context.Context, paths []string, concurrency int) ([]*Batch, error) {
	if concurrency <= 0 {
		concurrency = DefaultLoadConcurrency
	}

	batches := make([]*Batch, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			batch, err := LoadBatch(path)
			if err != nil {
				return err
			}
			batches[i] = batch
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// Combine concatenates batches in order. Slide indexes are renumbered
// continuously from 1 while each slide keeps its SourceFile and
// SourceIndex. A single batch is returned with its numbering intact.
func Combine(batches ...*Batch) *Batch {
	if len(batches) == 1 && batches[0] != nil {
		return batches[0]
	}

	combined := &Batch{}
	var sourceFiles []string
	seen := make(map[string]bool)
	total := 0
	next := 1

	for _, batch := range batches {
		if batch == nil {
			continue
		}
		for _, file := range batch.SourceFiles() {
			if !seen[file] {
				seen[file] = true
				sourceFiles = append(sourceFiles, file)
			}
		}
		total += batch.SourceSlideCount()

		for _, slide := range batch.Slides {
			slide.Index = next
			next++
			combined.Slides = append(combined.Slides, slide)
		}
	}

	combined.SourceFileList = sourceFiles
	combined.SetSourceSlideCount(total)
	return combined
}

// LoadAll loads and combines the evidence files at paths.
func LoadAll(ctx context.Context, paths []string, concurrency int) (*Batch, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no evidence files given")
	}
	batches, err := LoadBatches(ctx, paths, concurrency)
	if err != nil {
		return nil, err
	}
	return Combine(batches...), nil
}
