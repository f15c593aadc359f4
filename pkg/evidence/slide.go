// Package evidence models the slide text produced by the extraction stage
// and loads it from the evidence JSON files.
package evidence

import (
	"encoding/json"
	"strings"
)

// unknownSource labels slides whose originating file was not recorded.
const unknownSource = "unknown"

// Slide is the text of one slide together with its provenance.
// Index is unique within a batch and is renumbered when batches are
// combined; SourceFile and SourceIndex always point at the original deck.
type Slide struct {
	Index       int    `json:"index"`
	SourceFile  string `json:"source_file"`
	SourceIndex int    `json:"source_index"`
	Text        string `json:"text"`
}

// IsBlank reports whether the slide carries no text at all.
func (s Slide) IsBlank() bool {
	return strings.TrimSpace(s.Text) == ""
}

// Batch is the content of one evidence file.
type Batch struct {
	SourceFile     string   `json:"source_file,omitempty"`
	SourceFileList []string `json:"source_files,omitempty"`
	TotalSlides    int      `json:"total_slides,omitempty"`
	Slides         []Slide  `json:"slides"`
	hasTotalSlides bool
}

// batchJSON is the wire form; pointer fields distinguish absent values.
type batchJSON struct {
	SourceFile     string      `json:"source_file"`
	SourceFileList []string    `json:"source_files"`
	TotalSlides    *int        `json:"total_slides"`
	Slides         []slideJSON `json:"slides"`
}

type slideJSON struct {
	Index       int     `json:"index"`
	SourceFile  *string `json:"source_file"`
	SourceIndex *int    `json:"source_index"`
	Text        string  `json:"text"`
}

// UnmarshalJSON fills provenance defaults: a slide without a source file
// inherits the batch's (or "unknown"), and a slide without a source index
// uses its own index.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var raw batchJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	batchSource := raw.SourceFile
	if batchSource == "" {
		batchSource = unknownSource
	}

	slides := make([]Slide, len(raw.Slides))
	for i, s := range raw.Slides {
		slide := Slide{Index: s.Index, SourceFile: batchSource, SourceIndex: s.Index, Text: s.Text}
		if s.SourceFile != nil {
			slide.SourceFile = *s.SourceFile
		}
		if s.SourceIndex != nil {
			slide.SourceIndex = *s.SourceIndex
		}
		slides[i] = slide
	}

	*b = Batch{
		SourceFile:     raw.SourceFile,
		SourceFileList: raw.SourceFileList,
		Slides:         slides,
	}
	if raw.TotalSlides != nil {
		b.TotalSlides = *raw.TotalSlides
		b.hasTotalSlides = true
	}
	return nil
}

// SourceFiles lists the presentation files the batch was extracted from.
func (b *Batch) SourceFiles() []string {
	if len(b.SourceFileList) > 0 {
		return append([]string(nil), b.SourceFileList...)
	}
	if b.SourceFile == "" || b.SourceFile == unknownSource {
		return []string{}
	}
	return []string{b.SourceFile}
}

// SourceSlideCount is the slide count reported by the extractor, falling
// back to the number of slides present.
func (b *Batch) SourceSlideCount() int {
	if b.hasTotalSlides {
		return b.TotalSlides
	}
	return len(b.Slides)
}

// SetSourceSlideCount records the extractor's slide count.
func (b *Batch) SetSourceSlideCount(n int) {
	b.TotalSlides = n
	b.hasTotalSlides = true
}
