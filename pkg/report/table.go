package report

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode selects how summary tables are rendered.
type Mode int

const (
	ASCII    Mode = iota // box-drawn terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps "text"/"ascii"/"table" and "markdown"/"md" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "ascii", "table":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	default:
		return ASCII, fmt.Errorf("unknown summary format: %s (use table or markdown)", s)
	}
}

// tableBuilder wraps a go-pretty writer so every summary section renders
// the same way.
type tableBuilder struct {
	writer table.Writer
	mode   Mode
}

func newTable(mode Mode, title string) *tableBuilder {
	w := table.NewWriter()
	if mode == ASCII {
		w.SetStyle(table.StyleLight)
		w.SetTitle(title)
	}
	return &tableBuilder{writer: w, mode: mode}
}

func (b *tableBuilder) header(cols ...any) {
	b.writer.AppendHeader(table.Row(cols))
}

func (b *tableBuilder) row(vals ...any) {
	b.writer.AppendRow(table.Row(vals))
}

func (b *tableBuilder) alignRight(columns ...int) {
	cfgs := make([]table.ColumnConfig, len(columns))
	for i, n := range columns {
		cfgs[i] = table.ColumnConfig{Number: n, Align: text.AlignRight}
	}
	b.writer.SetColumnConfigs(cfgs)
}

func (b *tableBuilder) String() string {
	if b.mode == Markdown {
		return b.writer.RenderMarkdown()
	}
	return b.writer.Render()
}
