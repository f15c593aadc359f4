// Package mcpserver exposes reference extraction and evidence matching as
// MCP tools.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MaxBush6299/audithelpers/pkg/logging"
	"github.com/MaxBush6299/audithelpers/pkg/pipeline"
	"github.com/MaxBush6299/audithelpers/pkg/report"
	"github.com/MaxBush6299/audithelpers/pkg/store"
)

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	runner *pipeline.Runner
	runs   store.Store
}

// New creates a server whose tools run with runner and record matching
// runs in runs. A nil runs disables recording.
func New(runner *pipeline.Runner, runs store.Store, version string) *Server {
	if runs == nil {
		runs = store.Nop{}
	}
	s := &Server{runner: runner, runs: runs}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "audithelpers", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	logging.New("mcp").Info("starting MCP server over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "extract_references",
		Description: "Find element references (\"2.1 >\", \"(4.1)\", \"PI 6\", ...) in slide text and report the primary one.",
	}, s.handleExtractReferences)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "match_evidence",
		Description: "Match evidence slide files against an element definition file and return the matched-evidence document.",
	}, s.handleMatchEvidence)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_runs",
		Description: "List recorded matching runs, newest first.",
	}, s.handleListRuns)
}

// --- Tool input/output types ---

type extractReferencesInput struct {
	Text string `json:"text" jsonschema:"slide text to scan"`
}

type referenceOutput struct {
	ElementID string `json:"element_id"`
	Pattern   string `json:"pattern"`
	RawText   string `json:"raw_text"`
	Offset    int    `json:"offset"`
}

type extractReferencesOutput struct {
	References     []referenceOutput `json:"references"`
	AllElements    []string          `json:"all_elements"`
	Primary        string            `json:"primary,omitempty"`
	PrimaryPattern string            `json:"primary_pattern,omitempty"`
	SectionHeader  bool              `json:"section_header"`
}

type matchEvidenceInput struct {
	ElementsPath    string   `json:"elements_path" jsonschema:"element definitions file (.json, .yaml or .xlsx)"`
	EvidencePaths   []string `json:"evidence_paths" jsonschema:"evidence JSON files, combined in the given order"`
	IncludeFullText *bool    `json:"include_full_text,omitempty" jsonschema:"include full slide text in evidence (default from config)"`
}

type matchEvidenceOutput struct {
	RunID    string          `json:"run_id,omitempty"`
	Document report.Document `json:"document"`
}

type listRunsInput struct{}

type runOutput struct {
	ID             string   `json:"id"`
	CreatedAt      string   `json:"created_at"`
	ElementsPath   string   `json:"elements_path"`
	EvidencePaths  []string `json:"evidence_paths"`
	TotalSlides    int      `json:"total_slides"`
	MatchedSlides  int      `json:"matched_slides"`
	ElementsMissed int      `json:"elements_without_evidence"`
}

type listRunsOutput struct {
	Runs []runOutput `json:"runs"`
}

// --- Handlers ---

func (s *Server) handleExtractReferences(_ context.Context, _ *sdkmcp.CallToolRequest, input extractReferencesInput) (*sdkmcp.CallToolResult, extractReferencesOutput, error) {
	analysis := s.runner.Extractor().Analyze(input.Text)

	out := extractReferencesOutput{
		References:    make([]referenceOutput, 0, len(analysis.Matches)),
		AllElements:   make([]string, 0, len(analysis.All)),
		SectionHeader: analysis.SectionHeader,
	}
	for _, m := range analysis.Matches {
		out.References = append(out.References, referenceOutput{
			ElementID: m.ElementID.String(),
			Pattern:   m.Kind.String(),
			RawText:   m.RawText,
			Offset:    m.TextOffset,
		})
	}
	for _, id := range analysis.All {
		out.AllElements = append(out.AllElements, id.String())
	}
	if analysis.HasPrimary {
		out.Primary = analysis.Primary.String()
		out.PrimaryPattern = analysis.PrimaryKind.String()
	}
	return nil, out, nil
}

func (s *Server) handleMatchEvidence(ctx context.Context, _ *sdkmcp.CallToolRequest, input matchEvidenceInput) (*sdkmcp.CallToolResult, matchEvidenceOutput, error) {
	req := pipeline.Request{
		ElementsPath:    input.ElementsPath,
		EvidencePaths:   input.EvidencePaths,
		IncludeFullText: s.runner.Config().Output.IncludeFullText,
	}
	if input.IncludeFullText != nil {
		req.IncludeFullText = *input.IncludeFullText
	}

	outcome, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, matchEvidenceOutput{}, fmt.Errorf("match_evidence: %w", err)
	}

	run, err := pipeline.Record(ctx, s.runs, req, outcome, "")
	if err != nil {
		return nil, matchEvidenceOutput{}, fmt.Errorf("match_evidence: %w", err)
	}
	return nil, matchEvidenceOutput{RunID: run.ID, Document: *outcome.Document}, nil
}

func (s *Server) handleListRuns(ctx context.Context, _ *sdkmcp.CallToolRequest, _ listRunsInput) (*sdkmcp.CallToolResult, listRunsOutput, error) {
	runs, err := s.runs.List(ctx)
	if err != nil {
		return nil, listRunsOutput{}, fmt.Errorf("list_runs: %w", err)
	}

	out := listRunsOutput{Runs: make([]runOutput, 0, len(runs))}
	for _, r := range runs {
		out.Runs = append(out.Runs, runOutput{
			ID:             r.ID,
			CreatedAt:      r.CreatedAt.Format(time.RFC3339),
			ElementsPath:   r.ElementsPath,
			EvidencePaths:  r.EvidencePaths,
			TotalSlides:    r.Statistics.TotalSlides,
			MatchedSlides:  r.Statistics.MatchedSlides,
			ElementsMissed: r.Statistics.ElementsWithoutEvidence,
		})
	}
	return nil, out, nil
}
