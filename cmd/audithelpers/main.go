package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/MaxBush6299/audithelpers/pkg/config"
	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/extract"
	"github.com/MaxBush6299/audithelpers/pkg/logging"
	"github.com/MaxBush6299/audithelpers/pkg/mcpserver"
	"github.com/MaxBush6299/audithelpers/pkg/pipeline"
	"github.com/MaxBush6299/audithelpers/pkg/report"
	"github.com/MaxBush6299/audithelpers/pkg/store"
	"github.com/MaxBush6299/audithelpers/pkg/watch"
)

var version = "0.1.0"

// Configuration loaded by the root command before any subcommand runs
var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "audithelpers",
		Short: "Evidence-to-element matching for performance audits",
		Long: `audithelpers maps slide evidence extracted from presentation decks onto
the performance-indicator elements of an audit checklist.

It reads:
  - Element definitions (JSON, YAML or the calibrator Excel workbook)
  - Evidence files listing the text of every slide

and produces a matched-evidence document that groups slides under the
elements they reference, plus a summary of coverage gaps.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			loaded, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				loaded.Logging.Level, _ = cmd.Flags().GetString("log-level")
			}
			if cmd.Flags().Changed("log-format") {
				loaded.Logging.Format, _ = cmd.Flags().GetString("log-format")
			}
			if err := logging.Setup(loaded.Logging.Level, loaded.Logging.Format, os.Stderr); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default "+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(refsCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(elementsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match [evidence-file...]",
		Short: "Match slide evidence to elements",
		Long: `Match the slides of one or more evidence files against an element list
and write the matched-evidence document.

Evidence files are combined in the order given and renumbered into one
sequence. Without --output the document is written next to the first
evidence file as matched_<name>.json.

Example:
  audithelpers match --elements elements.xlsx --evidence deck.json
  audithelpers match -e elements.json deck1.json deck2.json -o matched.json
  audithelpers match -e elements.json deck.json --summary-format markdown`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg, err := matchConfig(cmd)
			if err != nil {
				return err
			}
			req, outputPath, err := matchRequest(cmd, args, runCfg)
			if err != nil {
				return err
			}
			quiet, _ := cmd.Flags().GetBool("quiet")
			formatStr, _ := cmd.Flags().GetString("summary-format")
			mode, err := report.ParseMode(formatStr)
			if err != nil {
				return err
			}
			noHistory, _ := cmd.Flags().GetBool("no-history")

			runner := pipeline.NewRunner(runCfg, pipeline.WithLogger(logging.New("match")))
			outcome, err := runner.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := writeOutput(outputPath, outcome.Encoded); err != nil {
				return err
			}

			if !noHistory {
				if err := recordRun(cmd.Context(), runCfg, req, outcome, outputPath); err != nil {
					return err
				}
			}

			if quiet {
				return nil
			}
			if err := report.WriteSummary(os.Stdout, outcome.Result, mode); err != nil {
				return fmt.Errorf("failed to write summary: %w", err)
			}
			fmt.Printf("Output written to: %s\n", outputPath)
			return nil
		},
	}

	addMatchFlags(cmd)
	cmd.Flags().BoolP("quiet", "q", false, "Do not print the summary")
	cmd.Flags().String("summary-format", "table", "Summary format (table, markdown)")
	cmd.Flags().Bool("no-history", false, "Do not record the run in history")

	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [evidence-file...]",
		Short: "Re-run matching whenever the inputs change",
		Long: `Run matching once, then watch the element and evidence files and run it
again after every change. The output document is rewritten each time.

Example:
  audithelpers watch -e elements.json deck.json -o matched.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg, err := matchConfig(cmd)
			if err != nil {
				return err
			}
			req, outputPath, err := matchRequest(cmd, args, runCfg)
			if err != nil {
				return err
			}
			debounce, _ := cmd.Flags().GetDuration("debounce")

			logger := logging.New("watch")
			runner := pipeline.NewRunner(runCfg, pipeline.WithLogger(logger))

			runOnce := func(ctx context.Context) error {
				outcome, err := runner.Run(ctx, req)
				if err != nil {
					return err
				}
				if err := writeOutput(outputPath, outcome.Encoded); err != nil {
					return err
				}
				stats := outcome.Result.Statistics
				fmt.Printf("[%s] %d/%d slides matched, %d element(s) without evidence -> %s\n",
					time.Now().Format("15:04:05"),
					stats.MatchedSlides, stats.TotalSlides, stats.ElementsWithoutEvidence, outputPath)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runOnce(ctx); err != nil {
				logger.Error("initial run failed", "error", err)
			}

			paths := append([]string{req.ElementsPath}, req.EvidencePaths...)
			watcher, err := watch.NewFileWatcher(paths, runOnce,
				watch.WithDebounce(debounce),
				watch.WithLogger(logger),
			)
			if err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}

			fmt.Printf("Watching %d file(s). Press Ctrl+C to stop.\n", len(paths))
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	addMatchFlags(cmd)
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before re-running after a change")

	return cmd
}

func refsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "Show the element references found in slide text",
		Long: `Scan slide text for element references and show every match, the
distinct elements mentioned and the primary reference.

Example:
  audithelpers refs --text "2.1 > Safety plan (4.1)"
  audithelpers refs --source slide.txt --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			source, _ := cmd.Flags().GetString("source")
			formatStr, _ := cmd.Flags().GetString("format")

			if source != "" {
				data, err := os.ReadFile(source)
				if err != nil {
					return fmt.Errorf("failed to read source: %w", err)
				}
				text = string(data)
			}
			if text == "" {
				return fmt.Errorf("--text or --source flag is required")
			}

			extractor := extract.NewReferenceExtractor(extract.WithUnicodeFolding(cfg.Matching.UnicodeFold))
			analysis := extractor.Analyze(text)

			switch formatStr {
			case "json":
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				encoder.SetEscapeHTML(false)
				return encoder.Encode(analysis)
			case "table":
			default:
				return fmt.Errorf("unknown format: %s (use table or json)", formatStr)
			}

			if len(analysis.Matches) == 0 {
				fmt.Println("No element references found.")
				if analysis.SectionHeader {
					fmt.Println("Slide looks like a section header.")
				}
				return nil
			}

			tw := table.NewWriter()
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"Element", "Pattern", "Offset", "Text"})
			for _, m := range analysis.Matches {
				tw.AppendRow(table.Row{m.ElementID, m.Kind, m.TextOffset, truncateString(m.RawText, 40)})
			}
			fmt.Println(tw.Render())

			ids := make([]string, len(analysis.All))
			for i, id := range analysis.All {
				ids[i] = id.String()
			}
			counts := extract.CountByKind(analysis.Matches)
			var tally []string
			for _, kind := range extract.Kinds {
				if n := counts[kind]; n > 0 {
					tally = append(tally, fmt.Sprintf("%s=%d", kind, n))
				}
			}

			fmt.Printf("\nElements: %s\n", strings.Join(ids, ", "))
			fmt.Printf("Patterns: %s\n", strings.Join(tally, ", "))
			if analysis.HasPrimary {
				fmt.Printf("Primary:  %s (%s)\n", analysis.Primary, analysis.PrimaryKind)
			}
			if analysis.SectionHeader {
				fmt.Println("Slide looks like a section header.")
			}
			return nil
		},
	}

	cmd.Flags().StringP("text", "t", "", "Slide text to scan")
	cmd.Flags().StringP("source", "s", "", "File holding the slide text")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")

	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <matched-file>",
		Short: "Print the summary of a matched-evidence document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatStr, _ := cmd.Flags().GetString("format")
			mode, err := report.ParseMode(formatStr)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			doc, err := report.Unmarshal(data)
			if err != nil {
				return err
			}
			result, err := doc.Result()
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			return report.WriteSummary(os.Stdout, result, mode)
		},
	}

	cmd.Flags().StringP("format", "f", "table", "Summary format (table, markdown)")

	return cmd
}

func elementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "elements <elements-file>",
		Short: "Validate and convert an element list",
		Long: `Load an element list, report how it was ingested and optionally write it
back out as JSON or YAML.

Example:
  audithelpers elements calibrator.xlsx
  audithelpers elements calibrator.xlsx --format json -o elements.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatStr, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")

			defs, err := element.LoadDefinitions(args[0])
			if err != nil {
				return fmt.Errorf("failed to load elements: %w", err)
			}
			registry, err := element.BuildRegistry(defs,
				element.WithCollisionPolicy(cfg.CollisionPolicy()),
				element.WithLogger(logging.New("elements")),
			)
			if err != nil {
				return fmt.Errorf("failed to build element registry: %w", err)
			}

			buildReport := registry.Report()
			fmt.Fprintf(os.Stderr, "Rows: %d, registered: %d, skipped: %d, collisions: %d\n",
				buildReport.Total, buildReport.Registered, len(buildReport.Skipped), len(buildReport.Collisions))
			for _, c := range buildReport.Collisions {
				fmt.Fprintf(os.Stderr, "  %s: rows %d and %d (%s)\n", c.ID, c.First+1, c.Second+1, c.Policy)
			}

			var write func(*os.File) error
			switch formatStr {
			case "":
				return nil
			case "json":
				write = func(f *os.File) error { return element.WriteJSON(f, defs) }
			case "yaml":
				write = func(f *os.File) error { return element.WriteYAML(f, defs) }
			default:
				return fmt.Errorf("unknown format: %s (use json or yaml)", formatStr)
			}

			if output == "" {
				return write(os.Stdout)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if err := write(f); err != nil {
				f.Close()
				return fmt.Errorf("failed to write elements: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write elements: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Elements exported to: %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringP("format", "f", "", "Convert to format (json, yaml)")
	cmd.Flags().StringP("output", "o", "", "Output file path (default stdout)")

	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded matching runs or show one of them",
		Long: `Without arguments, list recorded runs newest first. With a run id, show
that run; --document prints the matched-evidence document it produced.

Example:
  audithelpers history
  audithelpers history 7f0c... --document > matched.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatStr, _ := cmd.Flags().GetString("format")
			showDocument, _ := cmd.Flags().GetBool("document")

			runs, err := store.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer runs.Close()

			if len(args) == 1 {
				run, err := runs.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to load run %s: %w", args[0], err)
				}
				if showDocument {
					_, err := os.Stdout.Write(run.Document)
					return err
				}
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(run)
			}

			list, err := runs.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if formatStr == "json" {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(list)
			}

			if len(list) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			tw := table.NewWriter()
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"ID", "Created", "Elements", "Slides", "Matched", "Missing"})
			for _, r := range list {
				tw.AppendRow(table.Row{
					r.ID,
					r.CreatedAt.Local().Format("2006-01-02 15:04"),
					truncateString(r.ElementsPath, 30),
					r.Statistics.TotalSlides,
					r.Statistics.MatchedSlides,
					r.Statistics.ElementsWithoutEvidence,
				})
			}
			fmt.Println(tw.Render())
			fmt.Printf("\n%d run(s)\n", len(list))
			return nil
		},
	}

	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	cmd.Flags().Bool("document", false, "Print the stored document of the run")

	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Start an MCP server over stdin/stdout exposing the extract_references,
match_evidence and list_runs tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := store.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer runs.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := pipeline.NewRunner(cfg, pipeline.WithLogger(logging.New("mcp")))
			return mcpserver.New(runner, runs, version).Run(ctx)
		},
	}
}

func addMatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("elements", "e", "", "Element definitions file (.json, .yaml, .xlsx)")
	cmd.Flags().StringSlice("evidence", nil, "Evidence JSON file (repeatable)")
	cmd.Flags().StringP("output", "o", "", "Output file path (default matched_<evidence>.json)")
	cmd.Flags().Bool("include-full-text", true, "Include full slide text in evidence records")
	cmd.Flags().Int("workers", 0, "Slides analysed in parallel (default from config)")
	cmd.Flags().String("collision-policy", "", "Duplicate element handling (overwrite, reject, merge)")
}

// matchConfig applies the matching flags that were set on top of the
// loaded configuration.
func matchConfig(cmd *cobra.Command) (*config.Config, error) {
	runCfg := *cfg
	if cmd.Flags().Changed("include-full-text") {
		runCfg.Output.IncludeFullText, _ = cmd.Flags().GetBool("include-full-text")
	}
	if cmd.Flags().Changed("workers") {
		runCfg.Matching.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("collision-policy") {
		runCfg.Matching.CollisionPolicy, _ = cmd.Flags().GetString("collision-policy")
	}
	if err := runCfg.Validate(); err != nil {
		return nil, err
	}
	return &runCfg, nil
}

func matchRequest(cmd *cobra.Command, args []string, runCfg *config.Config) (pipeline.Request, string, error) {
	elementsPath, _ := cmd.Flags().GetString("elements")
	evidencePaths, _ := cmd.Flags().GetStringSlice("evidence")
	output, _ := cmd.Flags().GetString("output")

	evidencePaths = append(evidencePaths, args...)
	if elementsPath == "" {
		return pipeline.Request{}, "", fmt.Errorf("--elements flag is required")
	}
	if len(evidencePaths) == 0 {
		return pipeline.Request{}, "", fmt.Errorf("at least one evidence file is required")
	}
	for _, path := range append([]string{elementsPath}, evidencePaths...) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return pipeline.Request{}, "", fmt.Errorf("file not found: %s", path)
		}
	}
	if output == "" {
		output = defaultOutputPath(evidencePaths[0])
	}

	return pipeline.Request{
		ElementsPath:    elementsPath,
		EvidencePaths:   evidencePaths,
		IncludeFullText: runCfg.Output.IncludeFullText,
	}, output, nil
}

// defaultOutputPath names the document after the first evidence file.
func defaultOutputPath(evidencePath string) string {
	stem := strings.TrimSuffix(filepath.Base(evidencePath), filepath.Ext(evidencePath))
	return filepath.Join(filepath.Dir(evidencePath), "matched_"+stem+".json")
}

func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func recordRun(ctx context.Context, runCfg *config.Config, req pipeline.Request, outcome *pipeline.Outcome, outputPath string) error {
	runs, err := store.Open(runCfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer runs.Close()

	_, err = pipeline.Record(ctx, runs, req, outcome, outputPath)
	return err
}

func truncateString(inputStr string, maxLength int) string {
	runes := []rune(inputStr)
	if len(runes) <= maxLength {
		return inputStr
	}
	return string(runes[:maxLength-3]) + "..."
}
