// Command etlpulse runs the ETL pipeline over a CSV file and writes the
// processed data and a metadata document into an output directory.
//
//	etlpulse -in sales.csv -out output -formats csv,xlsx \
//	    -filters '{"Sales":{"min":2500}}' -transforms normalize
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"etlpulse/internal/annotator"
	"etlpulse/internal/chart"
	"etlpulse/internal/config"
	"etlpulse/internal/filter"
	"etlpulse/internal/infrastructure"
	"etlpulse/internal/pipeline"
	"etlpulse/internal/transform"
	"etlpulse/internal/validation"
)

const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

type options struct {
	in         string
	out        string
	formats    string
	filters    string
	transforms string
	charts     string
	strategy   string
	delimiter  string
	logLevel   string
	annotate   bool
	jsonOutput bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("etlpulse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.in, "in", "", "input CSV file (required)")
	fs.StringVar(&o.out, "out", "", "output directory (default: configured pipeline output directory)")
	fs.StringVar(&o.formats, "formats", "csv,json", "comma separated export formats: csv, json, excel, parquet")
	fs.StringVar(&o.filters, "filters", "", `filter JSON such as {"Sales":{"min":2500}}, or @file.json`)
	fs.StringVar(&o.transforms, "transforms", "", "comma separated transforms: normalize, standardize")
	fs.StringVar(&o.charts, "charts", "", "comma separated chart kinds to build (default: all)")
	fs.StringVar(&o.strategy, "strategy", "", "missing value strategy: impute or drop")
	fs.StringVar(&o.delimiter, "delimiter", "", "field delimiter (default: sniffed)")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&o.annotate, "annotate", false, "print the detected business domain")
	fs.BoolVar(&o.jsonOutput, "json", false, "print the run result as JSON")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.in == "" {
		fs.Usage()
		return o, errors.New("-in is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "error:", err)
		}
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "warning: using default configuration:", err)
		cfg = config.Default()
	}
	applyOverrides(cfg, o)

	logger := infrastructure.NewLogger(stderr, cfg.Logging.Level).
		With("component", "etlpulse-cli")

	files := validation.NewFileValidator(cfg.Pipeline.MaxUploadBytes, nil, logger)
	if err := files.ValidateInputFile(o.in); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitUsage
	}

	req, err := buildRequest(o)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitUsage
	}

	opts, err := pipeline.OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitUsage
	}
	if err := files.ValidateOutputDirectory(opts.OutputDir); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitRun
	}

	runner := pipeline.NewRunner(opts, pipeline.NewMemoryStore(), nil, logger)
	res, err := runner.Run(ctx, req)
	if err != nil {
		if re, ok := pipeline.AsRunError(err); ok {
			fmt.Fprintf(stderr, "run %s failed at %s: %v\n", re.RunID, re.Stage, re.Err)
		} else {
			fmt.Fprintln(stderr, "error:", err)
		}
		return exitRun
	}

	var ann *annotator.Annotation
	if o.annotate {
		var profiles []annotator.Profile
		if path := cfg.Pipeline.ProfilesFile; path != "" {
			if profiles, err = annotator.LoadProfiles(path); err != nil {
				fmt.Fprintln(stderr, "error:", err)
				return exitUsage
			}
		}
		a := annotator.New(profiles).AnnotateSummary(res.Summary)
		ann = &a
	}

	if o.jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			*pipeline.Result
			Annotation *annotator.Annotation `json:"annotation,omitempty"`
		}{res, ann}); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return exitRun
		}
		return exitOK
	}

	printResult(stdout, res, ann)
	return exitOK
}

func applyOverrides(cfg *config.Config, o options) {
	if o.out != "" {
		cfg.Pipeline.OutputDir = o.out
	}
	if cfg.Pipeline.OutputDir == "" {
		cfg.Pipeline.OutputDir = "output"
	}
	if o.strategy != "" {
		cfg.Pipeline.MissingStrategy = o.strategy
	}
	if o.delimiter != "" {
		cfg.Pipeline.Delimiter = o.delimiter
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
}

func buildRequest(o options) (pipeline.Request, error) {
	source, err := os.ReadFile(o.in)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("read input: %w", err)
	}

	req := pipeline.Request{
		Source:  source,
		Name:    filepath.Base(o.in),
		Formats: splitList(o.formats),
	}

	if raw := strings.TrimSpace(o.filters); raw != "" {
		if strings.HasPrefix(raw, "@") {
			data, err := os.ReadFile(raw[1:])
			if err != nil {
				return pipeline.Request{}, fmt.Errorf("read filters: %w", err)
			}
			raw = string(data)
		}
		var spec filter.Spec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return pipeline.Request{}, fmt.Errorf("parse filters: %w", err)
		}
		req.Filters = spec
	}

	if req.Transforms, err = transform.ParseSpec(splitList(o.transforms)); err != nil {
		return pipeline.Request{}, err
	}

	for _, name := range splitList(o.charts) {
		kind, err := chart.ParseKind(name)
		if err != nil {
			return pipeline.Request{}, err
		}
		req.ChartKinds = append(req.ChartKinds, kind)
	}
	return req, nil
}

func printResult(w io.Writer, res *pipeline.Result, ann *annotator.Annotation) {
	s := res.Summary
	fmt.Fprintf(w, "run %s (%s)\n", res.RunID, res.Source)
	fmt.Fprintf(w, "rows: %d -> %d, columns: %d\n", s.OriginalRowCount, s.ProcessedRowCount, s.ColumnCount)
	fmt.Fprintf(w, "completeness: %.1f%%, duplicates removed: %d\n",
		s.DataQuality.Completeness*100, res.Report.Cleaning.DuplicatesRemoved)
	for _, node := range res.Flow.Nodes {
		fmt.Fprintf(w, "  %-10s %s\n", node.ID, node.Status)
	}
	if ann != nil {
		fmt.Fprintf(w, "domain: %s (confidence %.2f)\n", ann.Name, ann.Confidence)
	}
	for _, path := range res.Report.Outputs {
		fmt.Fprintln(w, "wrote", path)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
