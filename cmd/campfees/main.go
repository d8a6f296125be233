// Command campfees is the operator tool for pricing rulesets: it validates,
// lints and exports ruleset documents, scans ruleset sources, imports
// documents into the configured store and quotes prices.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/shopspring/decimal"

	"campfees/internal/config"
	"campfees/internal/core"
	"campfees/internal/pricing"
	"campfees/internal/rulesource"
	"campfees/internal/ruleset"
)

var (
	exitFunc = os.Exit
	readFile = os.ReadFile
	loadEnv  = config.Load
)

const usage = `usage: campfees <command> [flags]

commands:
  validate <file>   check a ruleset document, report the first problem
  lint <file>       report every structural problem of a document
  export <file>     print the normalized form of a document
  example           print an example document
  scan              summarise the documents of the configured source
  import <key>      import a document from the source into the store
  quote <file>      price one participant against a document
`

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := loadEnv()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	logger, err := config.NewLogger(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	ctx := context.Background()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "validate":
		return runValidate(rest, stdout, stderr)
	case "lint":
		return runLint(rest, stdout, stderr)
	case "export":
		return runExport(rest, stdout, stderr)
	case "example":
		_, _ = stdout.Write(ruleset.Example())
		return 0
	case "scan":
		return runScan(ctx, cfg, logger, rest, stdout, stderr)
	case "import":
		return runImport(ctx, cfg, logger, rest, stdout, stderr)
	case "quote":
		return runQuote(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", cmd, usage)
		return 2
	}
}

// fileArg parses flags and returns the single positional file argument.
func fileArg(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s expects exactly one file argument", fs.Name())
	}
	return fs.Arg(0), nil
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path, err := fileArg(fs, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	raw, err := readFile(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	rs, _, err := ruleset.Load(raw)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "%s: ok (%s, %d age groups)\n", path, rs.Name, len(rs.AgeGroups))
	return 0
}

func runLint(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path, err := fileArg(fs, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	raw, err := readFile(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	doc, err := ruleset.Parse(raw)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", path, err)
		return 1
	}
	issues := ruleset.Lint(doc)
	for _, issue := range issues {
		fmt.Fprintf(stdout, "%s: %s\n", path, issue)
	}
	if len(issues) > 0 {
		return 1
	}
	fmt.Fprintf(stdout, "%s: no issues\n", path)
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path, err := fileArg(fs, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	raw, err := readFile(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	rs, _, err := ruleset.Load(raw)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", path, err)
		return 1
	}
	out, err := ruleset.Marshal(rs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	_, _ = stdout.Write(out)
	return 0
}

func runScan(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Source.Driver, "driver", cfg.Source.Driver, "source driver: fs|s3|memory")
	fs.StringVar(&cfg.Source.Root, "root", cfg.Source.Root, "directory scanned by the fs driver")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	src, err := rulesource.Open(ctx, cfg.Source)
	if err != nil {
		fmt.Fprintf(stderr, "open source: %v\n", err)
		return 1
	}
	entries, err := rulesource.Scan(ctx, src)
	if err != nil {
		fmt.Fprintf(stderr, "scan: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	invalid := 0
	for _, entry := range entries {
		if !entry.Valid {
			invalid++
			logger.Warn("invalid ruleset document", "key", entry.Key, "error", entry.Error)
		}
		if err := enc.Encode(entry); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	logger.Info("scan finished", "driver", src.Driver(), "documents", len(entries), "invalid", invalid)
	return 0
}

func runImport(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Source.Driver, "driver", cfg.Source.Driver, "source driver: fs|s3|memory")
	fs.StringVar(&cfg.Source.Root, "root", cfg.Source.Root, "directory read by the fs driver")
	eventID := fs.String("event", "", "event the ruleset belongs to (empty leaves it unbound)")
	activate := fs.Bool("activate", false, "activate the imported ruleset and reprice the event")
	key, err := fileArg(fs, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *activate && *eventID == "" {
		fmt.Fprintln(stderr, "-activate requires -event")
		return 2
	}

	src, err := rulesource.Open(ctx, cfg.Source)
	if err != nil {
		fmt.Fprintf(stderr, "open source: %v\n", err)
		return 1
	}
	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	opts, flush, err := observability(cfg.Observability)
	if err != nil {
		fmt.Fprintf(stderr, "observability: %v\n", err)
		return 1
	}
	defer func() {
		if err := flush(); err != nil {
			logger.Warn("flush observability", "error", err)
		}
	}()
	svc := core.NewService(store, append(opts, core.WithLogger(logger))...)

	rs, err := rulesource.Import(ctx, svc, src, key, *eventID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "imported %s as ruleset %s\n", key, rs.ID)
	if !*activate {
		return 0
	}
	res, err := svc.ActivateRuleset(ctx, *eventID, rs.ID)
	if err != nil {
		fmt.Fprintf(stderr, "activate: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "activated: %d deactivated, %d recalculated, %d skipped, %d failed, %d unmatched\n",
		res.Deactivated, res.Recalculated, res.Skipped, res.Failed, len(res.Unmatched))
	return 0
}

// observability builds the service options for the configured exporters.
// The returned flush closes the trace file and writes the metrics snapshot.
func observability(cfg config.Observability) ([]core.Option, func() error, error) {
	var opts []core.Option
	var finish []func() error
	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
		finish = append(finish, f.Close)
	}
	if cfg.MetricsFile != "" {
		reg := prometheus.NewRegistry()
		recorder, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(recorder))
		finish = append(finish, func() error { return writeMetrics(reg, cfg.MetricsFile) })
	}
	flush := func() error {
		var errs []error
		for _, fn := range finish {
			errs = append(errs, fn())
		}
		return errors.Join(errs...)
	}
	return opts, flush, nil
}

func writeMetrics(g prometheus.Gatherer, path string) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func runQuote(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	fs.SetOutput(stderr)
	age := fs.Int("age", -1, "age at event start")
	role := fs.String("role", "", "role key")
	position := fs.Int("position", 1, "1-based position among siblings")
	discount := fs.String("discount", "0", "manual discount percent")
	reason := fs.String("reason", "", "manual discount reason")
	override := fs.String("override", "", "manual price override")
	path, err := fileArg(fs, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *age < 0 {
		fmt.Fprintln(stderr, "-age is required")
		return 2
	}
	raw, err := readFile(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	rs, _, err := ruleset.Load(raw)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", path, err)
		return 1
	}

	facts := pricing.NewFacts(*age)
	facts.RoleKey = *role
	facts.FamilyPosition = *position
	facts.ManualDiscountReason = *reason
	if facts.ManualDiscountPercent, err = decimal.NewFromString(*discount); err != nil {
		fmt.Fprintf(stderr, "-discount: %v\n", err)
		return 2
	}
	if *override != "" {
		value, err := decimal.NewFromString(*override)
		if err != nil {
			fmt.Fprintf(stderr, "-override: %v\n", err)
			return 2
		}
		facts.ManualPriceOverride = &value
	}

	breakdown := pricing.ComputePrice(facts, rs)
	if !breakdown.AgeGroupMatched {
		fmt.Fprintf(stderr, "warning: no age group matches age %d\n", *age)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(breakdown); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

