// DTX conformance runner.
//
// Runs a registered conformance case (by default the Opus DTX check) one or
// more times against the Go WebCodecs encoder, prints a summary and exits
// non-zero on failure.
//
// Usage:
//
//	go run ./cmd/dtxcheck
//	go run ./cmd/dtxcheck -repeat 5 -out report.yaml
//	go run ./cmd/dtxcheck -scenario pkg/conformance/testdata/opus-dtx.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thesyncim/conformance/pkg/conformance"
)

func main() {
	caseName := flag.String("case", conformance.OpusDTXCase.Name, "Conformance case to run")
	list := flag.Bool("list", false, "List registered cases and exit")
	scenarioPath := flag.String("scenario", "", "YAML scenario overriding the case's own")
	dataCount := flag.Int("data-count", 0, "Override the scenario segment count")
	repeat := flag.Int("repeat", 1, "Number of runs")
	tolerance := flag.Int("tolerance", 0, "Allowed spread of DTX output counts across runs")
	out := flag.String("out", "", "Write a YAML report to this file")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	if *list {
		for _, c := range conformance.Cases() {
			fmt.Println(c.Name)
		}
		return
	}

	log, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	c, ok := conformance.Lookup(*caseName)
	if !ok {
		log.Fatalw("unknown case", "case", *caseName)
	}
	if *scenarioPath != "" {
		sc, err := conformance.LoadScenario(*scenarioPath)
		if err != nil {
			log.Fatalw("load scenario", "error", err)
		}
		c.Scenario = sc
	}
	if *dataCount > 0 {
		c.Scenario.DataCount = *dataCount
	}
	if *repeat < 1 {
		*repeat = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("DTX Conformance Runner\n")
	fmt.Printf("======================\n")
	fmt.Printf("Case:     %s\n", c.Name)
	fmt.Printf("Scenario: %s (%v, %d segments)\n", c.Scenario.Name, c.Scenario.TotalDuration, c.Scenario.DataCount)
	fmt.Printf("Runs:     %d\n", *repeat)
	fmt.Printf("\n")

	reports, runErr := runCase(ctx, log, c, *repeat)

	dtxCounts := make([]int, 0, len(reports))
	for _, r := range reports {
		dtxCounts = append(dtxCounts, r.DTX)
	}
	detErr := conformance.CheckDeterminism(dtxCounts, *tolerance)

	if *out != "" {
		if err := writeReports(*out, reports); err != nil {
			log.Errorw("write report", "path", *out, "error", err)
		}
	}

	printSummary(reports, detErr)
	if runErr != nil || detErr != nil {
		os.Exit(1)
	}
}

func runCase(ctx context.Context, log *zap.SugaredLogger, c conformance.Case, repeat int) ([]conformance.Report, error) {
	driver := conformance.NewDriver(conformance.WithLogger(log))
	reports := make([]conformance.Report, 0, repeat)
	var errs []error
	for i := 0; i < repeat; i++ {
		res, err := c.Run(ctx, driver, c.Scenario)
		r := conformance.NewReport(c, res, err)
		reports = append(reports, r)
		fmt.Printf("[run %d] normal=%d dtx=%d ratio=%.3f %s (%s)\n",
			i+1, r.Normal, r.DTX, r.Ratio, checkMark(r.Passed), formatDuration(r.Elapsed))
		if err != nil {
			errs = append(errs, fmt.Errorf("run %d: %w", i+1, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return reports, errors.Join(errs...)
}

func writeReports(path string, reports []conformance.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := conformance.WriteReports(f, reports); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(reports []conformance.Report, detErr error) {
	passed := 0
	for _, r := range reports {
		if r.Passed {
			passed++
		}
	}

	fmt.Printf("\n")
	fmt.Printf("Summary\n")
	fmt.Printf("=======\n")
	fmt.Printf("Runs passed:   %d/%d\n", passed, len(reports))
	for _, r := range reports {
		if r.Error != "" {
			fmt.Printf("  %s: %s\n", r.ID, r.Error)
		}
	}
	fmt.Printf("\n")

	fmt.Printf("Pass Criteria:\n")
	fmt.Printf("  - DTX output below threshold: %s\n", checkMark(len(reports) > 0 && passed == len(reports)))
	fmt.Printf("  - Deterministic output:       %s\n", checkMark(detErr == nil))
	if detErr != nil {
		fmt.Printf("    %v\n", detErr)
	}
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func checkMark(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()

	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
