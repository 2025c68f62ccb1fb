package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ledgerkv/internal/harness"
)

// TestOptions holds the test command's flags.
type TestOptions struct {
	*RootOptions
	Update   bool
	Filter   string
	Parallel int
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	File   string   `json:"file"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Note   string   `json:"note,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult summarises a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files against a fresh in-memory ledger",
		Long: `Run scenario files, each against its own in-memory ledger with a
deterministic clock and record ids.

A scenario passes when every expect clause and assertion holds and, if
golden/<scenario>.golden exists next to it, its trace matches that file.
Scenarios run concurrently; results are reported in file order.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing directory, bad filter)

Examples:
  ledgerkv test ./scenarios
  ledgerkv test ./scenarios --filter "reopen_*"
  ledgerkv test ./scenarios --update
  ledgerkv test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from this run")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name (without extension) matches this glob")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "j", 4, "scenarios to run at once")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, dir string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	out := formatter(cmd, opts.RootOptions)
	if len(files) == 0 {
		return out.Result(TestResult{Scenarios: []ScenarioResult{}}, "No scenarios found.")
	}

	results := make([]ScenarioResult, len(files))
	logger := scenarioLogger(cmd.ErrOrStderr(), opts.Verbose)

	g, ctx := errgroup.WithContext(commandContext(cmd))
	g.SetLimit(max(opts.Parallel, 1))
	for i, file := range files {
		g.Go(func() error {
			results[i] = runScenario(ctx, file, opts.Update, logger)
			return nil
		})
	}
	_ = g.Wait()

	summary := TestResult{Scenarios: results, Total: len(results)}
	for _, r := range results {
		if r.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return reportTests(out, summary)
}

// findScenarioFiles lists the .yaml and .yml files directly in dir, sorted,
// keeping those whose base name matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", filter, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext)); !ok {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// runScenario loads, runs and golden-checks one scenario file.
func runScenario(ctx context.Context, file string, update bool, logger *slog.Logger) ScenarioResult {
	res := ScenarioResult{File: file, Name: filepath.Base(file)}
	failed := func(errs ...string) ScenarioResult {
		res.Errors = errs
		return res
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return failed(err.Error())
	}
	res.Name = scenario.Name

	run, err := harness.RunContext(ctx, scenario, logger)
	if err != nil {
		return failed("execution failed: " + err.Error())
	}
	if !run.Pass {
		return failed(run.Errors...)
	}

	note, err := checkGolden(file, scenario.Name, run, update)
	if err != nil {
		return failed(err.Error())
	}
	res.Pass = true
	res.Note = note
	return res
}

// checkGolden compares run with the scenario's golden file, or rewrites it
// when update is set. A scenario without a golden file passes unchecked.
func checkGolden(file, name string, run *harness.Result, update bool) (string, error) {
	path := harness.GoldenPath(file)
	if update {
		if err := harness.WriteGolden(path, name, run); err != nil {
			return "", fmt.Errorf("update golden file: %w", err)
		}
		return "golden updated", nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	match, err := harness.CompareGolden(path, name, run)
	if err != nil {
		return "", fmt.Errorf("compare golden file: %w", err)
	}
	if !match {
		return "", fmt.Errorf("trace differs from %s (run with --update to regenerate)", path)
	}
	return "", nil
}

// scenarioLogger drops the warnings scenarios provoke on purpose unless
// verbose.
func scenarioLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func reportTests(out *OutputFormatter, summary TestResult) error {
	var failure error
	if summary.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}

	if out.isJSON() {
		if failure != nil {
			if err := out.Error(ErrCodeTestFailed, failure.Error(), summary); err != nil {
				return err
			}
			return failure
		}
		return out.Success(summary)
	}

	w := out.Writer
	for _, r := range summary.Scenarios {
		switch {
		case !r.Pass:
			fmt.Fprintf(w, "FAIL %s\n", r.Name)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		case r.Note != "":
			fmt.Fprintf(w, "ok   %s (%s)\n", r.Name, r.Note)
		default:
			fmt.Fprintf(w, "ok   %s\n", r.Name)
		}
	}
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	if failure != nil {
		return failure
	}
	fmt.Fprintln(w, "All scenarios passed")
	return nil
}
