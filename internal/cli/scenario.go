package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/regsync/internal/harness"
)

// ScenarioReport is the outcome of one or more scenario runs.
type ScenarioReport struct {
	Scenarios []ScenarioRun `json:"scenarios"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
}

// ScenarioRun is one scenario's outcome and trace.
type ScenarioRun struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Trace  string   `json:"trace,omitempty"`
}

// RenderText prints each trace followed by its verdict.
func (r ScenarioReport) RenderText(w io.Writer) {
	for _, s := range r.Scenarios {
		if s.Trace != "" {
			fmt.Fprint(w, s.Trace)
		}
		if s.Pass {
			fmt.Fprintf(w, "PASS %s\n\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "FAIL %s (%s)\n", s.Name, s.Path)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d scenarios: %d passed, %d failed\n", r.Total, r.Passed, r.Failed)
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <file.yaml|dir>",
		Short: "Run registration scenarios against a scripted directory",
		Long: `Run one scenario file, or every .yaml/.yml file in a directory, against an
in-memory store and a scripted directory, and print each trace.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (path not found)

Example:
  regsync scenario internal/harness/testdata/scenarios/fresh_install.yaml
  regsync scenario internal/harness/testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args[0], cmd)
		},
	}
}

func runScenarios(opts *RootOptions, path string, cmd *cobra.Command) error {
	info, err := os.Stat(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario path not found", err)
	}
	paths := []string{path}
	if info.IsDir() {
		if paths, err = harness.FindScenarios(path); err != nil {
			return WrapExitError(ExitCommandError, "failed to list scenarios", err)
		}
	}

	// Engine logs would drown the traces.
	if !opts.Verbose {
		silenceLogs()
	}

	suite := harness.RunAll(cmd.Context(), paths)
	report := ScenarioReport{Total: suite.Total, Passed: suite.Passed, Failed: suite.Failed}
	failed := make(map[string]harness.ScenarioFailure, len(suite.Failures))
	for _, f := range suite.Failures {
		failed[f.Path] = f
	}
	for _, p := range paths {
		run := ScenarioRun{Path: p, Pass: true}
		if f, ok := failed[p]; ok {
			run.Name, run.Pass, run.Errors = f.Scenario, false, f.Errors
		}
		if s, err := harness.LoadScenario(p); err == nil {
			run.Name = s.Name
			if res, ok := suite.Results[s.Name]; ok {
				run.Trace = harness.FormatTrace(s.Name, res.Trace)
			}
		}
		report.Scenarios = append(report.Scenarios, run)
	}

	out := printer(opts, cmd)
	if err := out.Result(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
	}
	return nil
}
