package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/chanyong1027/evalstudio/internal/analysis"
	"github.com/chanyong1027/evalstudio/internal/compare"
	"github.com/chanyong1027/evalstudio/internal/filter"
	"github.com/chanyong1027/evalstudio/internal/policy"
	policyrego "github.com/chanyong1027/evalstudio/internal/policy/rego"
	"github.com/chanyong1027/evalstudio/internal/report"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// runInputs are the file flags shared by analyze, gate and cases.
type runInputs struct {
	runPath      string
	casesPath    string
	criteriaPath string
}

func (in *runInputs) bind(cmd *cobra.Command, withCriteria bool) {
	cmd.Flags().StringVar(&in.runPath, "run", "", "evaluation run JSON file")
	cmd.Flags().StringVar(&in.casesPath, "cases", "", "case results JSON file (array or page object)")
	if withCriteria {
		cmd.Flags().StringVar(&in.criteriaPath, "criteria", "", "release criteria YAML (default: criteria_path from config when present)")
	}
}

// load reads the run, its cases and, when available, the workspace criteria.
// fallbackCriteria is used only when --criteria is unset and the file exists.
func (in *runInputs) load(fallbackCriteria string) (analysis.Input, error) {
	if in.runPath == "" || in.casesPath == "" {
		return analysis.Input{}, cliError{code: exitInvalidInput, err: fmt.Errorf("--run and --cases are required")}
	}
	rawRun, err := os.ReadFile(in.runPath)
	if err != nil {
		return analysis.Input{}, err
	}
	run, err := analysis.DecodeRun(rawRun)
	if err != nil {
		return analysis.Input{}, cliError{code: exitInvalidInput, err: err}
	}
	rawCases, err := os.ReadFile(in.casesPath)
	if err != nil {
		return analysis.Input{}, err
	}
	cases, err := analysis.DecodeCases(rawCases)
	if err != nil {
		return analysis.Input{}, cliError{code: exitInvalidInput, err: err}
	}

	out := analysis.Input{Run: run, Cases: cases}
	path := in.criteriaPath
	if path == "" && fallbackCriteria != "" && fileExists(fallbackCriteria) {
		path = fallbackCriteria
	}
	if path != "" {
		rc, err := policy.LoadCriteria(path)
		if err != nil {
			return analysis.Input{}, cliError{code: exitInvalidInput, err: fmt.Errorf("criteria %s: %w", path, err)}
		}
		out.Criteria = &rc
	}
	return out, nil
}

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var in runInputs
	var format, outPath string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Aggregate a run, evaluate release gates and render a report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			input, err := in.load(cfg.CriteriaPath)
			if err != nil {
				return err
			}
			view := analysis.Analyze(input)
			clog.FromContext(cmd.Context()).With("run_id", view.RunID).
				With("decision", view.Decision.Release).
				Debugf("analyzed %d cases", len(input.Cases))

			switch format {
			case "json":
				if outPath == "" {
					return report.EncodeJSON(cmd.OutOrStdout(), view)
				}
				if err := report.WriteJSON(outPath, view); err != nil {
					return err
				}
			case "md":
				if outPath == "" {
					_, err := fmt.Fprint(cmd.OutOrStdout(), report.BuildMarkdown(view))
					return err
				}
				if err := report.WriteMarkdown(outPath, view); err != nil {
					return err
				}
			default:
				return cliError{code: exitInvalidInput, err: fmt.Errorf("unsupported format %q", format)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written: %s\n", outPath)
			return nil
		},
	}
	in.bind(cmd, true)
	cmd.Flags().StringVar(&format, "format", "md", "output format: json|md")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default stdout)")
	return cmd
}

func newGateCommand(opts *rootOptions) *cobra.Command {
	var in runInputs
	var engine, regoPolicyPath string
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate release gates and exit non-zero on HOLD",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, opts)
			if err != nil {
				return err
			}
			input, err := in.load(cfg.CriteriaPath)
			if err != nil {
				return err
			}
			view := analysis.Analyze(input)

			release, reasons := view.Decision.Release, view.Decision.Reasons
			switch engine {
			case "yaml":
			case "rego":
				path := regoPolicyPath
				if path == "" && fileExists(cfg.RegoPolicyPath) {
					path = cfg.RegoPolicyPath
				}
				res, err := policyrego.Evaluate(ctx, path,
					policyrego.BuildInput(policy.InputFrom(view.Aggregates), view.Thresholds))
				if err != nil {
					return err
				}
				release, reasons = res.Release(), res.Reasons
			default:
				return cliError{code: exitInvalidInput, err: fmt.Errorf("unsupported engine %q (want yaml or rego)", engine)}
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run %d: %s (risk %s, grade %s, criteria %s)\n",
				view.RunID, release, view.Risk, view.Grade, view.CriteriaSource)
			for _, code := range reasons {
				fmt.Fprintf(w, "  - %s: %s\n", code, policy.ReasonText(code))
			}
			if release == policy.ReleaseHold {
				return cliError{code: exitHold, err: fmt.Errorf("release gate held run %d", view.RunID)}
			}
			return nil
		},
	}
	in.bind(cmd, true)
	cmd.Flags().StringVar(&engine, "engine", "yaml", "policy engine: yaml|rego")
	cmd.Flags().StringVar(&regoPolicyPath, "rego-policy", "", "rego policy path (used with --engine rego; default: bundled policy)")
	return cmd
}

func newCasesCommand() *cobra.Command {
	var in runInputs
	var filterName, reason, winner string
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List the cases of a run matching a filter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := in.load("")
			if err != nil {
				return err
			}
			mode := input.Run.Mode

			var f filter.CaseFilter
			if reason != "" {
				if filterName != "" {
					return cliError{code: exitInvalidInput, err: fmt.Errorf("--filter and --reason are mutually exclusive")}
				}
				f = filter.ResolveReasonDrivenCaseFilter(reason, winner, mode.IsCompare())
			} else {
				f, err = filter.ParseCaseFilter(filterName)
				if err != nil {
					return cliError{code: exitInvalidInput, err: err}
				}
			}

			matched := filter.Cases(input.Cases, mode, f)
			views := make([]compare.CaseView, 0, len(matched))
			for _, c := range matched {
				views = append(views, compare.View(c, mode))
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "filter %s: %d of %d cases\n\n", f, len(matched), len(input.Cases))
			_, err = fmt.Fprint(w, report.BuildCasesTable(views, mode))
			return err
		},
	}
	in.bind(cmd, false)
	cmd.Flags().StringVar(&filterName, "filter", "", "case filter: ALL|PASS|FAIL|ERROR|RUNNING|SKIPPED|BETTER|WORSE|SAME")
	cmd.Flags().StringVar(&reason, "reason", "", "derive the filter from a decision reason or issue text")
	cmd.Flags().StringVar(&winner, "winner", "", "pairwise winner used with --reason (CANDIDATE, BASELINE, TIE)")
	return cmd
}

func newTrendCommand(opts *rootOptions) *cobra.Command {
	var runsPath, mode, version string
	var window int
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show the chronological trend of historical runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode = strings.ToUpper(strings.TrimSpace(mode))
			switch types.EvalMode(mode) {
			case filter.All, types.ModeCandidateOnly, types.ModeCompareActive:
			default:
				return cliError{code: exitInvalidInput, err: fmt.Errorf("unsupported mode %q", mode)}
			}

			var runs []types.EvaluationRun
			if runsPath != "" {
				raw, err := os.ReadFile(runsPath)
				if err != nil {
					return err
				}
				if runs, err = analysis.DecodeRuns(raw); err != nil {
					return cliError{code: exitInvalidInput, err: err}
				}
			} else {
				ctx := cmd.Context()
				cfg, c, err := remote(ctx, opts, true)
				if err != nil {
					return err
				}
				if runs, err = c.ListRuns(ctx, cfg.WorkspaceID, cfg.PromptID); err != nil {
					return err
				}
			}
			points := filter.FilterRunTrendPoints(filter.TrendPointsFromRuns(runs), mode, version, window)
			_, err := fmt.Fprint(cmd.OutOrStdout(), report.BuildTrendTable(points))
			return err
		},
	}
	cmd.Flags().StringVar(&runsPath, "runs", "", "historical runs JSON file (default: fetch from the service)")
	cmd.Flags().StringVar(&mode, "mode", filter.All, "mode filter: ALL|CANDIDATE_ONLY|COMPARE_ACTIVE")
	cmd.Flags().StringVar(&version, "version", filter.All, "prompt version id or ALL")
	cmd.Flags().IntVar(&window, "window", 20, "number of most recent points to keep")
	return cmd
}
