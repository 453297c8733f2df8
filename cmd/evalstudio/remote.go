package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chanyong1027/evalstudio/internal/client"
	"github.com/chanyong1027/evalstudio/internal/config"
	"github.com/chanyong1027/evalstudio/internal/policy"
	"github.com/chanyong1027/evalstudio/internal/poll"
	"github.com/chanyong1027/evalstudio/internal/report"
	"github.com/chanyong1027/evalstudio/internal/store"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// remote loads the config, checks it names a prompt when needPrompt is set
// and builds a service client.
func remote(ctx context.Context, opts *rootOptions, needPrompt bool) (config.Config, *client.Client, error) {
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return config.Config{}, nil, err
	}
	check := cfg.RequireRemote
	if needPrompt {
		check = cfg.RequirePrompt
	}
	if err := check(); err != nil {
		return config.Config{}, nil, cliError{code: exitInvalidInput, err: err}
	}
	c, err := cfg.Client()
	if err != nil {
		return config.Config{}, nil, cliError{code: exitInvalidInput, err: err}
	}
	return cfg, c, nil
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var runID int64
	var gate, markdown bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a run until it is terminal and show its release decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log := clog.FromContext(ctx)

			cfg, c, err := remote(ctx, opts, true)
			if err != nil {
				return err
			}
			last, err := store.Open(cfg.StatePath)
			if err != nil {
				return err
			}
			if runID <= 0 {
				id, ok, err := last.LastRun(cfg.WorkspaceID, cfg.PromptID)
				if err != nil {
					return err
				}
				if !ok {
					return cliError{code: exitInvalidInput, err: fmt.Errorf("--run-id is required: no run viewed yet for workspace %d prompt %d", cfg.WorkspaceID, cfg.PromptID)}
				}
				runID = id
			}
			if err := last.SetLastRun(cfg.WorkspaceID, cfg.PromptID, runID); err != nil {
				log.Warnf("record last viewed run: %v", err)
			}

			var criteria *types.ReleaseCriteria
			if rc, err := c.GetReleaseCriteria(ctx, cfg.WorkspaceID); err != nil {
				if client.IsCancellation(err) {
					return nil
				}
				log.Warnf("workspace criteria unavailable, using run snapshot only: %v", err)
			} else {
				criteria = &rc
			}

			w := cmd.OutOrStdout()
			ref := client.RunRef{WorkspaceID: cfg.WorkspaceID, PromptID: cfg.PromptID, RunID: runID}
			snap, ok := poll.New(c, ref,
				poll.WithRunInterval(cfg.RunPollInterval),
				poll.WithCaseInterval(cfg.CasePollInterval),
				poll.WithCriteria(criteria),
				poll.WithOnUpdate(func(s poll.Snapshot) { printProgress(w, s) }),
				poll.WithOnError(func(err error) { log.Warnf("refresh failed: %v", err) }),
			).Run(ctx)
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("run %d: no data received", runID)
			}

			if markdown {
				fmt.Fprint(w, "\n"+report.BuildMarkdown(snap.View))
			} else {
				fmt.Fprintf(w, "\n%s\n", snap.View.Summary.PlainSummary)
			}
			if !snap.Final {
				return nil
			}
			if gate && snap.View.Decision.Release == policy.ReleaseHold {
				return cliError{code: exitHold, err: fmt.Errorf("release gate held run %d", runID)}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&runID, "run-id", 0, "run to watch (default: last viewed run)")
	cmd.Flags().BoolVar(&gate, "gate", false, "exit non-zero when the final decision is HOLD")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the full markdown report when polling ends")
	return cmd
}

func printProgress(w io.Writer, s poll.Snapshot) {
	v := s.View
	counts := v.Aggregates.Counts
	decision := string(v.Decision.Release)
	if v.Running {
		decision += " (provisional)"
	}
	fmt.Fprintf(w, "[%d] run %d %s %d/%d processed, pass %s, score %s, errors %s, %s\n",
		s.Seq, v.RunID, v.Status, counts.Processed, counts.Total,
		pctOr(v.Aggregates.PassRate), scoreOr(v.Aggregates.AvgOverallScore), pctOr(v.Aggregates.ErrorRate), decision)
}

func pctOr(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}

func scoreOr(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	runCmd := &cobra.Command{Use: "run", Short: "Create or cancel evaluation runs"}

	var datasetID, versionID int64
	var mode, rubric, overridesPath string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Start an evaluation run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := types.CreateRunRequest{
				DatasetID:          datasetID,
				PromptVersionID:    versionID,
				Mode:               types.EvalMode(strings.ToUpper(mode)),
				RubricTemplateCode: rubric,
			}
			if err := checkCreateRun(req); err != nil {
				return cliError{code: exitInvalidInput, err: err}
			}
			if overridesPath != "" {
				raw, err := os.ReadFile(overridesPath)
				if err != nil {
					return err
				}
				var o types.RubricOverrides
				if err := yaml.Unmarshal(raw, &o); err != nil {
					return cliError{code: exitInvalidInput, err: fmt.Errorf("parse rubric overrides: %w", err)}
				}
				req.RubricOverrides = &o
			}

			ctx := cmd.Context()
			cfg, c, err := remote(ctx, opts, true)
			if err != nil {
				return err
			}
			created, err := c.CreateRun(ctx, cfg.WorkspaceID, cfg.PromptID, req)
			if err != nil {
				return err
			}
			if err := recordLastRun(cfg.StatePath, cfg.WorkspaceID, cfg.PromptID, created.ID); err != nil {
				clog.FromContext(ctx).Warnf("record last viewed run: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created run %d\n", created.ID)
			return nil
		},
	}
	createCmd.Flags().Int64Var(&datasetID, "dataset", 0, "dataset id")
	createCmd.Flags().Int64Var(&versionID, "version", 0, "prompt version id")
	createCmd.Flags().StringVar(&mode, "mode", string(types.ModeCandidateOnly), "CANDIDATE_ONLY|COMPARE_ACTIVE")
	createCmd.Flags().StringVar(&rubric, "rubric", "", "rubric template code")
	createCmd.Flags().StringVar(&overridesPath, "overrides", "", "rubric overrides YAML or JSON file")

	var cancelID int64
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a queued or running evaluation run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cancelID <= 0 {
				return cliError{code: exitInvalidInput, err: fmt.Errorf("--run-id is required")}
			}
			ctx := cmd.Context()
			cfg, c, err := remote(ctx, opts, true)
			if err != nil {
				return err
			}
			ref := client.RunRef{WorkspaceID: cfg.WorkspaceID, PromptID: cfg.PromptID, RunID: cancelID}
			if err := c.CancelRun(ctx, ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled run %d\n", cancelID)
			return nil
		},
	}
	cancelCmd.Flags().Int64Var(&cancelID, "run-id", 0, "run to cancel")

	runCmd.AddCommand(createCmd, cancelCmd)
	return runCmd
}

func checkCreateRun(req types.CreateRunRequest) error {
	var errs []error
	if req.DatasetID <= 0 {
		errs = append(errs, errors.New("--dataset is required"))
	}
	if req.PromptVersionID <= 0 {
		errs = append(errs, errors.New("--version is required"))
	}
	if req.Mode != types.ModeCandidateOnly && req.Mode != types.ModeCompareActive {
		errs = append(errs, fmt.Errorf("unsupported mode %q", req.Mode))
	}
	if strings.TrimSpace(req.RubricTemplateCode) == "" {
		errs = append(errs, errors.New("--rubric is required"))
	}
	return errors.Join(errs...)
}

// criteriaFlags maps each criteria field to its flag name.
var criteriaFlags = map[string]string{
	policy.FieldMinPassRate:               "min-pass-rate",
	policy.FieldMinAvgOverallScore:        "min-avg-score",
	policy.FieldMaxErrorRate:              "max-error-rate",
	policy.FieldMinImprovementNoticeDelta: "min-improvement-delta",
}

func newCriteriaCommand(opts *rootOptions) *cobra.Command {
	criteriaCmd := &cobra.Command{Use: "criteria", Short: "Read and change workspace release criteria"}

	var asJSON bool
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the workspace release criteria",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, c, err := remote(ctx, opts, false)
			if err != nil {
				return err
			}
			rc, err := c.GetReleaseCriteria(ctx, cfg.WorkspaceID)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rc)
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(rc)
		},
	}
	getCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the criteria change history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, c, err := remote(ctx, opts, false)
			if err != nil {
				return err
			}
			entries, err := c.GetReleaseCriteriaHistory(ctx, cfg.WorkspaceID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.BuildCriteriaHistoryTable(entries))
			return err
		},
	}

	values := map[string]*string{}
	var filePath string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change the workspace release criteria (owners only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var update types.ReleaseCriteriaUpdate
			if filePath != "" {
				rc, err := policy.LoadCriteria(filePath)
				if err != nil {
					return cliError{code: exitInvalidInput, err: err}
				}
				update = rc.Update()
				if err := policy.CheckUpdate(update); err != nil {
					return cliError{code: exitInvalidInput, err: err}
				}
			} else {
				fields := make(map[string]string, len(values))
				for name, v := range values {
					fields[name] = *v
				}
				u, err := policy.ParseCriteriaInput(fields)
				if err != nil {
					return cliError{code: exitInvalidInput, err: flagError(err)}
				}
				update = u
			}

			ctx := cmd.Context()
			cfg, c, err := remote(ctx, opts, false)
			if err != nil {
				return err
			}
			saved, err := c.UpdateReleaseCriteria(ctx, cfg.WorkspaceID, update)
			if errors.Is(err, client.ErrOwnerOnly) {
				return cliError{code: 1, err: client.ErrOwnerOnly}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "release criteria updated: pass rate >= %g, avg score >= %g, error rate <= %g, improvement notice %g\n",
				saved.MinPassRate, saved.MinAvgOverallScore, saved.MaxErrorRate, saved.MinImprovementNoticeDelta)
			return nil
		},
	}
	for _, field := range policy.CriteriaFields {
		values[field] = setCmd.Flags().String(criteriaFlags[field], "", field)
	}
	setCmd.Flags().StringVar(&filePath, "file", "", "criteria YAML file instead of flags")
	setCmd.MarkFlagsMutuallyExclusive("file", criteriaFlags[policy.FieldMinPassRate])

	criteriaCmd.AddCommand(getCmd, historyCmd, setCmd)
	return criteriaCmd
}

// flagError names the offending flag instead of the service field.
func flagError(err error) error {
	var ve *policy.ValidationError
	if errors.As(err, &ve) {
		if name, ok := criteriaFlags[ve.Field]; ok {
			return fmt.Errorf("--%s: %s", name, ve.Message)
		}
	}
	return err
}

func recordLastRun(path string, workspaceID, promptID, runID int64) error {
	last, err := store.Open(path)
	if err != nil {
		return err
	}
	return last.SetLastRun(workspaceID, promptID, runID)
}
