package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chanyong1027/evalstudio/internal/config"
	"github.com/chanyong1027/evalstudio/internal/policy"
	policyrego "github.com/chanyong1027/evalstudio/internal/policy/rego"
)

// Exit codes beyond the generic 1.
const (
	exitHold         = 13
	exitInvalidInput = 14
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func (e cliError) Unwrap() error { return e.err }

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "evalstudio",
		Short:         "Analyze evaluation runs and decide releases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			cmd.SetContext(clog.WithLogger(cmd.Context(), logger))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newInitCommand())
	root.AddCommand(newAnalyzeCommand(opts))
	root.AddCommand(newGateCommand(opts))
	root.AddCommand(newCasesCommand())
	root.AddCommand(newTrendCommand(opts))
	root.AddCommand(newWatchCommand(opts))
	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newCriteriaCommand(opts))
	root.AddCommand(newServeCommand(opts))
	return root
}

func newLogger(level string) (*clog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, cliError{code: exitInvalidInput, err: fmt.Errorf("invalid --log-level %q", level)}
	}
	return clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func loadConfig(ctx context.Context, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(ctx, opts.configPath)
	if err != nil {
		return config.Config{}, cliError{code: exitInvalidInput, err: err}
	}
	return cfg, nil
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold evalstudio config, release criteria and rego policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgYAML, err := config.Default().Marshal()
			if err != nil {
				return err
			}
			criteriaYAML, err := yaml.Marshal(policy.DefaultCriteria())
			if err != nil {
				return err
			}
			files := []struct {
				path string
				body []byte
			}{
				{config.DefaultPath, cfgYAML},
				{config.DefaultCriteriaPath, criteriaYAML},
				{config.DefaultPolicyPath, []byte(policyrego.DefaultPolicy)},
			}
			var written []string
			for _, f := range files {
				if fileExists(f.path) {
					continue
				}
				if dir := filepath.Dir(f.path); dir != "." {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return err
					}
				}
				if err := os.WriteFile(f.path, f.body, 0o644); err != nil {
					return err
				}
				written = append(written, f.path)
			}
			if len(written) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "evalstudio already initialized")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", strings.Join(written, ", "))
			return nil
		},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
