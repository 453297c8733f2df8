// Package config loads evalstudio settings from a YAML file overlaid by
// EVALSTUDIO_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/chanyong1027/evalstudio/internal/client"
	"github.com/chanyong1027/evalstudio/internal/poll"
	"github.com/chanyong1027/evalstudio/internal/server"
	"github.com/chanyong1027/evalstudio/internal/store"
)

const (
	DefaultPath         = "evalstudio.yaml"
	DefaultCriteriaPath = "criteria.yaml"
	DefaultPolicyPath   = "policy/release-gates.rego"
	EnvPrefix           = "EVALSTUDIO_"
)

type Config struct {
	BaseURL     string `yaml:"base_url" env:"BASE_URL,overwrite"`
	Token       string `yaml:"token,omitempty" env:"TOKEN,overwrite"`
	WorkspaceID int64  `yaml:"workspace_id" env:"WORKSPACE_ID,overwrite"`
	PromptID    int64  `yaml:"prompt_id" env:"PROMPT_ID,overwrite"`

	PageSize         int           `yaml:"page_size" env:"PAGE_SIZE,overwrite"`
	Concurrency      int           `yaml:"concurrency" env:"CONCURRENCY,overwrite"`
	RunPollInterval  time.Duration `yaml:"run_poll_interval" env:"RUN_POLL_INTERVAL,overwrite"`
	CasePollInterval time.Duration `yaml:"case_poll_interval" env:"CASE_POLL_INTERVAL,overwrite"`

	StatePath      string `yaml:"state_path" env:"STATE_PATH,overwrite"`
	CriteriaPath   string `yaml:"criteria_path" env:"CRITERIA_PATH,overwrite"`
	RegoPolicyPath string `yaml:"rego_policy_path" env:"REGO_POLICY_PATH,overwrite"`

	ServerAddr      string `yaml:"server_addr" env:"SERVER_ADDR,overwrite"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds" env:"CACHE_TTL_SECONDS,overwrite"`
}

func Default() Config {
	srv := server.DefaultConfig()
	return Config{
		PageSize:         client.DefaultPageSize,
		Concurrency:      client.DefaultConcurrency,
		RunPollInterval:  poll.DefaultRunInterval,
		CasePollInterval: poll.DefaultCaseInterval,
		StatePath:        store.DefaultStatePath,
		CriteriaPath:     DefaultCriteriaPath,
		RegoPolicyPath:   DefaultPolicyPath,
		ServerAddr:       srv.Addr,
		CacheTTLSeconds:  srv.CacheTTLSeconds,
	}
}

// Load reads path over the defaults and applies the process environment.
// A missing file is an error unless path is DefaultPath.
func Load(ctx context.Context, path string) (Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, env envconfig.Lookuper) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, env),
	}); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.PageSize <= 0:
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	case c.Concurrency <= 0:
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	case c.RunPollInterval <= 0 || c.CasePollInterval <= 0:
		return fmt.Errorf("poll intervals must be positive")
	case c.CacheTTLSeconds < 0:
		return fmt.Errorf("cache_ttl_seconds must not be negative")
	}
	return nil
}

// RequireRemote reports what is missing to talk to the evaluation service.
func (c Config) RequireRemote() error {
	var missing []error
	if c.BaseURL == "" {
		missing = append(missing, errors.New("base_url (EVALSTUDIO_BASE_URL) is not set"))
	}
	if c.WorkspaceID <= 0 {
		missing = append(missing, errors.New("workspace_id (EVALSTUDIO_WORKSPACE_ID) is not set"))
	}
	return errors.Join(missing...)
}

// RequirePrompt is RequireRemote plus a prompt id.
func (c Config) RequirePrompt() error {
	err := c.RequireRemote()
	if c.PromptID <= 0 {
		err = errors.Join(err, errors.New("prompt_id (EVALSTUDIO_PROMPT_ID) is not set"))
	}
	return err
}

// Client builds an evaluation service client from c.
func (c Config) Client() (*client.Client, error) {
	return client.New(c.BaseURL,
		client.WithToken(c.Token),
		client.WithPageSize(c.PageSize),
		client.WithConcurrency(c.Concurrency),
	)
}

// Server returns the analysis server settings.
func (c Config) Server() server.Config {
	srv := server.DefaultConfig()
	srv.Addr = c.ServerAddr
	srv.CacheTTLSeconds = c.CacheTTLSeconds
	return srv
}

// Marshal renders c as YAML, omitting the token.
func (c Config) Marshal() ([]byte, error) {
	c.Token = ""
	return yaml.Marshal(c)
}
