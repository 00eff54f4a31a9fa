package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "aligntrack.db"
	defaultAPIBase         = "https://api.github.com"
	defaultWorkflowEvent   = "align-lyrics"
	defaultPollInterval    = 5 * time.Second
	defaultMaxWait         = 5 * time.Minute
	defaultCorrelateBudget = 90 * time.Second
	defaultWindowBefore    = 5 * time.Second
	defaultWindowAfter     = 30 * time.Second

	envConfigFile      = "ALIGN_CONFIG_FILE"
	envListenAddr      = "ALIGN_LISTEN_ADDR"
	envDBPath          = "ALIGN_DB_PATH"
	envLogLevel        = "ALIGN_LOG_LEVEL"
	envAPIBase         = "ALIGN_API_BASE"
	envOwner           = "ALIGN_REPO_OWNER"
	envRepo            = "ALIGN_REPO_NAME"
	envWorkflowEvent   = "ALIGN_WORKFLOW_EVENT"
	envToken           = "ALIGN_DISPATCH_TOKEN"
	envPollInterval    = "ALIGN_POLL_INTERVAL"
	envMaxWait         = "ALIGN_MAX_WAIT"
	envCorrelateBudget = "ALIGN_CORRELATE_BUDGET"
	envWindowBefore    = "ALIGN_WINDOW_BEFORE"
	envWindowAfter     = "ALIGN_WINDOW_AFTER"
)

// ErrMissingToken indicates no dispatch credential is configured. This is a
// setup problem reported before any network call is attempted.
var ErrMissingToken = errors.New("dispatch token not configured (set " + envToken + ")")

// ErrMissingRepo indicates the target repository is not configured.
var ErrMissingRepo = errors.New("target repository not configured (set " + envOwner + " and " + envRepo + ")")

// Config holds application configuration. Values come from an optional YAML
// file overridden by environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	APIBase       string
	Owner         string
	Repo          string
	WorkflowEvent string
	Token         string

	PollInterval    time.Duration
	MaxWait         time.Duration
	CorrelateBudget time.Duration
	WindowBefore    time.Duration
	WindowAfter     time.Duration
}

// fileConfig is the YAML config file schema. All fields are optional;
// zero values fall back to defaults.
type fileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	DBPath          string `yaml:"db_path"`
	LogLevel        string `yaml:"log_level"`
	APIBase         string `yaml:"api_base"`
	Owner           string `yaml:"repo_owner"`
	Repo            string `yaml:"repo_name"`
	WorkflowEvent   string `yaml:"workflow_event"`
	PollInterval    string `yaml:"poll_interval"`
	MaxWait         string `yaml:"max_wait"`
	CorrelateBudget string `yaml:"correlate_budget"`
	WindowBefore    string `yaml:"window_before"`
	WindowAfter     string `yaml:"window_after"`
}

// Load reads configuration from the optional YAML file named by
// ALIGN_CONFIG_FILE, then overrides with environment variables. A missing
// dispatch token or target repository is a configuration error.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		APIBase:         defaultAPIBase,
		WorkflowEvent:   defaultWorkflowEvent,
		PollInterval:    defaultPollInterval,
		MaxWait:         defaultMaxWait,
		CorrelateBudget: defaultCorrelateBudget,
		WindowBefore:    defaultWindowBefore,
		WindowAfter:     defaultWindowAfter,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envAPIBase); v != "" {
		cfg.APIBase = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(envOwner); v != "" {
		cfg.Owner = v
	}
	if v := os.Getenv(envRepo); v != "" {
		cfg.Repo = v
	}
	if v := os.Getenv(envWorkflowEvent); v != "" {
		cfg.WorkflowEvent = v
	}
	if v := os.Getenv(envToken); v != "" {
		cfg.Token = v
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{envPollInterval, &cfg.PollInterval},
		{envMaxWait, &cfg.MaxWait},
		{envCorrelateBudget, &cfg.CorrelateBudget},
		{envWindowBefore, &cfg.WindowBefore},
		{envWindowAfter, &cfg.WindowAfter},
	} {
		if v := os.Getenv(d.env); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", d.env, err)
			}
			*d.dst = parsed
		}
	}

	if cfg.Token == "" {
		return Config{}, ErrMissingToken
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return Config{}, ErrMissingRepo
	}

	return cfg, nil
}

// applyFile overlays values from the YAML file at path onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.APIBase != "" {
		cfg.APIBase = strings.TrimRight(fc.APIBase, "/")
	}
	if fc.Owner != "" {
		cfg.Owner = fc.Owner
	}
	if fc.Repo != "" {
		cfg.Repo = fc.Repo
	}
	if fc.WorkflowEvent != "" {
		cfg.WorkflowEvent = fc.WorkflowEvent
	}

	for _, d := range []struct {
		raw string
		key string
		dst *time.Duration
	}{
		{fc.PollInterval, "poll_interval", &cfg.PollInterval},
		{fc.MaxWait, "max_wait", &cfg.MaxWait},
		{fc.CorrelateBudget, "correlate_budget", &cfg.CorrelateBudget},
		{fc.WindowBefore, "window_before", &cfg.WindowBefore},
		{fc.WindowAfter, "window_after", &cfg.WindowAfter},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s in config file: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
