package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setRequired sets the minimum env needed for Load to succeed.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(envToken, "test-token")
	t.Setenv(envOwner, "autolyrix")
	t.Setenv(envRepo, "align-pipeline")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.APIBase != defaultAPIBase {
		t.Errorf("APIBase = %q, want %q", cfg.APIBase, defaultAPIBase)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, defaultPollInterval)
	}
	if cfg.WindowBefore != defaultWindowBefore || cfg.WindowAfter != defaultWindowAfter {
		t.Errorf("window = [-%v, +%v], want [-%v, +%v]",
			cfg.WindowBefore, cfg.WindowAfter, defaultWindowBefore, defaultWindowAfter)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envAPIBase, "https://ci.example.com/")
	t.Setenv(envPollInterval, "2s")
	t.Setenv(envMaxWait, "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.APIBase != "https://ci.example.com" {
		t.Errorf("APIBase = %q, want trailing slash trimmed", cfg.APIBase)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.MaxWait != 10*time.Minute {
		t.Errorf("MaxWait = %v, want 10m", cfg.MaxWait)
	}
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv(envToken, "")
	t.Setenv(envOwner, "autolyrix")
	t.Setenv(envRepo, "align-pipeline")

	_, err := Load()
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("Load error = %v, want ErrMissingToken", err)
	}
}

func TestLoadMissingRepo(t *testing.T) {
	t.Setenv(envToken, "test-token")
	t.Setenv(envOwner, "")
	t.Setenv(envRepo, "")

	_, err := Load()
	if !errors.Is(err, ErrMissingRepo) {
		t.Errorf("Load error = %v, want ErrMissingRepo", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "align.yaml")
	content := "listen_addr: \":7070\"\npoll_interval: 1s\nwindow_after: 45s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigFile, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":7070")
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.WindowAfter != 45*time.Second {
		t.Errorf("WindowAfter = %v, want 45s", cfg.WindowAfter)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "align.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":7070\"\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv(envListenAddr, ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":6060" {
		t.Errorf("ListenAddr = %q, want env to win over file", cfg.ListenAddr)
	}
}

func TestLoadBadDuration(t *testing.T) {
	setRequired(t)
	t.Setenv(envPollInterval, "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("Load succeeded with invalid duration, want error")
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Info("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("info log written at warn level: %s", buf.String())
	}
}
