package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Flags())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Rounds.MaxConcurrent != 6 {
		t.Fatalf("max_concurrent = %d, want 6", cfg.Rounds.MaxConcurrent)
	}
	if cfg.Rounds.MaxLoginRetries != 10 || cfg.Rounds.MaxRemediationAttempts != 10 {
		t.Fatalf("unexpected retry caps: %+v", cfg.Rounds)
	}
	if cfg.Rounds.MaxAccountFailures != 5 {
		t.Fatalf("max_account_failures = %d, want 5", cfg.Rounds.MaxAccountFailures)
	}
	if cfg.GetRoundInterval() != 11*time.Hour {
		t.Fatalf("round interval = %v", cfg.GetRoundInterval())
	}
	if cfg.GetLoginRetryDelay() != 5*time.Second {
		t.Fatalf("login retry delay = %v", cfg.GetLoginRetryDelay())
	}
	if cfg.Accounts.Source != SourceFile {
		t.Fatalf("accounts.source = %q", cfg.Accounts.Source)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	yaml := []byte(`
env: prod
rounds:
  max_concurrent: 3
  safe_margin_threshold_hours: 8
status:
  file: /var/lib/upkeep/status.json
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ROUNDS_MAX_LOGIN_RETRIES", "4")

	flags := Flags()
	if err := flags.Parse([]string{"--config", path, "--rounds.max_concurrent", "2"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Env != "prod" {
		t.Fatalf("env = %q", cfg.Env)
	}
	if cfg.Rounds.MaxConcurrent != 2 {
		t.Fatalf("flag should win over file, got %d", cfg.Rounds.MaxConcurrent)
	}
	if cfg.Rounds.MaxLoginRetries != 4 {
		t.Fatalf("env should override default, got %d", cfg.Rounds.MaxLoginRetries)
	}
	if cfg.Rounds.SafeMarginThresholdHours != 8 {
		t.Fatalf("threshold = %v", cfg.Rounds.SafeMarginThresholdHours)
	}
	if cfg.Status.File != "/var/lib/upkeep/status.json" {
		t.Fatalf("status.file = %q", cfg.Status.File)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	flags := Flags()
	if err := flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := Load(flags); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Rounds: RoundsConfig{
				MaxConcurrent:          1,
				MaxLoginRetries:        1,
				MaxRemediationAttempts: 1,
				MaxAccountFailures:     1,
				RoundIntervalHours:     1,
			},
			Accounts: AccountsConfig{Source: SourceFile, File: "accounts.txt"},
			Status:   StatusConfig{File: "status.json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero concurrency", mutate: func(c *Config) { c.Rounds.MaxConcurrent = 0 }, wantErr: true},
		{name: "zero login retries", mutate: func(c *Config) { c.Rounds.MaxLoginRetries = 0 }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.Rounds.LoginRetryDelaySeconds = -1 }, wantErr: true},
		{name: "kafka source without kafka", mutate: func(c *Config) { c.Accounts.Source = SourceKafka }, wantErr: true},
		{name: "kafka source", mutate: func(c *Config) {
			c.Accounts.Source = SourceKafka
			c.Kafka.Enabled = true
		}},
		{name: "unknown source", mutate: func(c *Config) { c.Accounts.Source = "ldap" }, wantErr: true},
		{name: "no status file", mutate: func(c *Config) { c.Status.File = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
