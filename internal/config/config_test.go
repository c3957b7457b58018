package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RECURRING_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Backend != BackendFile || cfg.Store.Path != DefaultStorePath {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Gemini.Model != DefaultModelName {
		t.Errorf("Gemini.Model = %q, want %q", cfg.Gemini.Model, DefaultModelName)
	}
	if cfg.Storage.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.Storage.MaxUploadBytes, DefaultMaxUploadBytes)
	}
	if cfg.Worker.JobTimeout != 5*time.Minute {
		t.Errorf("JobTimeout = %s, want 5m", cfg.Worker.JobTimeout)
	}
	if diff := cmp.Diff(recurrence.DefaultPolicy(), cfg.RecurrencePolicy()); diff != "" {
		t.Errorf("RecurrencePolicy() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: debug
gcp:
  project_id: file-project
  dataset: finance
store:
  backend: bigquery
worker:
  count: 2
recurrence:
  amount_tolerance: 0.2
  join: Latest
  bands:
    - frequency: Monthly
      min_days: 25
      max_days: 35
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv("RECURRING_GCP_PROJECT_ID", "env-project")
	t.Setenv("RECURRING_API_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.GCP.ProjectID != "env-project" {
		t.Errorf("expected env to override the file, got %q", cfg.GCP.ProjectID)
	}
	if cfg.GCP.Dataset != "finance" {
		t.Errorf("GCP.Dataset = %q, want finance", cfg.GCP.Dataset)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Worker.Count != 2 || cfg.Worker.QueueSize != 100 {
		t.Errorf("unexpected worker config %+v", cfg.Worker)
	}

	policy := cfg.RecurrencePolicy()
	want := []recurrence.Band{{Frequency: "monthly", MinDays: 25, MaxDays: 35}}
	if diff := cmp.Diff(want, policy.Bands); diff != "" {
		t.Errorf("Bands mismatch (-want +got):\n%s", diff)
	}
	if policy.AmountTolerance != 0.2 {
		t.Errorf("AmountTolerance = %v, want 0.2", policy.AmountTolerance)
	}
	if policy.Join != recurrence.JoinLatest {
		t.Errorf("Join = %q, want latest", policy.Join)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:      StoreConfig{Backend: BackendFile, Path: "state.json"},
			Worker:     WorkerConfig{Count: 1, QueueSize: 1},
			Recurrence: RecurrenceConfig{AmountTolerance: 0.15, MinConfidence: 0.5, PairConfidenceCap: 0.6, Bands: defaultBands()},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }, true},
		{"bigquery without project", func(c *Config) { c.Store.Backend = BackendBigQuery }, true},
		{"file without path", func(c *Config) { c.Store.Path = "" }, true},
		{"no workers", func(c *Config) { c.Worker.Count = 0 }, true},
		{"negative history", func(c *Config) { c.Recurrence.HistoryDays = -1 }, true},
		{"bad band", func(c *Config) { c.Recurrence.Bands[0].Frequency = "daily" }, true},
		{"confidence out of range", func(c *Config) { c.Recurrence.MinConfidence = 1.5 }, true},
		{"unknown join mode", func(c *Config) { c.Recurrence.Join = "oldest" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
