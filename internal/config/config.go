package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// RECURRING_GCP_PROJECT_ID for gcp.project_id.
const EnvPrefix = "RECURRING"

// Config is the complete runtime configuration shared by all binaries.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	GCP        GCPConfig        `mapstructure:"gcp"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Notion     NotionConfig     `mapstructure:"notion"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	API        APIConfig        `mapstructure:"api"`
	Store      StoreConfig      `mapstructure:"store"`
	Recurrence RecurrenceConfig `mapstructure:"recurrence"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level name
	Format string `mapstructure:"format"` // "console" or "json"
}

// GCPConfig identifies the Google Cloud project and BigQuery dataset.
type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Dataset         string `mapstructure:"dataset"`
	CredentialsFile string `mapstructure:"credentials_file"` // optional; ADC when empty
}

// StorageConfig controls statement uploads.
type StorageConfig struct {
	Bucket         string `mapstructure:"bucket"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// GeminiConfig controls LLM extraction.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"` // empty uses the environment defaults of the genai client
	Model  string `mapstructure:"model"`
}

// NotionConfig controls the Notion mirror of recurring payments.
type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

// WorkerConfig controls the background job queue.
type WorkerConfig struct {
	Count      int           `mapstructure:"count"`
	QueueSize  int           `mapstructure:"queue_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "bigquery" or "file"
	Path    string `mapstructure:"path"`    // snapshot path for the file backend
}

// RecurrenceConfig holds the detection thresholds.
type RecurrenceConfig struct {
	AmountTolerance   float64      `mapstructure:"amount_tolerance"`
	MinConfidence     float64      `mapstructure:"min_confidence"`
	PairConfidenceCap float64      `mapstructure:"pair_confidence_cap"`
	HistoryDays       int          `mapstructure:"history_days"`
	Join              string       `mapstructure:"join"` // "any" or "latest"
	Bands             []BandConfig `mapstructure:"bands"`
}

// BandConfig is one cadence band.
type BandConfig struct {
	Frequency string  `mapstructure:"frequency"`
	MinDays   float64 `mapstructure:"min_days"`
	MaxDays   float64 `mapstructure:"max_days"`
}

// Store backends.
const (
	BackendBigQuery = "bigquery"
	BackendFile     = "file"
)

// Load builds the configuration from defaults, an optional YAML file and
// RECURRING_* environment variables, in increasing order of precedence.
// An empty path falls back to $RECURRING_CONFIG; no file at all is fine.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.Load: reading %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: decoding: %w", err)
	}
	if len(cfg.Recurrence.Bands) == 0 {
		cfg.Recurrence.Bands = defaultBands()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendBigQuery:
		if c.GCP.ProjectID == "" || c.GCP.Dataset == "" {
			return fmt.Errorf("gcp.project_id and gcp.dataset are required for the bigquery store")
		}
	case BackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be >= 1, got %d", c.Worker.Count)
	}
	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("worker.queue_size must be >= 1, got %d", c.Worker.QueueSize)
	}
	if c.Recurrence.HistoryDays < 0 {
		return fmt.Errorf("recurrence.history_days must be >= 0, got %d", c.Recurrence.HistoryDays)
	}
	if err := c.RecurrencePolicy().Validate(); err != nil {
		return fmt.Errorf("recurrence: %w", err)
	}
	return nil
}

// RecurrencePolicy converts the recurrence section into a detection policy.
func (c *Config) RecurrencePolicy() recurrence.Policy {
	bands := make([]recurrence.Band, 0, len(c.Recurrence.Bands))
	for _, b := range c.Recurrence.Bands {
		bands = append(bands, recurrence.Band{
			Frequency: domain.Frequency(strings.ToLower(b.Frequency)),
			MinDays:   b.MinDays,
			MaxDays:   b.MaxDays,
		})
	}
	return recurrence.Policy{
		AmountTolerance:   c.Recurrence.AmountTolerance,
		MinConfidence:     c.Recurrence.MinConfidence,
		PairConfidenceCap: c.Recurrence.PairConfidenceCap,
		Bands:             bands,
		Join:              recurrence.JoinMode(strings.ToLower(c.Recurrence.Join)),
	}
}
