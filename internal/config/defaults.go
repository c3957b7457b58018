package config

import (
	"time"

	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/spf13/viper"
)

// Defaults that binaries also use for their flag values.
const (
	DefaultModelName      = "gemini-2.5-flash"
	DefaultDataset        = "recurring"
	DefaultStorePath      = "recurring-state.json"
	DefaultMaxUploadBytes = 50 * 1024 * 1024
	DefaultHistoryDays    = 400
)

func setDefaults(v *viper.Viper) {
	policy := recurrence.DefaultPolicy()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.dataset", DefaultDataset)
	v.SetDefault("gcp.credentials_file", "")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.max_upload_bytes", DefaultMaxUploadBytes)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", DefaultModelName)

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.job_timeout", 5*time.Minute)

	v.SetDefault("api.port", 8080)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", DefaultStorePath)

	v.SetDefault("recurrence.amount_tolerance", policy.AmountTolerance)
	v.SetDefault("recurrence.min_confidence", policy.MinConfidence)
	v.SetDefault("recurrence.pair_confidence_cap", policy.PairConfidenceCap)
	v.SetDefault("recurrence.history_days", DefaultHistoryDays)
	v.SetDefault("recurrence.join", string(policy.Join))
}

func defaultBands() []BandConfig {
	var out []BandConfig
	for _, b := range recurrence.DefaultBands() {
		out = append(out, BandConfig{
			Frequency: string(b.Frequency),
			MinDays:   b.MinDays,
			MaxDays:   b.MaxDays,
		})
	}
	return out
}
