package config

import (
	"encoding/json"
	"os"
	"time"

	"codetrail/internal/flagx"
	"codetrail/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "5m"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config.
type JsonConfig struct {
	RemoteBaseURL    string         `json:"remote_base_url"`
	DatabasePath     string         `json:"database_path"`
	SyncInterval     timex.Duration `json:"sync_interval"`
	TurnBatchSize    int            `json:"turn_batch_size"`
	RetryMaxAttempts int            `json:"retry_max_attempts"`
	RetryBaseDelay   timex.Duration `json:"retry_base_delay"`
	ExcludedProjects []string       `json:"excluded_projects"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3Endpoint       string         `json:"s3_endpoint"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// The file path comes from the -c/-config flags via flagx.JsonConfigFlags();
// when absent, no JSON is loaded. Zero values in the file leave the existing
// Config values untouched. Intended usage is: defaults -> parseJson ->
// parseEnv -> parseFlags, where later stages override earlier ones.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.RemoteBaseURL != "" {
		cfg.RemoteBaseURL = jc.RemoteBaseURL
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.TurnBatchSize != 0 {
		cfg.TurnBatchSize = jc.TurnBatchSize
	}
	if jc.RetryMaxAttempts != 0 {
		cfg.RetryMaxAttempts = jc.RetryMaxAttempts
	}
	if jc.RetryBaseDelay.Duration != 0 {
		cfg.RetryBaseDelay = time.Duration(jc.RetryBaseDelay.Duration)
	}
	if len(jc.ExcludedProjects) > 0 {
		cfg.ExcludedProjects = jc.ExcludedProjects
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3Endpoint != "" {
		cfg.S3Endpoint = jc.S3Endpoint
	}
}
