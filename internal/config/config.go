// Package config loads runtime settings for the codetrail CLI.
package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the codetrail CLI.
//
// Fields:
//   - RemoteBaseURL: base HTTPS URL of the record service.
//   - DatabasePath: path of the local SQLite database.
//   - SyncInterval: how often the continuous queue runs a sync.
//   - TurnBatchSize: number of turns per upload request.
//   - RetryMaxAttempts / RetryBaseDelay: per-call retry policy of the engines.
//   - ExcludedProjects: project names whose commits are marked filtered.
//   - S3*: object storage settings for visual attachments.
type Config struct {
	RemoteBaseURL string
	DatabasePath  string

	SyncInterval   time.Duration
	TurnBatchSize  int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	ExcludedProjects []string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RemoteBaseURL = "https://api.codetrail.dev"
	c.DatabasePath = "codetrail.db"
	c.SyncInterval = 5 * time.Minute
	c.TurnBatchSize = 200
	c.RetryMaxAttempts = 3
	c.RetryBaseDelay = 250 * time.Millisecond
	c.S3Region = "us-east-1"
	c.S3Bucket = "codetrail-visuals"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), environment variables, and command-line flags. Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}

// parseEnv overlays storage credentials from the environment so secrets never
// have to live in the JSON file.
func parseEnv(cfg *Config) {
	if v := os.Getenv("CODETRAIL_S3_ACCESS_KEY"); v != "" {
		cfg.S3AccessKey = v
	}
	if v := os.Getenv("CODETRAIL_S3_SECRET_KEY"); v != "" {
		cfg.S3SecretKey = v
	}
	if v := os.Getenv("CODETRAIL_REMOTE_URL"); v != "" {
		cfg.RemoteBaseURL = v
	}
}
