package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"codetrail/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the record service (default from Config)
//	-d string   path of the local database file
//	-i int      continuous sync interval in seconds
//	-x string   comma-separated project names excluded from sync
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with per-command flags.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-i", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.RemoteBaseURL, "a", cfg.RemoteBaseURL, "base URL of the record service")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path of the local database file")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "continuous sync interval (in seconds)")
	excluded := fs.String("x", strings.Join(cfg.ExcludedProjects, ","), "comma-separated projects excluded from sync")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
	if *excluded != "" {
		cfg.ExcludedProjects = strings.Split(*excluded, ",")
	}
}
