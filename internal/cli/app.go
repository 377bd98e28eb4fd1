// Package cli wires the codetrail application together and dispatches
// subcommands.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"codetrail/internal/auth"
	"codetrail/internal/config"
	"codetrail/internal/localdb"
	"codetrail/internal/logging"
	"codetrail/internal/objstore"
	"codetrail/internal/remote"
	"codetrail/internal/repositories/commits"
	"codetrail/internal/repositories/metadata"
	"codetrail/internal/repositories/visuals"
	"codetrail/internal/sync"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	auth  *auth.Manager
	orch  *sync.Orchestrator
	queue *sync.Queue

	out io.Writer
	in  *bufio.Reader
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewDefault(false)

	db, err := localdb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	commitsRepo := commits.NewSQLiteRepository(db)
	visualsRepo := visuals.NewSQLiteRepository(db)
	metaRepo := metadata.NewSQLiteRepository(db)

	client := remote.New(nil, cfg.RemoteBaseURL)
	authMgr := auth.NewManager(auth.NewStore(metaRepo), client, logger)

	var objects objstore.Store
	if cfg.S3AccessKey != "" {
		s3store, err := objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		objects = s3store
	}

	orch := sync.NewOrchestrator(sync.OrchestratorParams{
		Commits:          commitsRepo,
		Visuals:          visualsRepo,
		Meta:             metaRepo,
		Client:           client,
		Auth:             authMgr,
		Objects:          objects,
		Logger:           logger,
		TurnBatchSize:    cfg.TurnBatchSize,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		ExcludedProjects: cfg.ExcludedProjects,
	})

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		auth:   authMgr,
		orch:   orch,
		queue:  sync.NewQueue(orch, cfg.SyncInterval, logger),
		out:    os.Stdout,
		in:     bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}

// Run dispatches one subcommand. args is os.Args[1:].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.printUsage()
		return fmt.Errorf("no command given")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.cmdLogin(ctx)
	case "logout":
		return a.cmdLogout(ctx)
	case "sync":
		return a.cmdSync(ctx)
	case "push":
		return a.cmdPush(ctx, rest)
	case "pull":
		return a.cmdPull(ctx, rest)
	case "resolve":
		return a.cmdResolve(ctx, rest)
	case "status":
		return a.cmdStatus(ctx)
	case "watch":
		return a.cmdWatch(ctx)
	case "wipe":
		return a.cmdWipe(ctx)
	default:
		a.printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *App) printUsage() {
	fmt.Fprint(a.out, `Usage: codetrail <command> [flags]

Commands:
  login      save service credentials
  logout     drop saved credentials
  sync       resolve conflicts, pull, then push
  push       upload pending commits (-force -dry-run -retry -verbose)
  pull       download remote changes (-verbose)
  resolve    settle a conflict: resolve <id> -keep-local|-keep-cloud, or resolve -auto
  status     show sync state
  watch      sync continuously until interrupted
  wipe       delete all remote data
`)
}
