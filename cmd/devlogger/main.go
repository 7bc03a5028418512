package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"github.com/auditmos/devlogger/config"
	"github.com/auditmos/devlogger/dashboard"
	"github.com/auditmos/devlogger/devlogger"
	"github.com/auditmos/devlogger/httpcapture"
	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const noRetentionMessage = "No retention policy configured. Set DEVLOGGER_RETENTION_DAYS or use --days option."

func main() {
	app := NewApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		code := 1
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		os.Exit(code)
	}
}

func NewApp() *cli.App {
	return &cli.App{
		Name:    "devlogger",
		Usage:   "database-backed application logs",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"DEVLOGGER_CONFIG"},
				Usage:   "config file (YAML, JSON or TOML); environment variables take precedence",
			},
		},
		Commands: []*cli.Command{
			cleanupCommand(),
			migrateCommand(),
			serveCommand(),
			logCommand(),
		},
		// Errors are returned to main, which owns the exit code.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "remove log records older than the retention policy",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "days",
				Usage: "number of days to keep logs (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "show what would be deleted without deleting",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "delete rows permanently instead of soft-deleting",
			},
			&cli.StringFlag{
				Name:  "archive",
				Usage: "write the removed records to this file as zstd-compressed JSON lines first",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return runCleanup(c.Context, cfg, cleanupOptions{
				days:    c.Int("days"),
				daysSet: c.IsSet("days"),
				dryRun:  c.Bool("dry-run"),
				force:   c.Bool("force"),
				archive: c.String("archive"),
			}, c.App.Writer)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or upgrade the log table",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			db, err := storage.OpenDB(cfg.DBConnection, cfg.TableName)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(c.App.Writer, "Table %s is up to date in %s.\n", cfg.TableName, cfg.DBConnection)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the operator API and the daily retention sweep",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (default: DEVLOGGER_DASHBOARD_ADDR)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if addr := c.String("addr"); addr != "" {
				cfg.DashboardAddr = addr
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					fmt.Fprintln(c.App.Writer, "\nShutting down...")
					cancel()
				case <-ctx.Done():
				}
			}()

			return runServe(ctx, cfg, nil)
		},
	}
}

func logCommand() *cli.Command {
	return &cli.Command{
		Name:      "log",
		Usage:     "record a log entry",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "severity (trace, debug, info, notice, warning, error, critical, alert, emergency)",
			},
			&cli.StringFlag{
				Name:  "queue",
				Usage: "queue tag for the entry",
			},
			&cli.StringSliceFlag{
				Name:  "tag",
				Usage: "tag to attach (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "field",
				Usage: "context field as key=value (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("message argument required")
			}
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fields, err := parseFields(c.StringSlice("field"))
			if err != nil {
				return err
			}
			return runLog(c.Context, cfg, logRequest{
				level:   c.String("level"),
				message: strings.Join(c.Args().Slice(), " "),
				queue:   c.String("queue"),
				tags:    c.StringSlice("tag"),
				fields:  fields,
			})
		},
	}
}

func newInternalLogger(cfg *config.Config, w io.Writer) logging.Logger {
	if w == nil {
		w = os.Stderr
	}
	return logging.NewLogger(logging.LoggerConfig{
		Output:    w,
		Formatter: logging.NewFormatter(cfg.LogFormat, w),
		Level:     cfg.LogLevel,
		Sanitize:  true,
	})
}

func openRepo(cfg *config.Config) (*sqlx.DB, *storage.SQLiteRecordRepo, error) {
	db, err := storage.OpenDB(cfg.DBConnection, cfg.TableName)
	if err != nil {
		return nil, nil, err
	}
	return db, storage.NewSQLiteRecordRepo(db, cfg.TableName), nil
}

type cleanupOptions struct {
	days    int
	daysSet bool
	dryRun  bool
	force   bool
	archive string
}

func runCleanup(ctx context.Context, cfg *config.Config, opts cleanupOptions, out io.Writer) error {
	days := opts.days
	switch {
	case opts.daysSet && days < 1:
		return cli.Exit(fmt.Sprintf("Invalid --days value %d: must be at least 1.", days), 1)
	case !opts.daysSet:
		if cfg.RetentionDays == nil {
			return cli.Exit(noRetentionMessage, 1)
		}
		days = *cfg.RetentionDays
	}

	db, repo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sweeper := devlogger.NewSweeper(repo, devlogger.SweeperConfig{Hard: opts.force || cfg.HardDelete})

	fmt.Fprintf(out, "Cleaning up logs older than %d days...\n", days)

	if opts.dryRun {
		count, err := sweeper.Pending(ctx, days)
		if err != nil {
			return fmt.Errorf("count expired records: %w", err)
		}
		fmt.Fprintf(out, "Would delete %d log entries (dry run).\n", count)
		return nil
	}

	if opts.archive != "" {
		n, err := archiveExpired(ctx, repo, sweeper.ExpiredFilter(days), opts.archive)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Archived %d log entries to %s.\n", n, opts.archive)
	}

	deleted, err := sweeper.CleanupWithDays(ctx, days)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Fprintf(out, "Successfully deleted %d old log entries.\n", deleted)
	return nil
}

func archiveExpired(ctx context.Context, repo storage.RecordRepo, filter storage.ListFilter, path string) (int, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	n, err := storage.Archive(ctx, repo, filter, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive: %w", closeErr)
	}
	return n, err
}

// runServe blocks until ctx is cancelled. onReady, when set, receives the
// bound address.
func runServe(ctx context.Context, cfg *config.Config, onReady func(addr string)) error {
	db, repo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newInternalLogger(cfg, nil)

	recorder, err := devlogger.New(devlogger.OptionsFromConfig(cfg, repo, logger))
	if err != nil {
		return err
	}

	srv, err := dashboard.NewServer(dashboard.ServerConfig{
		Addr:     cfg.DashboardAddr,
		Repo:     repo,
		Logger:   logger,
		Recorder: recorder,
		Capture:  httpcapture.ConfigFrom(cfg),
	})
	if err != nil {
		return fmt.Errorf("create dashboard: %w", err)
	}
	if onReady != nil {
		srv.SetReadyCallback(func() { onReady(srv.Addr()) })
	}

	sweeper := devlogger.NewSweeper(repo, devlogger.SweeperConfig{
		RetentionDays: cfg.RetentionDays,
		Hard:          cfg.HardDelete,
		Logger:        logger,
	})
	if days, ok := sweeper.RetentionDays(); ok {
		logger.WithFields(logging.Fields{"days": days}).Info("sweeper", "schedule", "Daily cleanup scheduled")
		go sweeper.Run(ctx, 24*time.Hour)
	}

	return srv.Start(ctx)
}

type logRequest struct {
	level   string
	message string
	queue   string
	tags    []string
	fields  logging.Fields
}

func runLog(ctx context.Context, cfg *config.Config, req logRequest) error {
	var store devlogger.RecordStore
	if cfg.EnableDB {
		db, repo, err := openRepo(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		store = repo
	}

	l, err := devlogger.New(devlogger.OptionsFromConfig(cfg, store, newInternalLogger(cfg, nil)))
	if err != nil {
		return err
	}

	call := l.OnQueue(req.queue).WithTags(req.tags...)
	call.LogString(ctx, req.level, req.message, req.fields)
	return nil
}

func parseFields(pairs []string) (logging.Fields, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(logging.Fields, len(pairs))
	for _, p := range pairs {
		k, v, found := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !found || k == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value", p)
		}
		fields[k] = v
	}
	return fields, nil
}
