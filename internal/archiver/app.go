// Package archiver wires up and runs the archival batch binary. It
// connects to the hot store, applies pending migrations, builds the cold
// store client and executes one archival pass.
package archiver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/archive"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/coldstore"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/config"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/hotstore"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
)

const (
	dbConnectAttempts = 5
	dbConnectBackoff  = 1 * time.Second
)

type App struct {
	config *config.Config
	logger logging.Logger
}

func NewApp(c *config.Config) *App {
	slog := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slog)

	return &App{config: c, logger: logger}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// connectDB opens the pool and waits for the database to become
// reachable. The job is typically fired by a scheduler right after
// infrastructure comes up, so the first pings are allowed to fail.
func (app *App) connectDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("pgx", app.config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	backoff := retry.WithMaxRetries(dbConnectAttempts, retry.NewExponential(dbConnectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			app.logger.Warn(ctx, "database not ready", "error", err.Error())
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}

// Run executes one archival pass and returns an error when the pass could
// not run at all or failed for every user.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting archiver...")

	app.initSignalHandler(cancelFunc)

	ctx, cancelTimeout := context.WithTimeout(ctx, app.config.RunTimeout)
	defer cancelTimeout()

	db, err := app.connectDB(ctx)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()

	if err := hotstore.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	store := hotstore.NewStore(db, app.config.DatabaseDSN, app.logger)

	cold, err := coldstore.NewS3Store(ctx, coldstore.S3Config{
		Bucket:       app.config.S3Bucket,
		Region:       app.config.S3Region,
		BaseEndpoint: app.config.S3BaseEndpoint,
		RootUser:     app.config.S3RootUser,
		RootPassword: app.config.S3RootPassword,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("object storage init error: %w", err)
	}

	job := archive.NewJob(store, cold, app.config.RetentionMonths, app.config.Concurrency, app.logger)

	report, err := job.Run(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("archival run error: %w", err)
	}
	if report.Users > 0 && report.FailedUsers == report.Users {
		return fmt.Errorf("archival failed for all %d users", report.Users)
	}
	return nil
}
