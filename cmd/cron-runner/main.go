// Package main is the entrypoint for the standalone cron runner.
//
// Deployments without EventBridge (a plain VM or a single container) run
// this binary instead of the digest worker Lambda: it schedules digest
// runs in-process with a cron expression and exits cleanly on SIGINT or
// SIGTERM. The advisory run lock still serializes runs, so the runner can
// coexist with manual triggers through the API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"veille/internal/config"
	"veille/internal/db"
	"veille/internal/digest"
	"veille/internal/external"
	"veille/internal/types"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	users := db.NewUserRepository(pool)
	articles := db.NewArticleRepository(pool)

	gateway := external.NewSendGridClient(&http.Client{Timeout: 10 * time.Second}, cfg.Email, logger)
	selector := digest.NewSelector(articles, logger)
	batcher := digest.NewBatcher(gateway, cfg.Email.DigestTemplateID,
		cfg.Digest.SendBatchSize, cfg.Digest.SendConcurrency, logger)
	runner := digest.NewRunner(users, selector, batcher,
		cfg.Digest.UserPageSize, cfg.Digest.SelectorConcurrency, logger)

	var lock digest.RunLock
	if cfg.Digest.UseRunLock {
		lock = db.NewRunLock(pool)
	}
	job := digest.NewJob(runner, lock, nil, logger)

	// All eligibility arithmetic is UTC day based; scheduling in any other
	// zone would shift runs across the day boundary users were notified in.
	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc(cfg.Digest.CronSpec, func() {
		runOnce(ctx, job, logger)
	}); err != nil {
		logger.Error("invalid cron expression", "spec", cfg.Digest.CronSpec, "error", err)
		os.Exit(1)
	}

	scheduler.Start()
	logger.Info("cron runner started", "spec", cfg.Digest.CronSpec)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	logger.Info("shutting down", "signal", sig.String())
	// Stop returns after in-flight jobs finish; a digest run mid-flight is
	// allowed to complete so its last-sent bookkeeping lands.
	<-scheduler.Stop().Done()
}

// runOnce executes one digest run and logs the outcome. A lock conflict is
// a skip, not a failure.
func runOnce(ctx context.Context, job *digest.Job, logger *slog.Logger) {
	now := time.Now().UTC()
	stats, err := job.Execute(ctx, now)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictRunInProgress {
			logger.WarnContext(ctx, "skipping scheduled run; digest run already in progress")
			return
		}
		logger.ErrorContext(ctx, "scheduled digest run failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "scheduled digest run completed",
		"run_id", stats.RunID,
		"users_scanned", stats.UsersScanned,
		"users_notified", stats.UsersNotified,
		"items_sent", stats.ItemsSent,
	)
}
