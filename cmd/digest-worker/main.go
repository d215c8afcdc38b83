// Package main is the entrypoint for the digest worker Lambda.
//
// An EventBridge schedule invokes the function periodically (typically
// hourly); each invocation performs one digest run and returns the run
// statistics as the invocation result. Eligibility filtering makes frequent
// invocation safe: users whose cadence is not yet met are skipped.
//
// Cold start wires the dependency graph once:
//  1. Structured JSON logger.
//  2. Configuration (fail fast on missing SendGrid credentials: a run must
//     never start partially configured).
//  3. pgx pool, repositories, advisory run lock.
//  4. SendGrid client behind the shared retry/breaker policy.
//  5. CloudWatch run-metrics publisher.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"veille/internal/config"
	"veille/internal/db"
	"veille/internal/digest"
	"veille/internal/external"
	"veille/internal/metrics"
	"veille/internal/types"
)

// Handler holds the digest job across warm invocations.
type Handler struct {
	job    *digest.Job
	logger *slog.Logger
}

// Handle performs one digest run. The run's "now" is captured here, once,
// so every stage of the run agrees on it. A lock conflict (another run in
// flight) is reported as success with empty statistics: the scheduler
// retrying a skipped cycle would only pile up more conflicts.
func (h *Handler) Handle(ctx context.Context) (types.RunStats, error) {
	now := time.Now().UTC()
	stats, err := h.job.Execute(ctx, now)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictRunInProgress {
			h.logger.WarnContext(ctx, "skipping invocation; digest run already in progress")
			return stats, nil
		}
		return stats, err
	}
	return stats, nil
}

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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

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

	runMetrics := metrics.NewRunMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricsNamespace, logger)

	handler := &Handler{
		job:    digest.NewJob(runner, lock, runMetrics, logger),
		logger: logger,
	}
	lambda.Start(handler.Handle)
}
