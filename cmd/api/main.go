// Package main is the entrypoint for the internal operations API.
//
// The API exposes the manual digest trigger, the transactional email
// endpoints, a liveness probe, and Prometheus metrics. It is meant to run
// as a long-lived container behind the internal load balancer; the
// trigger endpoints are guarded by a static bearer token.
//
// When an email queue URL is configured the transactional endpoints
// enqueue to SQS and the email worker sends; without one they send
// through SendGrid synchronously, which keeps local development free of
// AWS dependencies.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"veille/internal/config"
	"veille/internal/db"
	"veille/internal/digest"
	"veille/internal/email"
	"veille/internal/external"
	"veille/internal/queue"
	"veille/internal/server"
)

// enqueuingEmailService satisfies server.EmailService by publishing to the
// email queue instead of calling SendGrid inline.
type enqueuingEmailService struct {
	publisher *queue.EmailPublisher
}

func (s *enqueuingEmailService) SendWelcome(ctx context.Context, userID, address, firstName string) error {
	return s.publisher.PublishWelcome(ctx, userID, address, firstName)
}

func (s *enqueuingEmailService) SendBroadcast(ctx context.Context, addresses []string, templateID string) error {
	return s.publisher.PublishBroadcast(ctx, addresses, templateID)
}

var _ server.EmailService = (*enqueuingEmailService)(nil)

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

	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(cfg.Database); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")
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
	job := digest.NewJob(runner, lock, nil, logger)

	var emails server.EmailService
	if cfg.AWS.EmailQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("failed to load AWS configuration", "error", err)
			os.Exit(1)
		}
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			// Non-empty endpoint points at localstack in development.
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		publisher := queue.NewEmailPublisher(sqsClient, cfg.AWS.EmailQueueURL, logger)
		emails = &enqueuingEmailService{publisher: publisher}
		logger.Info("transactional emails will be enqueued", "queue_url", cfg.AWS.EmailQueueURL)
	} else {
		emails = email.NewService(gateway, cfg.Email, logger)
		logger.Info("transactional emails will be sent synchronously")
	}

	srv := server.New(cfg, job, emails, server.NewTelemetry(), logger)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("http server exited", "error", err)
		os.Exit(1)
	}
}
