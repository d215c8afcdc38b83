// Package main is the entrypoint for the transactional email worker Lambda.
//
// The worker consumes EmailMessage payloads from the email SQS queue and
// routes each to the transactional email service: welcome mails on signup,
// broadcast mails when an operator dispatches an announcement. It uses the
// SQS Lambda handler pattern with partial batch responses, so a transient
// SendGrid failure retries only the affected messages.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"veille/internal/config"
	"veille/internal/email"
	"veille/internal/external"
	"veille/internal/types"
)

// Handler holds the email service across warm invocations.
type Handler struct {
	emails *email.Service
	logger *slog.Logger
}

// Handle processes an SQS event containing one or more email messages. Each
// message is processed independently; failures that can succeed on retry
// are reported via batchItemFailures, permanent failures are acknowledged
// so they do not loop through the queue forever.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process email message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage sends one email message. A nil return acknowledges the
// SQS message; a non-nil return requests a retry.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.EmailMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Malformed body will never parse on retry.
		h.logger.ErrorContext(ctx, "failed to unmarshal email message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	logger := h.logger.With(
		"reference_id", msg.ReferenceID,
		"kind", string(msg.Kind),
	)
	logger.InfoContext(ctx, "processing email message")

	var err error
	switch msg.Kind {
	case types.EmailKindWelcome:
		err = h.emails.SendWelcome(ctx, msg.Data["user_id"], msg.Recipient, msg.Data["first_name"])
	case types.EmailKindBroadcast:
		err = h.emails.SendBroadcast(ctx, []string{msg.Recipient}, msg.TemplateID)
	default:
		logger.WarnContext(ctx, "unknown email kind; dropping message")
		return nil
	}

	if err != nil {
		if isPermanent(err) {
			logger.WarnContext(ctx, "email permanently undeliverable; dropping message", "error", err)
			return nil
		}
		return err
	}
	return nil
}

// isPermanent reports whether retrying the message could never succeed:
// invalid payloads and provider-blocked recipients stay broken no matter
// how many times SQS redelivers.
func isPermanent(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case types.ErrCodeValidationMissingField,
		types.ErrCodeValidationInvalidEmail,
		types.ErrCodeValidationBadPayload,
		types.ErrCodeEmailBlocked:
		return true
	}
	return false
}

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	gateway := external.NewSendGridClient(&http.Client{Timeout: 10 * time.Second}, cfg.Email, logger)

	handler := &Handler{
		emails: email.NewService(gateway, cfg.Email, logger),
		logger: logger,
	}
	lambda.Start(handler.Handle)
}
