// Package queue provides the SQS producer for transactional email messages.
// API handlers enqueue; the email worker consumes and sends, so a SendGrid
// hiccup never fails a signup request.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"veille/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code passes the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EmailPublisher enqueues EmailMessage payloads for the email worker.
type EmailPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEmailPublisher creates an EmailPublisher for the given queue URL.
func NewEmailPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EmailPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishWelcome enqueues a welcome email for the given user. The reference
// ID correlates the queue message with worker logs.
func (p *EmailPublisher) PublishWelcome(ctx context.Context, userID, address, firstName string) error {
	msg := types.EmailMessage{
		ReferenceID: uuid.New().String(),
		Kind:        types.EmailKindWelcome,
		Recipient:   address,
		Data: map[string]string{
			"user_id":    userID,
			"first_name": firstName,
		},
		EnqueuedAt: time.Now().UTC(),
	}
	return p.publish(ctx, msg)
}

// PublishBroadcast enqueues one broadcast message per recipient so the
// worker retries each address independently. All messages of one broadcast
// share a reference ID.
func (p *EmailPublisher) PublishBroadcast(ctx context.Context, addresses []string, templateID string) error {
	referenceID := uuid.New().String()
	for _, addr := range addresses {
		msg := types.EmailMessage{
			ReferenceID: referenceID,
			Kind:        types.EmailKindBroadcast,
			Recipient:   addr,
			TemplateID:  templateID,
			EnqueuedAt:  time.Now().UTC(),
		}
		if err := p.publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *EmailPublisher) publish(ctx context.Context, msg types.EmailMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal email message", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to enqueue %s email", msg.Kind), err)
	}

	p.logger.InfoContext(ctx, "email message enqueued",
		"kind", string(msg.Kind),
		"reference_id", msg.ReferenceID,
	)
	return nil
}
