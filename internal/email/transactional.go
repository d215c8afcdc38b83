// Package email composes and sends the transactional (non-digest) emails:
// the welcome message on signup and operator-initiated broadcasts. Both go
// out through the same SendGrid gateway as the digest batches.
package email

import (
	"context"
	"log/slog"
	"net/mail"

	"veille/internal/config"
	"veille/internal/external"
	"veille/internal/types"
)

// Gateway is the outbound email collaborator.
type Gateway interface {
	SendBatch(ctx context.Context, personalizations []external.Personalization, templateID string) error
}

// Service sends transactional emails.
type Service struct {
	gateway           Gateway
	welcomeTemplateID string
	siteBaseURL       string
	logger            *slog.Logger
}

// NewService creates the transactional email service from the email
// configuration.
func NewService(gateway Gateway, cfg config.EmailConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway:           gateway,
		welcomeTemplateID: cfg.WelcomeTemplateID,
		siteBaseURL:       cfg.SiteBaseURL,
		logger:            logger,
	}
}

// SendWelcome sends the signup welcome email to a single user.
func (s *Service) SendWelcome(ctx context.Context, userID, address, firstName string) error {
	if userID == "" || address == "" || firstName == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"user_id, email and first_name are required", nil)
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidEmail, "invalid recipient address", err)
	}

	err := s.gateway.SendBatch(ctx, []external.Personalization{{
		Email: address,
		Name:  firstName,
		Data: map[string]any{
			"first_name": firstName,
			"base_url":   s.siteBaseURL,
		},
	}}, s.welcomeTemplateID)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "welcome email sent", "user_id", userID)
	return nil
}

// SendBroadcast sends one templated email to every address in one gateway
// call, one personalization per recipient. Used for product announcements;
// the template is chosen per broadcast.
func (s *Service) SendBroadcast(ctx context.Context, addresses []string, templateID string) error {
	if len(addresses) == 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField, "at least one recipient is required", nil)
	}
	if templateID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "template_id is required", nil)
	}
	for _, addr := range addresses {
		if _, err := mail.ParseAddress(addr); err != nil {
			return types.NewAppError(types.ErrCodeValidationInvalidEmail, "invalid recipient address: "+addr, err)
		}
	}

	personalizations := make([]external.Personalization, 0, len(addresses))
	for _, addr := range addresses {
		personalizations = append(personalizations, external.Personalization{
			Email: addr,
			Data:  map[string]any{"base_url": s.siteBaseURL},
		})
	}

	if err := s.gateway.SendBatch(ctx, personalizations, templateID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "broadcast sent", "recipients", len(addresses))
	return nil
}
