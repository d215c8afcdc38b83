package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"veille/internal/config"
	"veille/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL. Overridable through
// config for httptest servers.
const sendGridAPIBase = "https://api.sendgrid.com"

// Personalization is one recipient slot in a SendGrid mail/send call. Data
// feeds the dynamic template; for digests it carries the user's first name
// and article list.
type Personalization struct {
	Email string
	Name  string
	Data  map[string]any
}

// SendGridClient talks to the SendGrid v3 Mail Send API through BaseClient,
// so every call gets the shared retry and circuit-breaker policy and tests
// can point it at an httptest server.
//
// The batch contract matters to the digest engine: one SendBatch call covers
// one delivery batch, and its error is the whole batch's error. SendGrid
// accepts up to 1000 personalizations per call, far above our batch size.
type SendGridClient struct {
	base      *BaseClient
	apiKey    types.SecretString
	baseURL   string
	fromEmail string
	fromName  string
	logger    *slog.Logger
}

// NewSendGridClient creates a SendGridClient from the email configuration.
func NewSendGridClient(httpClient *http.Client, cfg config.EmailConfig, logger *slog.Logger) *SendGridClient {
	base := NewBaseClient(httpClient, "sendgrid", DefaultRetryPolicy(), "veille-notifier/1.0")
	return NewSendGridClientWithBase(base, cfg, logger)
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient, used by tests to disable retries.
func NewSendGridClientWithBase(base *BaseClient, cfg config.EmailConfig, logger *slog.Logger) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:      base,
		apiKey:    cfg.SendGridAPIKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		fromEmail: cfg.FromAddress,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// sendGridMailPayload is the v3 mail/send JSON body with dynamic templates.
type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	TemplateID       string                    `json:"template_id"`
}

type sendGridPersonalization struct {
	To          []sendGridAddress `json:"to"`
	DynamicData map[string]any    `json:"dynamic_template_data,omitempty"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// sendGridErrorResponse is the JSON error body returned by SendGrid.
type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// SendBatch submits one mail/send call with one personalization per entry.
// SendGrid answers 202 Accepted on success. Any other outcome is an error
// for the entire batch; the caller decides what that means for retries (the
// digest engine retries by simply not advancing timestamps).
func (s *SendGridClient) SendBatch(ctx context.Context, personalizations []Personalization, templateID string) error {
	if len(personalizations) == 0 {
		return nil
	}
	if templateID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "sendgrid template id is required", nil)
	}

	payload := sendGridMailPayload{
		Personalizations: make([]sendGridPersonalization, 0, len(personalizations)),
		From:             sendGridAddress{Email: s.fromEmail, Name: s.fromName},
		TemplateID:       templateID,
	}
	for _, p := range personalizations {
		payload.Personalizations = append(payload.Personalizations, sendGridPersonalization{
			To:          []sendGridAddress{{Email: p.Email, Name: p.Name}},
			DynamicData: p.Data,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal sendgrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create sendgrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey.Unmask())

	start := time.Now()
	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		s.logger.DebugContext(ctx, "sendgrid batch accepted",
			"recipients", len(personalizations),
			"elapsed", time.Since(start),
		)
		return nil
	}
	return s.handleErrorResponse(resp)
}

// handleErrorResponse reads the SendGrid error body (kept human-readable for
// operator logs) and maps the status to an AppError.
func (s *SendGridClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("sendgrid returned %d with unreadable body", resp.StatusCode), readErr)
	}

	msg := string(body)
	var sgErr sendGridErrorResponse
	if jsonErr := json.Unmarshal(body, &sgErr); jsonErr == nil && len(sgErr.Errors) > 0 {
		msg = sgErr.Errors[0].Message
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		// Recipient on the suppression list.
		return types.NewAppError(types.ErrCodeEmailBlocked,
			fmt.Sprintf("sendgrid blocked delivery: %s", msg), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "sendgrid rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("sendgrid server error: %s", msg), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("sendgrid error (%d): %s", resp.StatusCode, msg), nil)
	}
}

// wrapTransportError passes AppErrors from BaseClient through unchanged and
// wraps anything else as an email-provider failure.
func (s *SendGridClient) wrapTransportError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "sendgrid request failed", err)
}
