package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veille/internal/config"
	"veille/internal/external"
	"veille/internal/types"
)

// mockGateway implements Gateway and records the last SendBatch call.
type mockGateway struct {
	err              error
	calls            int
	personalizations []external.Personalization
	templateID       string
}

func (m *mockGateway) SendBatch(ctx context.Context, personalizations []external.Personalization, templateID string) error {
	m.calls++
	m.personalizations = personalizations
	m.templateID = templateID
	return m.err
}

func newTestService(gw Gateway) *Service {
	return NewService(gw, config.EmailConfig{
		WelcomeTemplateID: "d-welcome",
		SiteBaseURL:       "https://veillemedicale.fr",
	}, nil)
}

func TestSendWelcome(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)

	err := svc.SendWelcome(context.Background(), "u1", "anne@example.com", "Anne")

	require.NoError(t, err)
	assert.Equal(t, "d-welcome", gw.templateID)
	require.Len(t, gw.personalizations, 1)
	assert.Equal(t, "anne@example.com", gw.personalizations[0].Email)
	assert.Equal(t, "Anne", gw.personalizations[0].Data["first_name"])
	assert.Equal(t, "https://veillemedicale.fr", gw.personalizations[0].Data["base_url"])
}

func TestSendWelcomeValidatesInput(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)

	tests := []struct {
		name      string
		userID    string
		address   string
		firstName string
		wantCode  types.ErrorCode
	}{
		{"missing user id", "", "anne@example.com", "Anne", types.ErrCodeValidationMissingField},
		{"missing address", "u1", "", "Anne", types.ErrCodeValidationMissingField},
		{"missing first name", "u1", "anne@example.com", "", types.ErrCodeValidationMissingField},
		{"invalid address", "u1", "not-an-email", "Anne", types.ErrCodeValidationInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SendWelcome(context.Background(), tt.userID, tt.address, tt.firstName)

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
	assert.Zero(t, gw.calls, "gateway should not be reached on invalid input")
}

func TestSendWelcomePropagatesGatewayError(t *testing.T) {
	gw := &mockGateway{err: errors.New("send failed")}
	svc := newTestService(gw)

	err := svc.SendWelcome(context.Background(), "u1", "anne@example.com", "Anne")
	assert.Error(t, err)
}

func TestSendBroadcast(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)

	err := svc.SendBroadcast(context.Background(),
		[]string{"a@example.com", "b@example.com"}, "d-announce")

	require.NoError(t, err)
	assert.Equal(t, 1, gw.calls, "one gateway call covers the whole broadcast")
	assert.Equal(t, "d-announce", gw.templateID)
	require.Len(t, gw.personalizations, 2)
	assert.Equal(t, "b@example.com", gw.personalizations[1].Email)
}

func TestSendBroadcastValidation(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)

	var appErr *types.AppError

	err := svc.SendBroadcast(context.Background(), nil, "d-announce")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)

	err = svc.SendBroadcast(context.Background(), []string{"a@example.com"}, "")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)

	err = svc.SendBroadcast(context.Background(), []string{"a@example.com", "bogus"}, "d-announce")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidEmail, appErr.Code)

	assert.Zero(t, gw.calls)
}
