package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veille/internal/config"
	"veille/internal/types"
)

// mockDigestJob implements DigestJob.
type mockDigestJob struct {
	stats types.RunStats
	err   error
	calls int
}

func (m *mockDigestJob) Execute(ctx context.Context, now time.Time) (types.RunStats, error) {
	m.calls++
	return m.stats, m.err
}

// mockEmailService implements EmailService.
type mockEmailService struct {
	welcomeErr   error
	broadcastErr error

	welcomeCalls   int
	broadcastCalls int
	lastAddresses  []string
	lastTemplateID string
}

func (m *mockEmailService) SendWelcome(ctx context.Context, userID, address, firstName string) error {
	m.welcomeCalls++
	return m.welcomeErr
}

func (m *mockEmailService) SendBroadcast(ctx context.Context, addresses []string, templateID string) error {
	m.broadcastCalls++
	m.lastAddresses = addresses
	m.lastTemplateID = templateID
	return m.broadcastErr
}

func newTestServer(job *mockDigestJob, emails *mockEmailService, triggerToken string) *Server {
	cfg := &config.Config{}
	cfg.Server.Port = "0"
	cfg.Server.TriggerToken = types.SecretString(triggerToken)
	return New(cfg, job, emails, NewTelemetry(), nil)
}

func doRequest(t *testing.T, s *Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec.Result()
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&mockDigestJob{}, &mockEmailService{}, "")

	resp := doRequest(t, s, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestRunDigestReturnsStats(t *testing.T) {
	job := &mockDigestJob{stats: types.RunStats{
		RunID:         "run-1",
		UsersScanned:  30,
		UsersNotified: 4,
		ItemsSent:     11,
	}}
	s := newTestServer(job, &mockEmailService{}, "")

	resp := doRequest(t, s, http.MethodPost, "/internal/jobs/digest", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, float64(30), body["usersScanned"])
	assert.Equal(t, float64(4), body["usersNotified"])
	assert.Equal(t, 1, job.calls)
}

func TestRunDigestConflict(t *testing.T) {
	job := &mockDigestJob{err: types.NewAppError(types.ErrCodeConflictRunInProgress, "a digest run is already in progress", nil)}
	s := newTestServer(job, &mockEmailService{}, "")

	resp := doRequest(t, s, http.MethodPost, "/internal/jobs/digest", "", nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, string(types.ErrCodeConflictRunInProgress), errObj["code"])
}

func TestTriggerTokenRequired(t *testing.T) {
	s := newTestServer(&mockDigestJob{}, &mockEmailService{}, "secret-token")

	resp := doRequest(t, s, http.MethodPost, "/internal/jobs/digest", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, s, http.MethodPost, "/internal/jobs/digest", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, s, http.MethodPost, "/internal/jobs/digest", "secret-token", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTriggerTokenNotRequiredForHealth(t *testing.T) {
	s := newTestServer(&mockDigestJob{}, &mockEmailService{}, "secret-token")

	resp := doRequest(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWelcomeEmailEndpoint(t *testing.T) {
	emails := &mockEmailService{}
	s := newTestServer(&mockDigestJob{}, emails, "")

	resp := doRequest(t, s, http.MethodPost, "/internal/emails/welcome", "", map[string]string{
		"user_id":    "u1",
		"email":      "anne@example.com",
		"first_name": "Anne",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, emails.welcomeCalls)
}

func TestWelcomeEmailValidation(t *testing.T) {
	emails := &mockEmailService{}
	s := newTestServer(&mockDigestJob{}, emails, "")

	// Missing first_name.
	resp := doRequest(t, s, http.MethodPost, "/internal/emails/welcome", "", map[string]string{
		"user_id": "u1",
		"email":   "anne@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed email.
	resp = doRequest(t, s, http.MethodPost, "/internal/emails/welcome", "", map[string]string{
		"user_id":    "u1",
		"email":      "not-an-email",
		"first_name": "Anne",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Zero(t, emails.welcomeCalls)
}

func TestWelcomeEmailMalformedBody(t *testing.T) {
	s := newTestServer(&mockDigestJob{}, &mockEmailService{}, "")

	req := httptest.NewRequest(http.MethodPost, "/internal/emails/welcome", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBroadcastEndpoint(t *testing.T) {
	emails := &mockEmailService{}
	s := newTestServer(&mockDigestJob{}, emails, "")

	resp := doRequest(t, s, http.MethodPost, "/internal/emails/broadcast", "", map[string]any{
		"emails":      []string{"a@example.com", "b@example.com"},
		"template_id": "d-announce",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, emails.broadcastCalls)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, emails.lastAddresses)
	assert.Equal(t, "d-announce", emails.lastTemplateID)
}

func TestBroadcastRequiresRecipients(t *testing.T) {
	emails := &mockEmailService{}
	s := newTestServer(&mockDigestJob{}, emails, "")

	resp := doRequest(t, s, http.MethodPost, "/internal/emails/broadcast", "", map[string]any{
		"emails":      []string{},
		"template_id": "d-announce",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, emails.broadcastCalls)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&mockDigestJob{}, &mockEmailService{}, "")

	// Generate an observation, then scrape.
	doRequest(t, s, http.MethodPost, "/internal/jobs/digest", "", nil).Body.Close()

	resp := doRequest(t, s, http.MethodGet, "/metrics", "", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "veille_digest_runs_total")
}

func TestRecovererConvertsPanicTo500(t *testing.T) {
	s := newTestServer(&mockDigestJob{}, &mockEmailService{}, "")
	s.router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	resp := doRequest(t, s, http.MethodGet, "/boom", "", nil)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
