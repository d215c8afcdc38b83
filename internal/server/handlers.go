package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"veille/internal/types"
)

// welcomeRequest mirrors the legacy welcome-email trigger payload.
type welcomeRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
}

// broadcastRequest is the operator broadcast payload.
type broadcastRequest struct {
	Emails     []string `json:"emails" validate:"required,min=1,dive,email"`
	TemplateID string   `json:"template_id" validate:"required"`
}

// handleHealth is an unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRunDigest triggers one digest run. "Now" is captured here, once, and
// threaded through the whole run. Responses: 200 with run statistics, 409
// when a run is already in progress, 500 otherwise.
func (s *Server) handleRunDigest(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	stats, err := s.job.Execute(r.Context(), now)
	if err != nil {
		if s.telemetry != nil {
			s.telemetry.ObserveDigestRun("error", 0)
		}
		writeError(w, err, 0)
		return
	}
	if s.telemetry != nil {
		s.telemetry.ObserveDigestRun("success", stats.UsersNotified)
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleWelcomeEmail validates and sends the signup welcome email.
func (s *Server) handleWelcomeEmail(w http.ResponseWriter, r *http.Request) {
	var req welcomeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.emails.SendWelcome(r.Context(), req.UserID, req.Email, req.FirstName); err != nil {
		s.observeEmail("welcome", "error")
		writeError(w, err, 0)
		return
	}
	s.observeEmail("welcome", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "welcome email sent"})
}

// handleBroadcastEmail sends one templated email to a list of addresses.
func (s *Server) handleBroadcastEmail(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.emails.SendBroadcast(r.Context(), req.Emails, req.TemplateID); err != nil {
		s.observeEmail("broadcast", "error")
		writeError(w, err, 0)
		return
	}
	s.observeEmail("broadcast", "success")
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "broadcast sent",
		"recipients": len(req.Emails),
	})
}

// decodeAndValidate parses the JSON body into dst and runs struct
// validation, writing the 400 itself on failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, types.NewAppError(types.ErrCodeValidationBadPayload, "malformed JSON body", err), 0)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), err), 0)
		return false
	}
	return true
}

func (s *Server) observeEmail(kind, result string) {
	if s.telemetry != nil {
		s.telemetry.ObserveEmailSend(kind, result)
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps an AppError to its HTTP status (or uses the override when
// non-zero) and writes the error envelope.
func writeError(w http.ResponseWriter, err error, statusOverride int) {
	status := http.StatusInternalServerError
	var body errorBody
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		body.Error.Code = string(appErr.Code)
		body.Error.Message = appErr.Message
	} else {
		body.Error.Code = string(types.ErrCodeInternalUnexpected)
		body.Error.Message = err.Error()
	}
	if statusOverride != 0 {
		status = statusOverride
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Best effort; nothing sensible to do if encoding fails mid-response.
	_ = json.NewEncoder(w).Encode(v)
}
