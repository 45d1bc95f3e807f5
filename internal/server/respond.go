package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cityfam/cityfam/internal/attendance"
	"github.com/cityfam/cityfam/internal/auth"
	"github.com/cityfam/cityfam/internal/business"
	"github.com/cityfam/cityfam/internal/chat"
	"github.com/cityfam/cityfam/internal/community"
	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/feeds"
	"github.com/cityfam/cityfam/internal/payments"
	"github.com/cityfam/cityfam/internal/storage"
	"github.com/cityfam/cityfam/internal/validate"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	return nil
}

// statusOf maps an error to the HTTP status and client message it produces.
func statusOf(err error) (int, string) {
	switch {
	case validate.Fields(err) != nil:
		return http.StatusBadRequest, "validation failed"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, database.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, community.ErrForbidden),
		errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, business.ErrSessionMismatch):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, community.ErrUnknownBranch),
		errors.Is(err, feeds.ErrUnknownBranch),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrSelfConversation),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, storage.ErrUnsupportedType):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, attendance.ErrNotAttending),
		errors.Is(err, business.ErrSessionIncomplete),
		errors.Is(err, business.ErrNoSubscription):
		return http.StatusConflict, err.Error()
	case errors.Is(err, storage.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, payments.ErrNotConfigured):
		return http.StatusServiceUnavailable, "payments are not configured"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError responds with the status matching err. Server errors are logged
// with the request id; their details never reach the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	body := map[string]interface{}{"error": msg}
	if fields := validate.Fields(err); fields != nil {
		body["fields"] = fields
	}
	writeJSON(w, status, body)
}
