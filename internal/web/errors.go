package web

// errors.go turns handler errors into responses.
//
// The technical error is logged with the request id, the client gets the
// importer.MapError message: JSON for /api routes, plain text for pages.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tabimport/internal/dataset"
	"github.com/JonMunkholm/tabimport/internal/importer"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/reflection"
	"github.com/JonMunkholm/tabimport/internal/storage"
)

var (
	// errBadRequest marks client input problems found by the handlers.
	errBadRequest = errors.New("bad request")

	errTooLarge = errors.New("file too large")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, importer.ErrJobNotFound),
		errors.Is(err, importer.ErrLogNotFound),
		errors.Is(err, importer.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrModelNotImportable):
		return http.StatusForbidden
	case errors.Is(err, importer.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, importer.ErrInvalidOptions),
		errors.Is(err, reflection.ErrMalformedSpec),
		errors.Is(err, reflection.ErrUnknownReflection),
		errors.Is(err, dataset.ErrUnsupportedFormat),
		errors.Is(err, storage.ErrInvalidName),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the user-facing message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := importer.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	// Server-side details stay in the log.
	detail := userMsg.Message
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}

	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{
			Error:   detail,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
		})
		return
	}
	http.Error(w, importer.FormatUserError(err), status)
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
