package httpapi

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

// ErrorResponse — единый формат ошибок REST API.
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

const unexpectedErrorMessage = "unexpected server error"

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindWindowNotFound:
		return http.StatusNotFound
	case domain.ErrorKindZoneNotOffered:
		return http.StatusBadRequest
	case domain.ErrorKindZoneExhausted:
		return http.StatusConflict
	case domain.ErrorKindStore, domain.ErrorKindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)

	entry := h.logger.WithError(err).WithFields(log.Fields{
		"path": r.URL.Path,
		"kind": string(kind),
	})

	message := err.Error()
	switch kind {
	case domain.ErrorKindStore:
		entry.Error("request failed")
		message = "window store unavailable"
	case domain.ErrorKindCanceled:
		entry.Warn("request canceled")
		message = "request timed out waiting for window"
	case domain.ErrorKindUnknown:
		entry.Error("request failed")
		message = unexpectedErrorMessage
	default:
		entry.Debug("request rejected")
	}

	h.writeError(w, r, status, message)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Timestamp: h.now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      r.URL.Path,
	})
}
