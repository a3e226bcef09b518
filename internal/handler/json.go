package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// writeJSON sends a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write JSON response", "error", err)
	}
}

// writeError sends a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into dst, rejecting unknown fields.
func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

type unsupportedFormatBody struct {
	Error   string   `json:"error"`
	Field   string   `json:"field"`
	Allowed []string `json:"allowed"`
}

// writeServiceError maps a service error onto a status code. Server side
// failures are logged and answered with a generic body.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ufe *domain.UnsupportedFormatError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ufe):
		writeJSON(w, http.StatusBadRequest, unsupportedFormatBody{
			Error:   ufe.Error(),
			Field:   "file",
			Allowed: ufe.Allowed,
		})
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, domain.ErrRenderFailed), errors.Is(err, domain.ErrStorage):
		slog.Error(op, "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	case errors.Is(err, domain.ErrTransient):
		slog.Warn(op, "method", r.Method, "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "storage busy, try again")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not Found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, conflictMessage(err))
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(op, "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateName):
		return "image name need to be unique"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "thumbnail already exists"
	default:
		return "Conflict"
	}
}
