package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
	"github.com/fifthdraft/fifthdraft/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// serviceError maps a pipeline error onto an HTTP status.
func serviceError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "note not found")
		return
	}
	switch apperr.CategoryOf(err) {
	case apperr.CategoryPrecondition:
		httpError(w, http.StatusUnprocessableEntity, "precondition_failed", "%s: %v", op, err)
	case apperr.CategoryProvider, apperr.CategoryParse:
		httpError(w, http.StatusBadGateway, "provider_error", "%s: %v", op, err)
	case apperr.CategoryConfiguration:
		httpError(w, http.StatusServiceUnavailable, "configuration_error", "%s: %v", op, err)
	default:
		slog.Error("request failed", "op", op, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%s failed", op)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
