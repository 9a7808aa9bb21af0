package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/taskorch/engine/internal/logger"
)

// errorResponse is the `{error, message}` shape every 4xx/5xx in §6 shares.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: code, Message: message})
}

// respondInvalidInput is the §6 400 `{error:"INVALID_INPUT", message}` shape.
func respondInvalidInput(w http.ResponseWriter, message string) {
	respondError(w, http.StatusBadRequest, "INVALID_INPUT", message)
}
