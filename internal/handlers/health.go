package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/hermesllm/internal/config"
)

type healthStatus struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
}

type HealthHandler struct {
	config *config.Manager
	logger *slog.Logger
}

func NewHealthHandler(config *config.Manager, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		config: config,
		logger: logger,
	}
}

// ServeHTTP reports liveness and the providers requests can be routed to.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "ok", Providers: []string{}}

	for _, p := range h.config.Get().Providers {
		if id, err := p.ID(); err == nil {
			status.Providers = append(status.Providers, id.String())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
