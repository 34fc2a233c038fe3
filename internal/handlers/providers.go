package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/hermesllm/internal/config"
	"github.com/mihaisavezi/hermesllm/internal/providers"
)

// ProviderInfo is one entry of the /v1/providers listing.
type ProviderInfo struct {
	ID           providers.ProviderID   `json:"id"`
	DisplayName  string                 `json:"display_name"`
	BaseURL      string                 `json:"base_url"`
	Configured   bool                   `json:"configured"`
	Capabilities []providers.Capability `json:"capabilities"`
}

// ProvidersHandler serves the capability table.
type ProvidersHandler struct {
	config *config.Manager
	logger *slog.Logger
}

func NewProvidersHandler(config *config.Manager, logger *slog.Logger) *ProvidersHandler {
	return &ProvidersHandler{
		config: config,
		logger: logger,
	}
}

func (h *ProvidersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(ListProviders(h.config.Get())); err != nil {
		h.logger.Error("Failed to write providers response", "error", err)
	}
}

// ListProviders describes every known provider. The base URL reflects the
// configuration when the provider is configured.
func ListProviders(cfg *config.Config) []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(providers.All()))

	for _, id := range providers.All() {
		info := ProviderInfo{
			ID:           id,
			DisplayName:  id.DisplayName(),
			BaseURL:      providers.BaseURL(id),
			Capabilities: providers.Capabilities(id),
		}

		if p, ok := cfg.Provider(id.String()); ok {
			info.Configured = true
			if p.APIBase != "" {
				info.BaseURL = p.APIBase
			}
		}

		infos = append(infos, info)
	}

	return infos
}
