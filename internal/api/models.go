package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/helpdesk/internal/registry"
)

// ModelsResponse lists integrations with their keys masked.
type ModelsResponse struct {
	Integrations []registry.Integration `json:"integrations"`
	ActiveID     string                 `json:"activeId"`
}

func redactAll(in []registry.Integration) []registry.Integration {
	out := make([]registry.Integration, len(in))
	for i, it := range in {
		out[i] = it.Redacted()
	}
	return out
}

func handleListModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ModelsResponse{
			Integrations: redactAll(deps.Models.List()),
			ActiveID:     deps.Models.ActiveID(),
		})
	}
}

func handleAddModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in registry.Integration
		if !decodeBody(w, r, &in) {
			return
		}
		it, err := deps.Models.AddCustom(in)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, it.Redacted())
	}
}

func handleConnectModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			APIKey string `json:"apiKey"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		it, err := deps.Models.Connect(chi.URLParam(r, "id"), req.APIKey)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, it.Redacted())
	}
}

func handleDisconnectModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := deps.Models.Disconnect(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, it.Redacted())
	}
}

func handleSetActiveModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Models.SetActive(req.ID); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"activeId": deps.Models.ActiveID()})
	}
}

func handleModelCatalog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Catalog == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "model catalog not available")
			return
		}
		it, err := deps.Models.Get(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if !it.IsConnected || it.APIKey == nil {
			httpError(w, http.StatusConflict, "conflict_error", "%s is not connected", it.Name)
			return
		}
		models, err := deps.Catalog(r.Context(), *it.APIKey)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, models)
	}
}
