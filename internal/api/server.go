// Package api exposes the help-desk services over a loopback HTTP API and
// as MCP tools.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/ingest"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/proxy"
	"github.com/kalambet/helpdesk/internal/registry"
	"github.com/kalambet/helpdesk/internal/widget"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImportBodySize  = 15 << 20 // base64 of a 10MB file
)

// Catalog lists the models available to apiKey at the remote endpoint.
type Catalog func(ctx context.Context, apiKey string) ([]proxy.Model, error)

// ProxyCatalog returns a Catalog backed by proxy.Client at baseURL.
func ProxyCatalog(baseURL string, timeout time.Duration) Catalog {
	return func(ctx context.Context, apiKey string) ([]proxy.Model, error) {
		return proxy.NewClientWithBaseURL(apiKey, baseURL).WithTimeout(timeout).ListModels(ctx)
	}
}

// Deps holds the services behind the console API.
type Deps struct {
	Knowledge     *knowledge.Store
	Models        *registry.Registry
	Conversations *conversation.Store
	Widget        *widget.Widget
	Importer      *ingest.Importer
	Notifications *notify.Ring // optional
	Catalog       Catalog      // optional; GET /models/{id}/catalog answers 501 without it
	AgentName     string
	Token         string
	Logger        *slog.Logger
}

// NewHandler returns the console API router. Everything except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "api")
	if deps.Importer == nil {
		deps.Importer = ingest.NewImporter(nil, deps.Logger)
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", handleListDocuments(deps))
			r.Post("/", handleAddDocument(deps))
			r.Get("/search", handleSearchDocuments(deps))
			r.Post("/import", handleImportDocument(deps))
			r.Post("/import/batch", handleImportBatch(deps))
			r.Get("/export", handleExportDocuments(deps))
			r.Post("/yaml", handleImportYAML(deps))
			r.Get("/{id}", handleGetDocument(deps))
			r.Put("/{id}", handleUpdateDocument(deps))
			r.Delete("/{id}", handleDeleteDocument(deps))
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", handleListModels(deps))
			r.Post("/", handleAddModel(deps))
			r.Put("/active", handleSetActiveModel(deps))
			r.Post("/{id}/connect", handleConnectModel(deps))
			r.Post("/{id}/disconnect", handleDisconnectModel(deps))
			r.Get("/{id}/catalog", handleModelCatalog(deps))
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(deps))
			r.Post("/", handleCreateConversation(deps))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handleGetConversation(deps))
				r.Post("/messages", handlePostUserMessage(deps))
				r.Post("/agent-messages", handlePostAgentMessage(deps))
				r.Post("/assist", handleAssist(deps))
				r.Patch("/messages/{msgID}", handleEditConversationMessage(deps))
				r.Delete("/messages/{msgID}", handleDeleteConversationMessage(deps))
				r.Post("/takeover", handleTakeover(deps))
				r.Post("/release", handleRelease(deps))
				r.Post("/participants", handleAddConversationParticipant(deps))
				r.Put("/tags", handleSetTags(deps))
				r.Put("/priority", handleSetPriority(deps))
				r.Get("/events", handleConversationEvents(deps))
				r.Get("/ws", handleConversationSocket(deps))
			})
		})

		r.Route("/widget/{session}", func(r chi.Router) {
			r.Get("/messages", handleWidgetMessages(deps))
			r.Post("/messages", handleWidgetSend(deps))
			r.Patch("/messages/{msgID}", handleWidgetEdit(deps))
			r.Delete("/messages/{msgID}", handleWidgetDelete(deps))
			r.Post("/participants", handleWidgetAddParticipant(deps))
			r.Delete("/", handleWidgetReset(deps))
		})

		r.Get("/notifications", handleNotifications(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleNotifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events := []notify.Event{}
		if deps.Notifications != nil {
			events = deps.Notifications.Events()
		}
		limit := parseIntParam(r, "limit", 0, 0)
		if limit > 0 && len(events) > limit {
			events = events[len(events)-limit:]
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// messageID parses the {msgID} path parameter, answering 400 when invalid.
func messageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "msgID"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid message id")
		return 0, false
	}
	return id, true
}
