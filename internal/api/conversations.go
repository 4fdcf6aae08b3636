package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/helpdesk/internal/conversation"
)

type textRequest struct {
	Text string `json:"text"`
}

// ParticipantRequest is the body of the participants endpoints.
type ParticipantRequest struct {
	Actor  string              `json:"actor"`
	Person conversation.Person `json:"person"`
}

// ConversationSummary is the list view of a conversation.
type ConversationSummary struct {
	ID            string                `json:"id"`
	Counterpart   conversation.Person   `json:"counterpart"`
	Status        conversation.Status   `json:"status"`
	AssignedAgent *conversation.Person  `json:"assignedAgent"`
	Priority      conversation.Priority `json:"priority"`
	Tags          []string              `json:"tags"`
	Queue         conversation.Queue    `json:"queue"`
	LastMessage   string                `json:"lastMessage"`
	Messages      int                   `json:"messages"`
	UpdatedAt     string                `json:"updatedAt"`
}

func summarize(c conversation.Conversation) ConversationSummary {
	s := ConversationSummary{
		ID:            c.ID,
		Counterpart:   c.Counterpart,
		Status:        c.Status,
		AssignedAgent: c.AssignedAgent,
		Priority:      c.Priority,
		Tags:          c.Tags,
		Queue:         c.Queue,
		Messages:      len(c.Messages),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
	if m, ok := c.LastMessage(); ok {
		s.LastMessage = m.Text
	}
	return s
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs := deps.Conversations.List()
		if raw := r.URL.Query().Get("queue"); raw != "" {
			q, ok := conversation.ParseQueue(raw)
			if !ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown queue %q", raw)
				return
			}
			convs = deps.Conversations.ListQueue(q)
		}
		out := make([]ConversationSummary, len(convs))
		for i, c := range convs {
			out[i] = summarize(c)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Counterpart conversation.Person   `json:"counterpart"`
			Priority    conversation.Priority `json:"priority"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Priority == "" {
			req.Priority = conversation.PriorityMedium
		}
		c, err := deps.Conversations.Create(req.Counterpart, req.Priority)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Conversations.Get(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handlePostUserMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ex, err := deps.Conversations.PostUserMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ex)
	}
}

func handlePostAgentMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if !decodeBody(w, r, &req) {
			return
		}
		m, err := deps.Conversations.PostAgentMessage(chi.URLParam(r, "id"), req.Text)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleAssist(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text      string `json:"text"`
			AgentName string `json:"agentName"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		name := strings.TrimSpace(req.AgentName)
		if name == "" {
			name = deps.AgentName
		}
		ex, err := deps.Conversations.AskAssist(r.Context(), chi.URLParam(r, "id"), name, req.Text)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ex)
	}
}

func handleEditConversationMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgID, ok := messageID(w, r)
		if !ok {
			return
		}
		var req textRequest
		if !decodeBody(w, r, &req) {
			return
		}
		m, err := deps.Conversations.EditMessage(chi.URLParam(r, "id"), msgID, req.Text)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleDeleteConversationMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgID, ok := messageID(w, r)
		if !ok {
			return
		}
		if err := deps.Conversations.DeleteMessage(chi.URLParam(r, "id"), msgID); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleTakeover(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Agent conversation.Person `json:"agent"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Agent.Name) == "" {
			req.Agent.Name = deps.AgentName
		}
		c, err := deps.Conversations.Takeover(chi.URLParam(r, "id"), req.Agent)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleRelease(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Conversations.Release(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleAddConversationParticipant(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ParticipantRequest
		if !decodeBody(w, r, &req) {
			return
		}
		added, err := deps.Conversations.AddParticipant(chi.URLParam(r, "id"), req.Actor, req.Person)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"added": added})
	}
}

func handleSetTags(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tags []string `json:"tags"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := deps.Conversations.SetTags(chi.URLParam(r, "id"), req.Tags...)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleSetPriority(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Priority conversation.Priority `json:"priority"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := deps.Conversations.SetPriority(chi.URLParam(r, "id"), req.Priority)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// handleConversationEvents streams conversation events as server-sent events
// until the client goes away.
func handleConversationEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}
		id := chi.URLParam(r, "id")
		events, err := deps.Conversations.Subscribe(r.Context(), id)
		if err != nil {
			domainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": subscribed\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					deps.Logger.Warn("failed to marshal event", "conversation", id, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
				flusher.Flush()
			}
		}
	}
}

const socketWriteTimeout = 10 * time.Second

// Any origin may connect; the bearer token gates access.
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// handleConversationSocket streams the same events as the SSE endpoint as
// JSON text frames. Frames sent by the client are read and discarded.
func handleConversationSocket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		events, err := deps.Conversations.Subscribe(ctx, id)
		if err != nil {
			domainError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.Warn("websocket upgrade failed", "conversation", id, "error", err)
			return
		}
		defer conn.Close()

		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					deps.Logger.Debug("websocket write failed", "conversation", id, "error", err)
					return
				}
			}
		}
	}
}
