package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/messagelog"
)

// WidgetState is the chatbot view of one session.
type WidgetState struct {
	Messages     []messagelog.Message  `json:"messages"`
	IsTyping     bool                  `json:"isTyping"`
	Participants []conversation.Person `json:"participants"`
}

func handleWidgetMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := chi.URLParam(r, "session")
		msgs, err := deps.Widget.Messages(session)
		if err != nil {
			domainError(w, err)
			return
		}
		typing, err := deps.Widget.IsTyping(session)
		if err != nil {
			domainError(w, err)
			return
		}
		people, err := deps.Widget.Participants(session)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, WidgetState{Messages: msgs, IsTyping: typing, Participants: people})
	}
}

func handleWidgetSend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ex, err := deps.Widget.Send(r.Context(), chi.URLParam(r, "session"), req.Text)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ex)
	}
}

func handleWidgetEdit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgID, ok := messageID(w, r)
		if !ok {
			return
		}
		var req textRequest
		if !decodeBody(w, r, &req) {
			return
		}
		m, err := deps.Widget.Edit(chi.URLParam(r, "session"), msgID, req.Text)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleWidgetDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgID, ok := messageID(w, r)
		if !ok {
			return
		}
		if err := deps.Widget.Delete(chi.URLParam(r, "session"), msgID); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleWidgetAddParticipant(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ParticipantRequest
		if !decodeBody(w, r, &req) {
			return
		}
		added, err := deps.Widget.AddParticipant(chi.URLParam(r, "session"), req.Actor, req.Person)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"added": added})
	}
}

func handleWidgetReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Widget.Reset(chi.URLParam(r, "session")); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}
