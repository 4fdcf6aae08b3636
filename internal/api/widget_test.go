package api

import (
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/messagelog"
	"github.com/kalambet/helpdesk/internal/widget"
)

func TestWidget_GreetingSendAndReset(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/widget/s1/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	state := decode[WidgetState](t, w)
	if len(state.Messages) != 1 || state.Messages[0].Text != widget.Greeting || state.IsTyping {
		t.Fatalf("state = %+v, want greeting only", state)
	}

	w = f.do(t, "POST", "/widget/s1/messages", `{"text":"How do I reset my password?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("send: status = %d, body = %s", w.Code, w.Body.String())
	}
	ex := decode[conversation.Exchange](t, w)
	if ex.Posted.Role != messagelog.RoleUser || ex.Reply == nil || ex.Reply.Role != messagelog.RoleBot {
		t.Fatalf("exchange = %+v", ex)
	}

	if w := f.do(t, "POST", "/widget/s1/messages", `{"text":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("blank message: status = %d, want 400", w.Code)
	}

	if w := f.do(t, "DELETE", "/widget/s1", ""); w.Code != http.StatusOK {
		t.Fatalf("reset: status = %d", w.Code)
	}
	state = decode[WidgetState](t, f.do(t, "GET", "/widget/s1/messages", ""))
	if len(state.Messages) != 1 {
		t.Errorf("after reset got %d messages, want greeting only", len(state.Messages))
	}
}

func TestWidget_EditDeleteParticipants(t *testing.T) {
	f := newFixture(t)
	ex := decode[conversation.Exchange](t, f.do(t, "POST", "/widget/s2/messages", `{"text":"hi"}`))

	w := f.do(t, "PATCH", "/widget/s2/messages/"+itoa(ex.Posted.ID), `{"text":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("edit: status = %d, body = %s", w.Code, w.Body.String())
	}
	if m := decode[messagelog.Message](t, w); !m.Edited {
		t.Errorf("edited message = %+v", m)
	}

	for i := range 2 {
		if w := f.do(t, "DELETE", "/widget/s2/messages/"+itoa(ex.Posted.ID), ""); w.Code != http.StatusOK {
			t.Errorf("delete %d: status = %d", i, w.Code)
		}
	}

	w = f.do(t, "POST", "/widget/s2/participants", `{"actor":"Visitor","person":{"name":"Tom Lee"}}`)
	if !strings.Contains(w.Body.String(), `"added":true`) {
		t.Errorf("add participant: %s", w.Body.String())
	}
	if w := f.do(t, "POST", "/widget/s2/participants", `{"person":{"name":"Tom Lee"}}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing actor: status = %d, want 400", w.Code)
	}

	state := decode[WidgetState](t, f.do(t, "GET", "/widget/s2/messages", ""))
	if len(state.Participants) != 1 || state.Participants[0].Name != "Tom Lee" {
		t.Errorf("participants = %+v", state.Participants)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
