package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/messagelog"
)

func TestConversations_ListAndQueues(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/conversations", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	all := decode[[]ConversationSummary](t, w)
	if len(all) != 3 {
		t.Fatalf("got %d conversations, want 3 seeded", len(all))
	}

	w = f.do(t, "GET", "/conversations?queue=pending", "")
	pending := decode[[]ConversationSummary](t, w)
	if len(pending) != 1 || pending[0].ID != "3" {
		t.Errorf("pending = %+v, want conversation 3", pending)
	}

	if w := f.do(t, "GET", "/conversations?queue=spam", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown queue: status = %d, want 400", w.Code)
	}
}

func TestConversations_CreateAndFallbackReply(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/conversations", `{"counterpart":{"name":"Ada Lovelace","email":"ada@example.com"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}
	c := decode[conversation.Conversation](t, w)
	if c.Status != conversation.StatusAIActive || c.Priority != conversation.PriorityMedium {
		t.Fatalf("conversation = %+v", c)
	}

	w = f.do(t, "POST", "/conversations/"+c.ID+"/messages", `{"text":"What is your refund policy?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("post: status = %d, body = %s", w.Code, w.Body.String())
	}
	ex := decode[conversation.Exchange](t, w)
	if ex.Reply == nil || ex.Reply.Role != messagelog.RoleBot {
		t.Fatalf("exchange = %+v, want bot reply", ex)
	}
	if !strings.HasPrefix(ex.Reply.Text, "Our Q3 2025 refund policy states") {
		t.Errorf("reply = %q, want refund policy excerpt", ex.Reply.Text)
	}
}

func TestConversations_RemoteReplyAndApology(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/models/openrouter/connect", `{"apiKey":"k"}`)

	w := f.do(t, "POST", "/conversations/3/messages", `{"text":"Tell me about pricing"}`)
	ex := decode[conversation.Exchange](t, w)
	if ex.Reply == nil || ex.Reply.Text != "remote answer" {
		t.Fatalf("exchange = %+v, want remote answer", ex)
	}

	f.remote.err = errors.New("upstream down")
	w = f.do(t, "POST", "/conversations/3/messages", `{"text":"Hello?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	ex = decode[conversation.Exchange](t, w)
	if ex.Reply == nil || ex.Reply.Text != conversation.ApologyReply {
		t.Errorf("exchange = %+v, want apology", ex)
	}
}

func TestConversations_TakeoverAgentMessageRelease(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/conversations/1/takeover", "")
	if w.Code != http.StatusOK {
		t.Fatalf("takeover: status = %d, body = %s", w.Code, w.Body.String())
	}
	c := decode[conversation.Conversation](t, w)
	if c.Status != conversation.StatusAgentActive || c.AssignedAgent == nil || c.AssignedAgent.Name != "Sarah Wilson" {
		t.Fatalf("conversation = %+v", c)
	}
	if last, _ := c.LastMessage(); last.Text != "Sarah Wilson took over the conversation" {
		t.Errorf("last message = %q", last.Text)
	}

	if w := f.do(t, "POST", "/conversations/1/takeover", ""); w.Code != http.StatusConflict {
		t.Errorf("second takeover: status = %d, want 409", w.Code)
	}

	w = f.do(t, "POST", "/conversations/1/agent-messages", `{"text":"I've refunded the duplicate charge."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("agent message: status = %d", w.Code)
	}
	if m := decode[messagelog.Message](t, w); m.Role != messagelog.RoleAgent || m.Author != "Sarah Wilson" {
		t.Errorf("agent message = %+v", m)
	}

	w = f.do(t, "POST", "/conversations/1/messages", `{"text":"Thanks!"}`)
	if ex := decode[conversation.Exchange](t, w); ex.Reply != nil {
		t.Errorf("agent-held conversation got a bot reply: %+v", ex.Reply)
	}

	w = f.do(t, "POST", "/conversations/1/release", "")
	if w.Code != http.StatusOK {
		t.Fatalf("release: status = %d", w.Code)
	}
	if c := decode[conversation.Conversation](t, w); c.Status != conversation.StatusAIActive || c.AssignedAgent != nil {
		t.Errorf("released conversation = %+v", c)
	}
	if w := f.do(t, "POST", "/conversations/1/agent-messages", `{"text":"late"}`); w.Code != http.StatusConflict {
		t.Errorf("agent message after release: status = %d, want 409", w.Code)
	}
}

func TestConversations_Assist(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/conversations/2/assist", `{"text":"What are the API rate limits?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	ex := decode[conversation.Exchange](t, w)
	if ex.Posted.Role != messagelog.RoleAssistQuery || ex.Posted.Author != "Sarah Wilson" {
		t.Errorf("posted = %+v", ex.Posted)
	}
	if ex.Reply == nil || ex.Reply.Role != messagelog.RoleBot {
		t.Errorf("reply = %+v, want bot answer", ex.Reply)
	}
}

func TestConversations_EditAndDeleteMessages(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "PATCH", "/conversations/1/messages/1", `{"text":"I was charged three times."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("edit: status = %d, body = %s", w.Code, w.Body.String())
	}
	if m := decode[messagelog.Message](t, w); !m.Edited || m.Text != "I was charged three times." {
		t.Errorf("edited = %+v", m)
	}

	if w := f.do(t, "PATCH", "/conversations/1/messages/99", `{"text":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("edit unknown: status = %d, want 404", w.Code)
	}
	if w := f.do(t, "PATCH", "/conversations/1/messages/abc", `{"text":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("edit bad id: status = %d, want 400", w.Code)
	}

	for i := range 2 {
		if w := f.do(t, "DELETE", "/conversations/1/messages/2", ""); w.Code != http.StatusOK {
			t.Errorf("delete %d: status = %d", i, w.Code)
		}
	}
	c, _ := f.deps.Conversations.Get("1")
	if len(c.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(c.Messages))
	}
}

func TestConversations_ParticipantsTagsPriority(t *testing.T) {
	f := newFixture(t)

	body := `{"actor":"Sarah Wilson","person":{"id":"u-7","name":"Tom Lee"}}`
	w := f.do(t, "POST", "/conversations/1/participants", body)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"added":true`) {
		t.Fatalf("add participant: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, "POST", "/conversations/1/participants", body)
	if !strings.Contains(w.Body.String(), `"added":false`) {
		t.Errorf("duplicate participant: %s", w.Body.String())
	}

	w = f.do(t, "PUT", "/conversations/1/tags", `{"tags":["Resolved"," billing "]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("tags: status = %d", w.Code)
	}
	if c := decode[conversation.Conversation](t, w); c.Queue != conversation.QueueResolved {
		t.Errorf("queue = %q, want resolved", c.Queue)
	}

	if w := f.do(t, "PUT", "/conversations/1/priority", `{"priority":"urgent"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad priority: status = %d, want 400", w.Code)
	}
	w = f.do(t, "PUT", "/conversations/1/priority", `{"priority":"low"}`)
	if c := decode[conversation.Conversation](t, w); c.Priority != conversation.PriorityLow {
		t.Errorf("priority = %q", c.Priority)
	}
}

func TestConversations_NotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/conversations/nope", "/conversations/nope/events"} {
		if w := f.do(t, "GET", path, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want 404", path, w.Code)
		}
	}
}

func TestConversations_EventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/conversations/2/events?access_token="+testToken, nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// Wait for the subscription comment before producing events.
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": subscribed") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	if _, err := f.deps.Conversations.PostAgentMessage("2", "Anything else I can help with?"); err != nil {
		t.Fatalf("PostAgentMessage: %v", err)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, "event: message.appended") {
			data, _ := reader.ReadString('\n')
			if !strings.Contains(data, "Anything else I can help with?") {
				t.Errorf("data = %q", data)
			}
			return
		}
	}
}

func TestConversations_WebSocket(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer " + testToken}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/conversations/2/ws", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if _, err := f.deps.Conversations.PostAgentMessage("2", "Anything else I can help with?"); err != nil {
		t.Fatalf("PostAgentMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev conversation.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading socket: %v", err)
		}
		if ev.Type != conversation.EventMessageAppended {
			continue
		}
		if ev.ConversationID != "2" || ev.Message == nil || ev.Message.Text != "Anything else I can help with?" {
			t.Errorf("event = %+v", ev)
		}
		return
	}
}

func TestConversations_WebSocketUnknownConversation(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer " + testToken}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/conversations/nope/ws", header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %v, want 404", resp)
	}
}
