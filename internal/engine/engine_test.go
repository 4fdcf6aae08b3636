package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/proxy"
	"github.com/kalambet/helpdesk/internal/registry"
)

var refundPolicy = knowledge.Document{
	ID:      "2",
	Title:   "Refund Policy Q3 2025",
	Source:  knowledge.SourceUploadedFile,
	Content: "Our Q3 2025 refund policy states that customers can request a full refund within 14 days of purchase. After 14 days, a partial refund may be issued on a case-by-case basis. All refund requests should be submitted through our support portal.",
}

// fakeCompleter records the prompt it was given and returns a canned result.
type fakeCompleter struct {
	reply  string
	err    error
	model  string
	prompt string
	key    string
}

func (f *fakeCompleter) Complete(_ context.Context, model, prompt string) (string, error) {
	f.model, f.prompt = model, prompt
	return f.reply, f.err
}

func newTestEngine(fc *fakeCompleter) *Engine {
	return New(Options{
		Dial: func(apiKey string) Completer {
			fc.key = apiKey
			return fc
		},
		FallbackDelay: -1,
	})
}

func connected(id, model, key string) *registry.Integration {
	return &registry.Integration{ID: id, Model: model, IsConnected: true, APIKey: &key}
}

// Only the refund document, no model: reply is its first two sentences.
func TestFallback_RefundPolicy(t *testing.T) {
	e := newTestEngine(&fakeCompleter{})

	got, err := e.GenerateReply(context.Background(), "what is your refund policy", []knowledge.Document{refundPolicy}, nil, nil)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	want := "Our Q3 2025 refund policy states that customers can request a full refund within 14 days of purchase. After 14 days, a partial refund may be issued on a case-by-case basis"
	if got != want {
		t.Errorf("reply = %q\nwant  %q", got, want)
	}
}

// No documents, no model: the default reply.
func TestFallback_EmptyKnowledge(t *testing.T) {
	e := newTestEngine(&fakeCompleter{})

	got, err := e.GenerateReply(context.Background(), "hello", nil, nil, nil)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if got != DefaultReply {
		t.Errorf("reply = %q, want default", got)
	}
}

func TestFallback_DisconnectedModelUsesKnowledge(t *testing.T) {
	fc := &fakeCompleter{reply: "remote"}
	e := newTestEngine(fc)
	model := &registry.Integration{ID: "gemini", Model: "google/gemini-pro"}

	r, err := e.Generate(context.Background(), Request{Message: "refund", Knowledge: []knowledge.Document{refundPolicy}, Model: model})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if r.Path != PathFallback {
		t.Errorf("path = %q, want fallback", r.Path)
	}
	if r.Match == nil || r.Match.ID != "2" {
		t.Errorf("match = %+v, want refund document", r.Match)
	}
	if fc.prompt != "" {
		t.Error("remote completer called for a disconnected integration")
	}
}

func TestFallback_WaitsForDelay(t *testing.T) {
	e := New(Options{FallbackDelay: 30 * time.Millisecond})

	start := time.Now()
	e.GenerateReply(context.Background(), "hello", nil, nil, nil)
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("fallback returned after %v, want at least 30ms", elapsed)
	}
}

func TestFallback_CancelledContextEndsDelay(t *testing.T) {
	e := New(Options{FallbackDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan string, 1)
	go func() {
		reply, _ := e.GenerateReply(ctx, "hello", nil, nil, nil)
		done <- reply
	}()

	select {
	case reply := <-done:
		if reply != DefaultReply {
			t.Errorf("reply = %q, want default", reply)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fallback ignored cancelled context")
	}
}

func TestRemote_BuildsPromptAndTrims(t *testing.T) {
	fc := &fakeCompleter{reply: "Refunds are available within 14 days."}
	e := newTestEngine(fc)
	history := []Turn{{Role: "user", Text: "hi"}, {Role: "bot", Text: "hello"}}

	got, err := e.GenerateReply(context.Background(), "refund?", []knowledge.Document{refundPolicy}, connected("openrouter", "openai/gpt-3.5-turbo", "sk-1"), history)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if got != "Refunds are available within 14 days." {
		t.Errorf("reply = %q", got)
	}
	if fc.key != "sk-1" || fc.model != "openai/gpt-3.5-turbo" {
		t.Errorf("dialed key=%q model=%q", fc.key, fc.model)
	}
	for _, want := range []string{"Document Title: Refund Policy Q3 2025", "User: hi\nAssistant: hello", `**User's Question:** "refund?"`} {
		if !strings.Contains(fc.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRemote_EmptyReplyFallsBackToDefault(t *testing.T) {
	e := newTestEngine(&fakeCompleter{reply: ""})

	got, err := e.GenerateReply(context.Background(), "q", nil, connected("x", "m", "k"), nil)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if got != DefaultReply {
		t.Errorf("reply = %q, want default", got)
	}
}

func TestRemote_FailureWrapsSentinel(t *testing.T) {
	cause := errors.New("connection refused")
	e := newTestEngine(&fakeCompleter{err: cause})

	_, err := e.GenerateReply(context.Background(), "q", nil, connected("x", "m", "k"), nil)
	if !errors.Is(err, ErrRemoteCallFailed) {
		t.Fatalf("err = %v, want ErrRemoteCallFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want it to wrap the transport error", err)
	}
}

// End to end through the HTTP client against a fake chat-completion server.
func TestRemote_ThroughProxy(t *testing.T) {
	var gotAuth string
	var body proxy.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"choices":[{"message":{"content":" Two weeks. "}}]}`)
	}))
	defer srv.Close()

	e := New(Options{Dial: ProxyDialer(srv.URL, time.Second), FallbackDelay: -1})
	got, err := e.GenerateReply(context.Background(), "refund window?", nil, connected("openrouter", "openai/gpt-4", "sk-or"), nil)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if got != "Two weeks." {
		t.Errorf("reply = %q", got)
	}
	if gotAuth != "Bearer sk-or" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if body.Model != "openai/gpt-4" || len(body.Messages) != 1 || body.Messages[0].Role != "user" {
		t.Errorf("request = %+v", body)
	}
}

func TestRemote_ServerErrorThroughProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := New(Options{Dial: ProxyDialer(srv.URL, time.Second), FallbackDelay: -1})
	_, err := e.GenerateReply(context.Background(), "q", nil, connected("openrouter", "m", "k"), nil)
	if !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("err = %v, want ErrRemoteCallFailed", err)
	}
}
