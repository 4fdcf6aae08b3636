package widget

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/engine"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/messagelog"
	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/registry"
	"github.com/kalambet/helpdesk/internal/storage"
)

type stubResponder struct {
	reply   string
	err     error
	history []engine.Turn
}

func (s *stubResponder) GenerateReply(_ context.Context, _ string, _ []knowledge.Document, _ *registry.Integration, history []engine.Turn) (string, error) {
	s.history = history
	return s.reply, s.err
}

// ctxResponder fails the way a remote call does once its context is done.
type ctxResponder struct{ reply string }

func (c ctxResponder) GenerateReply(ctx context.Context, _ string, _ []knowledge.Document, _ *registry.Integration, _ []engine.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.reply, nil
}

func openSlots(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSessionStartsWithGreeting(t *testing.T) {
	w := New(openSlots(t), Options{Responder: &stubResponder{}})

	msgs, err := w.Messages("tab-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, messagelog.RoleBot, msgs[0].Role)
	assert.Equal(t, Greeting, msgs[0].Text)

	_, err = w.Messages("  ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendAppendsReplyAndPersists(t *testing.T) {
	slots := openSlots(t)
	r := &stubResponder{reply: "You can reset your password."}
	w := New(slots, Options{Responder: r})

	ex, err := w.Send(context.Background(), "tab-1", "I can't log in")
	require.NoError(t, err)
	require.NotNil(t, ex.Reply)
	assert.Equal(t, "You can reset your password.", ex.Reply.Text)
	require.Len(t, r.history, 2, "greeting plus the new message")

	typing, _ := w.IsTyping("tab-1")
	assert.False(t, typing)

	// A fresh widget over the same storage sees the cached session.
	again := New(slots, Options{})
	msgs, err := again.Messages("tab-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestSendRemoteFailureApologizes(t *testing.T) {
	ring := notify.NewRing(5)
	w := New(openSlots(t), Options{Responder: &stubResponder{err: errors.New("dial tcp: refused")}, Notifier: ring})

	ex, err := w.Send(context.Background(), "tab-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, conversation.ApologyReply, ex.Reply.Text)
	require.Len(t, ring.Events(), 1)
	assert.Equal(t, notify.LevelError, ring.Events()[0].Level)
}

func TestSendSurvivesCallerCancel(t *testing.T) {
	ring := notify.NewRing(5)
	w := New(openSlots(t), Options{Responder: ctxResponder{reply: "Try the reset link."}, Notifier: ring})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex, err := w.Send(ctx, "tab-1", "I can't log in")
	require.NoError(t, err)
	assert.Equal(t, "Try the reset link.", ex.Reply.Text)
	assert.Empty(t, ring.Events())
}

func TestSessionsArePurgedOnRestart(t *testing.T) {
	slots := openSlots(t)
	w := New(slots, Options{Responder: &stubResponder{reply: "hi"}})
	_, err := w.Send(context.Background(), "tab-1", "hello")
	require.NoError(t, err)

	_, err = slots.PurgeSession()
	require.NoError(t, err)

	msgs, err := New(slots, Options{}).Messages("tab-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "only the greeting after purge")
}

func TestEditAndDelete(t *testing.T) {
	w := New(openSlots(t), Options{Responder: &stubResponder{reply: "hi"}})
	ex, _ := w.Send(context.Background(), "s", "helo")

	m, err := w.Edit("s", ex.Posted.ID, "hello")
	require.NoError(t, err)
	assert.True(t, m.Edited)

	require.NoError(t, w.Delete("s", ex.Reply.ID))
	require.NoError(t, w.Delete("s", ex.Reply.ID))
	msgs, _ := w.Messages("s")
	assert.Len(t, msgs, 2)
}

func TestAddParticipant(t *testing.T) {
	w := New(openSlots(t), Options{})
	emily := conversation.Person{ID: "3", Name: "Emily Chen"}

	added, err := w.AddParticipant("s", "John Davis", emily)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = w.AddParticipant("s", "John Davis", emily)
	require.NoError(t, err)
	assert.False(t, added)

	msgs, _ := w.Messages("s")
	last := msgs[len(msgs)-1]
	assert.Equal(t, messagelog.RoleSystem, last.Role)
	assert.Equal(t, "John Davis added Emily Chen to the chat.", last.Text)

	people, _ := w.Participants("s")
	assert.Len(t, people, 1)

	require.NoError(t, w.Delete("s", last.ID))
	after, _ := w.Messages("s")
	assert.Equal(t, msgs, after, "system notes stay put")
}

func TestReset(t *testing.T) {
	w := New(openSlots(t), Options{Responder: &stubResponder{reply: "hi"}})
	w.Send(context.Background(), "s", "hello")

	require.NoError(t, w.Reset("s"))
	msgs, _ := w.Messages("s")
	assert.Len(t, msgs, 1)
}
