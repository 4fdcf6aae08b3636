// Package widget backs the embeddable chatbot: one message log per browser
// session, cached in session-scoped storage.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/messagelog"
	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/storage"
)

// Greeting opens every new session.
const Greeting = "Hello! I'm your AI assistant. How can I help you today?"

var (
	// ErrValidation is returned for blank messages, session ids or names.
	ErrValidation = errors.New("invalid widget request")
	// ErrReplyPending is returned when a message is sent before the previous reply arrived.
	ErrReplyPending = errors.New("reply already pending")
)

// Slots defines the storage operations the Widget needs.
// Implemented by storage.Store.
type Slots interface {
	Get(key string) (string, error)
	SetSession(key, value string) error
	Delete(key string) error
}

// Options configures a Widget.
type Options struct {
	Responder     conversation.Responder
	Knowledge     conversation.KnowledgeSource
	Models        conversation.ModelSource
	Notifier      notify.Notifier
	Logger        *slog.Logger
	HistoryWindow int
}

// Widget serves chatbot sessions.
type Widget struct {
	slots     Slots
	responder conversation.Responder
	kb        conversation.KnowledgeSource
	models    conversation.ModelSource
	notifier  notify.Notifier
	logger    *slog.Logger
	window    int

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu           sync.Mutex
	log          *messagelog.Log
	participants []conversation.Person
	pending      bool
}

type stored struct {
	Log          messagelog.Snapshot   `json:"log"`
	Participants []conversation.Person `json:"participants"`
}

// New creates a Widget over slots.
func New(slots Slots, opts Options) *Widget {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = conversation.DefaultHistoryWindow
	}
	return &Widget{
		slots:     slots,
		responder: opts.Responder,
		kb:        opts.Knowledge,
		models:    opts.Models,
		notifier:  opts.Notifier,
		logger:    opts.Logger.With("component", "widget"),
		window:    opts.HistoryWindow,
		sessions:  make(map[string]*session),
	}
}

func key(id string) string {
	return storage.SessionPrefixChatbot + id
}

// open returns the session, loading it from storage or starting it with the greeting.
func (w *Widget) open(id string) (*session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.sessions[id]; ok {
		return s, nil
	}

	s := &session{}
	raw, err := w.slots.Get(key(id))
	switch {
	case err == nil:
		var st stored
		if jerr := json.Unmarshal([]byte(raw), &st); jerr == nil {
			s.log = messagelog.Restore(st.Log)
			s.participants = st.Participants
		} else {
			w.logger.Warn("discarding unreadable widget session", "session", id, "error", jerr)
		}
	case !errors.Is(err, storage.ErrNotFound):
		w.logger.Warn("reading widget session", "session", id, "error", err)
	}
	if s.log == nil {
		s.log = messagelog.New()
		s.log.Append(messagelog.RoleBot, "", Greeting)
	}
	w.sessions[id] = s
	return s, nil
}

// save persists the session. Caller must hold s.mu.
func (w *Widget) save(id string, s *session) error {
	data, err := json.Marshal(stored{Log: s.log.Snapshot(), Participants: s.participants})
	if err != nil {
		return fmt.Errorf("encoding widget session: %w", err)
	}
	if err := w.slots.SetSession(key(id), string(data)); err != nil {
		w.logger.Error("saving widget session", "session", id, "error", err)
		return fmt.Errorf("saving widget session: %w", err)
	}
	return nil
}

// Messages returns the session's messages.
func (w *Widget) Messages(id string) ([]messagelog.Message, error) {
	s, err := w.open(id)
	if err != nil {
		return nil, err
	}
	return s.log.Messages(), nil
}

// IsTyping reports whether a reply is being generated for the session.
func (w *Widget) IsTyping(id string) (bool, error) {
	s, err := w.open(id)
	if err != nil {
		return false, err
	}
	return s.log.IsTyping(), nil
}

// Participants returns the people invited into the session.
func (w *Widget) Participants(id string) ([]conversation.Person, error) {
	s, err := w.open(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants), nil
}

// Send appends the visitor's message and the assistant's reply. A remote
// failure is answered with the apology text and reported to the notifier.
func (w *Widget) Send(ctx context.Context, id, text string) (conversation.Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Exchange{}, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	s, err := w.open(id)
	if err != nil {
		return conversation.Exchange{}, err
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return conversation.Exchange{}, ErrReplyPending
	}
	posted := s.log.Append(messagelog.RoleUser, "", text)
	history := s.log.Tail(w.window)
	s.pending = true
	s.log.SetTyping(true)
	saveErr := w.save(id, s)
	s.mu.Unlock()
	if saveErr != nil {
		w.logger.Warn("continuing with unsaved widget message", "session", id)
	}

	defer func() {
		s.mu.Lock()
		s.pending = false
		s.log.SetTyping(false)
		s.mu.Unlock()
	}()

	reply, err := w.generate(context.WithoutCancel(ctx), text, history)
	if err != nil {
		w.logger.Warn("widget reply failed", "session", id, "error", err)
		reply = conversation.ApologyReply
		w.notifier.Notify(notify.Error("Error", "Could not get a response from the AI. Please check your connection."))
	}

	s.mu.Lock()
	bot := s.log.Append(messagelog.RoleBot, "", reply)
	saveErr = w.save(id, s)
	s.mu.Unlock()
	return conversation.Exchange{Posted: posted, Reply: &bot}, saveErr
}

func (w *Widget) generate(ctx context.Context, text string, history []messagelog.Message) (reply string, err error) {
	if w.responder == nil {
		return "", errors.New("no responder configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()
	return w.responder.GenerateReply(ctx, text, conversation.DocumentsOf(w.kb), conversation.ActiveOf(w.models), conversation.ToTurns(history))
}

// Edit changes the text of a visitor or bot message.
func (w *Widget) Edit(id string, msgID int64, text string) (messagelog.Message, error) {
	s, err := w.open(id)
	if err != nil {
		return messagelog.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.log.Edit(msgID, text)
	if err != nil {
		return messagelog.Message{}, err
	}
	w.notifier.Notify(notify.Success("Message Edited", "Your message has been updated."))
	return m, w.save(id, s)
}

// Delete removes a visitor or bot message. Absent ids and other roles are
// left alone.
func (w *Widget) Delete(id string, msgID int64) error {
	s, err := w.open(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.log.Delete(msgID) {
		return nil
	}
	w.notifier.Notify(notify.Info("Message Deleted", "The message has been removed."))
	return w.save(id, s)
}

// AddParticipant invites person on behalf of actor. It returns false when
// person is already in the session.
func (w *Widget) AddParticipant(id, actor string, person conversation.Person) (bool, error) {
	person.Name = strings.TrimSpace(person.Name)
	actor = strings.TrimSpace(actor)
	if person.Name == "" || actor == "" {
		return false, fmt.Errorf("%w: actor and participant names are required", ErrValidation)
	}
	s, err := w.open(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.participants, person.Same) {
		w.notifier.Notify(notify.Error("User already in chat", person.Name+" is already part of this conversation."))
		return false, nil
	}
	s.participants = append(s.participants, person)
	s.log.Append(messagelog.RoleSystem, "", fmt.Sprintf("%s added %s to the chat.", actor, person.Name))
	w.notifier.Notify(notify.Success("User Added", person.Name+" has been invited to the chat."))
	return true, w.save(id, s)
}

// Reset forgets the session; the next access starts over with the greeting.
func (w *Widget) Reset(id string) error {
	w.mu.Lock()
	delete(w.sessions, id)
	w.mu.Unlock()
	return w.slots.Delete(key(id))
}
