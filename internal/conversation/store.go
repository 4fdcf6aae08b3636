// Package conversation owns customer conversations: their message logs, the
// hand-off between the automated responder and human agents, and the events
// consumers subscribe to.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/helpdesk/internal/engine"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/messagelog"
	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/registry"
)

const (
	// ApologyReply is appended when the remote model cannot be reached.
	ApologyReply = "Sorry, I'm having trouble connecting. Please try again later."
	// AssistErrorReply is appended when an agent-assist query fails.
	AssistErrorReply = "Sorry, I encountered an error."

	// DefaultHistoryWindow is how many trailing messages, including the new
	// one, are sent to the engine with a customer message.
	DefaultHistoryWindow = 5

	systemActor = "System"
)

// Responder generates replies. Implemented by engine.Engine.
type Responder interface {
	GenerateReply(ctx context.Context, message string, docs []knowledge.Document, model *registry.Integration, history []engine.Turn) (string, error)
}

// KnowledgeSource supplies the documents replies are grounded on.
// Implemented by knowledge.Store.
type KnowledgeSource interface {
	List() []knowledge.Document
}

// ModelSource supplies the active integration. Implemented by registry.Registry.
type ModelSource interface {
	Active() *registry.Integration
}

// Options configures a Store.
type Options struct {
	Responder     Responder
	Knowledge     KnowledgeSource
	Models        ModelSource
	Notifier      notify.Notifier
	Logger        *slog.Logger
	HistoryWindow int
	Now           func() time.Time
}

// Store holds every conversation in memory. Each conversation has its own
// lock; no operation holds two of them.
type Store struct {
	responder Responder
	kb        KnowledgeSource
	models    ModelSource
	notifier  notify.Notifier
	logger    *slog.Logger
	events    *Broadcaster
	window    int
	now       func() time.Time

	mu    sync.RWMutex
	convs map[string]*entry
	order []string
}

type entry struct {
	mu           sync.Mutex
	id           string
	counterpart  Person
	status       Status
	agent        *Person
	priority     Priority
	tags         []string
	participants []Person
	log          *messagelog.Log
	pending      bool
	createdAt    time.Time
	updatedAt    time.Time
}

// New creates an empty Store.
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With("component", "conversation")
	return &Store{
		responder: opts.Responder,
		kb:        opts.Knowledge,
		models:    opts.Models,
		notifier:  opts.Notifier,
		logger:    logger,
		events:    NewBroadcaster(opts.Logger),
		window:    opts.HistoryWindow,
		now:       opts.Now,
		convs:     make(map[string]*entry),
	}
}

// Close ends every subscription.
func (s *Store) Close() {
	s.events.Close()
}

// Create starts a new ai-active conversation with counterpart.
func (s *Store) Create(counterpart Person, priority Priority) (Conversation, error) {
	return s.create(uuid.New().String(), counterpart, priority)
}

func (s *Store) create(id string, counterpart Person, priority Priority) (Conversation, error) {
	counterpart.Name = strings.TrimSpace(counterpart.Name)
	if counterpart.Name == "" {
		return Conversation{}, fmt.Errorf("%w: counterpart name is required", ErrValidation)
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return Conversation{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, priority)
	}
	now := s.now().UTC()
	e := &entry{
		id:          id,
		counterpart: counterpart,
		status:      StatusAIActive,
		priority:    priority,
		log:         messagelog.NewWithClock(s.now),
		createdAt:   now,
		updatedAt:   now,
	}

	s.mu.Lock()
	if _, exists := s.convs[id]; exists {
		s.mu.Unlock()
		return Conversation{}, fmt.Errorf("%w: duplicate id %s", ErrValidation, id)
	}
	s.convs[id] = e
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.logger.Info("conversation created", "id", id, "counterpart", counterpart.Name, "priority", priority)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// List returns every conversation, oldest first.
func (s *Store) List() []Conversation {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.convs[id])
	}
	s.mu.RUnlock()

	out := make([]Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshot())
		e.mu.Unlock()
	}
	return out
}

// ListQueue returns the conversations currently classified into q.
func (s *Store) ListQueue(q Queue) []Conversation {
	var out []Conversation
	for _, c := range s.List() {
		if c.Queue == q {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the conversation with id.
func (s *Store) Get(id string) (Conversation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Conversation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// Subscribe streams change events for id until ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context, id string) (<-chan Event, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	ch, _ := s.events.Subscribe(ctx, id)
	return ch, nil
}

// Takeover hands an ai-active conversation to agent.
func (s *Store) Takeover(id string, agent Person) (Conversation, error) {
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.Name == "" {
		return Conversation{}, fmt.Errorf("%w: agent name is required", ErrValidation)
	}
	e, err := s.lookup(id)
	if err != nil {
		return Conversation{}, err
	}

	e.mu.Lock()
	if e.status != StatusAIActive {
		e.mu.Unlock()
		return Conversation{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, e.status)
	}
	e.status = StatusAgentActive
	e.agent = &agent
	msg := e.log.Append(messagelog.RoleSystem, "", agent.Name+" took over the conversation")
	e.touch(s.now())
	conv := e.snapshot()
	e.mu.Unlock()

	s.logger.Info("conversation taken over", "id", id, "agent", agent.Name)
	s.publish(Event{Type: EventStatusChanged, ConversationID: id, Status: StatusAgentActive})
	s.publishMessage(EventMessageAppended, id, msg)
	return conv, nil
}

// Release hands an agent-active conversation back to the automated responder.
func (s *Store) Release(id string) (Conversation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Conversation{}, err
	}

	e.mu.Lock()
	if e.status != StatusAgentActive {
		e.mu.Unlock()
		return Conversation{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, e.status)
	}
	name := systemActor
	if e.agent != nil {
		name = e.agent.Name
	}
	e.status = StatusAIActive
	e.agent = nil
	msg := e.log.Append(messagelog.RoleSystem, "", name+" released the conversation to the AI assistant")
	e.touch(s.now())
	conv := e.snapshot()
	e.mu.Unlock()

	s.logger.Info("conversation released", "id", id, "agent", name)
	s.publish(Event{Type: EventStatusChanged, ConversationID: id, Status: StatusAIActive})
	s.publishMessage(EventMessageAppended, id, msg)
	return conv, nil
}

// PostUserMessage appends a customer message. While the conversation is
// ai-active it then generates the bot reply from the last HistoryWindow
// messages; a remote failure is answered with ApologyReply and reported
// through the notifier rather than returned. While an agent holds the
// conversation no automated reply is produced.
func (s *Store) PostUserMessage(ctx context.Context, id, text string) (Exchange, error) {
	return s.ask(ctx, id, messagelog.RoleUser, "", text)
}

// AskAssist records an agent's question to the assistant and appends the
// assistant's answer, using the whole conversation as history.
func (s *Store) AskAssist(ctx context.Context, id, agentName, text string) (Exchange, error) {
	return s.ask(ctx, id, messagelog.RoleAssistQuery, agentName, text)
}

func (s *Store) ask(ctx context.Context, id string, role messagelog.Role, author, text string) (Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return Exchange{}, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	e, err := s.lookup(id)
	if err != nil {
		return Exchange{}, err
	}

	e.mu.Lock()
	if e.pending {
		e.mu.Unlock()
		return Exchange{}, ErrReplyPending
	}
	posted := e.log.Append(role, author, text)
	e.touch(s.now())
	if role == messagelog.RoleUser && e.status == StatusAgentActive {
		e.mu.Unlock()
		s.publishMessage(EventMessageAppended, id, posted)
		return Exchange{Posted: posted}, nil
	}
	window := s.window
	if role == messagelog.RoleAssistQuery {
		window = 0
	}
	history := ToTurns(e.log.Tail(window))
	e.pending = true
	e.log.SetTyping(true)
	e.mu.Unlock()

	s.publishMessage(EventMessageAppended, id, posted)
	s.publish(Event{Type: EventTyping, ConversationID: id, Typing: true})

	defer func() {
		e.mu.Lock()
		e.pending = false
		e.log.SetTyping(false)
		e.mu.Unlock()
		s.publish(Event{Type: EventTyping, ConversationID: id, Typing: false})
	}()

	// The reply outlives the caller; the responder's own timeout bounds it.
	replyText, err := s.generate(context.WithoutCancel(ctx), text, history)
	if err != nil {
		s.logger.Warn("reply generation failed", "id", id, "role", role, "error", err)
		replyText = ApologyReply
		desc := "Could not get a response from the AI. Please check your connection."
		if role == messagelog.RoleAssistQuery {
			replyText = AssistErrorReply
			desc = "Could not get a response from the AI. Please check your connection and API keys."
		}
		s.notifier.Notify(notify.Error("Error", desc))
	}

	e.mu.Lock()
	reply := e.log.Append(messagelog.RoleBot, "", replyText)
	e.touch(s.now())
	e.mu.Unlock()

	s.publishMessage(EventMessageAppended, id, reply)
	return Exchange{Posted: posted, Reply: &reply}, nil
}

// generate calls the responder. A panic in the responder is reported as an
// error so the conversation still receives a reply and its typing flag clears.
func (s *Store) generate(ctx context.Context, text string, history []engine.Turn) (reply string, err error) {
	if s.responder == nil {
		return "", errors.New("no responder configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()
	return s.responder.GenerateReply(ctx, text, DocumentsOf(s.kb), ActiveOf(s.models), history)
}

// DocumentsOf lists src, tolerating a nil source.
func DocumentsOf(src KnowledgeSource) []knowledge.Document {
	if src == nil {
		return nil
	}
	return src.List()
}

// ActiveOf returns the active integration of src, tolerating a nil source.
func ActiveOf(src ModelSource) *registry.Integration {
	if src == nil {
		return nil
	}
	return src.Active()
}

// PostAgentMessage appends a reply from the agent holding the conversation.
func (s *Store) PostAgentMessage(id, text string) (messagelog.Message, error) {
	if strings.TrimSpace(text) == "" {
		return messagelog.Message{}, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	e, err := s.lookup(id)
	if err != nil {
		return messagelog.Message{}, err
	}

	e.mu.Lock()
	if e.status != StatusAgentActive || e.agent == nil {
		e.mu.Unlock()
		return messagelog.Message{}, fmt.Errorf("%w: no agent holds %s", ErrInvalidTransition, id)
	}
	msg := e.log.Append(messagelog.RoleAgent, e.agent.Name, text)
	e.touch(s.now())
	e.mu.Unlock()

	s.publishMessage(EventMessageAppended, id, msg)
	return msg, nil
}

// EditMessage replaces the text of a customer or bot message. Other roles and
// unknown ids yield messagelog.ErrNotFound.
func (s *Store) EditMessage(id string, msgID int64, text string) (messagelog.Message, error) {
	e, err := s.lookup(id)
	if err != nil {
		return messagelog.Message{}, err
	}

	e.mu.Lock()
	msg, err := e.log.Edit(msgID, text)
	if err == nil {
		e.touch(s.now())
	}
	e.mu.Unlock()
	if err != nil {
		return messagelog.Message{}, err
	}

	s.notifier.Notify(notify.Success("Message Edited", "Your message has been updated."))
	s.publishMessage(EventMessageEdited, id, msg)
	return msg, nil
}

// DeleteMessage removes a user or bot message. Absent ids and other roles
// are a no-op.
func (s *Store) DeleteMessage(id string, msgID int64) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	removed := e.log.Delete(msgID)
	if removed {
		e.touch(s.now())
	}
	e.mu.Unlock()

	if removed {
		s.notifier.Notify(notify.Info("Message Deleted", "The message has been removed."))
		s.publish(Event{Type: EventMessageDeleted, ConversationID: id, MessageID: msgID})
	}
	return nil
}

// AddParticipant invites person into the conversation and announces it with
// a system message. It returns false, changing nothing, when person is
// already a participant. actor names who added them; empty means the
// assigned agent, or "System" when the assistant holds the conversation.
func (s *Store) AddParticipant(id, actor string, person Person) (bool, error) {
	person.Name = strings.TrimSpace(person.Name)
	if person.Name == "" {
		return false, fmt.Errorf("%w: participant name is required", ErrValidation)
	}
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if slices.ContainsFunc(e.participants, person.Same) {
		e.mu.Unlock()
		s.notifier.Notify(notify.Error("User already in chat", person.Name+" is already part of this conversation."))
		return false, nil
	}
	if actor == "" {
		actor = systemActor
		if e.agent != nil {
			actor = e.agent.Name
		}
	}
	e.participants = append(e.participants, person)
	msg := e.log.Append(messagelog.RoleSystem, "", fmt.Sprintf("%s added %s to the chat.", actor, person.Name))
	e.touch(s.now())
	e.mu.Unlock()

	s.notifier.Notify(notify.Success("User Added", person.Name+" has been invited to the chat."))
	s.publishMessage(EventMessageAppended, id, msg)
	return true, nil
}

// SetTags replaces the workflow tags. Tags are trimmed, lower-cased and
// de-duplicated.
func (s *Store) SetTags(id string, tags ...string) (Conversation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Conversation{}, err
	}
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(clean, t) {
			clean = append(clean, t)
		}
	}

	e.mu.Lock()
	e.tags = clean
	e.touch(s.now())
	conv := e.snapshot()
	e.mu.Unlock()

	s.publish(Event{Type: EventUpdated, ConversationID: id})
	return conv, nil
}

// SetPriority changes the conversation priority.
func (s *Store) SetPriority(id string, p Priority) (Conversation, error) {
	if !p.Valid() {
		return Conversation{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, p)
	}
	e, err := s.lookup(id)
	if err != nil {
		return Conversation{}, err
	}

	e.mu.Lock()
	e.priority = p
	e.touch(s.now())
	conv := e.snapshot()
	e.mu.Unlock()

	s.publish(Event{Type: EventUpdated, ConversationID: id})
	return conv, nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (s *Store) publish(ev Event) {
	ev.Time = s.now().UTC()
	s.events.Publish(ev)
}

func (s *Store) publishMessage(t EventType, id string, m messagelog.Message) {
	s.publish(Event{Type: t, ConversationID: id, Message: &m, MessageID: m.ID})
}

// touch records a change. Caller must hold e.mu.
func (e *entry) touch(now time.Time) {
	e.updatedAt = now.UTC()
}

// snapshot copies the entry. Caller must hold e.mu.
func (e *entry) snapshot() Conversation {
	c := Conversation{
		ID:           e.id,
		Counterpart:  e.counterpart,
		Status:       e.status,
		Priority:     e.priority,
		Tags:         slices.Clone(e.tags),
		Participants: slices.Clone(e.participants),
		Messages:     e.log.Messages(),
		IsTyping:     e.log.IsTyping(),
		CreatedAt:    e.createdAt,
		UpdatedAt:    e.updatedAt,
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Participants == nil {
		c.Participants = []Person{}
	}
	if e.agent != nil {
		a := *e.agent
		c.AssignedAgent = &a
	}
	var last messagelog.Role
	if m, ok := c.LastMessage(); ok {
		last = m.Role
	}
	c.Queue = Classify(c.Status, last, c.Tags)
	return c
}

// ToTurns converts messages to engine history.
func ToTurns(msgs []messagelog.Message) []engine.Turn {
	turns := make([]engine.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = engine.Turn{Role: string(m.Role), Text: m.Text}
	}
	return turns
}
