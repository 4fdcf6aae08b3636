package conversation

import (
	"errors"
	"time"

	"github.com/kalambet/helpdesk/internal/messagelog"
)

var (
	// ErrNotFound is returned when no conversation has the requested id.
	ErrNotFound = errors.New("conversation not found")
	// ErrValidation is returned for blank messages, unnamed people and
	// unknown priorities.
	ErrValidation = errors.New("invalid conversation request")
	// ErrInvalidTransition is returned by Takeover and Release when the
	// conversation is not in the required state, and by PostAgentMessage
	// when no agent holds the conversation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrReplyPending is returned when a message is posted while the previous
	// reply is still being generated.
	ErrReplyPending = errors.New("reply already pending")
)

// Status says who is answering the customer.
type Status string

const (
	StatusAIActive    Status = "ai-active"
	StatusAgentActive Status = "agent-active"
)

// Priority orders conversations for agents.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Person is a customer, agent or invited participant.
type Person struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Same reports whether p and o are the same person: equal ids, or equal
// names when neither has an id.
func (p Person) Same(o Person) bool {
	return p.key() == o.key()
}

func (p Person) key() string {
	if p.ID != "" {
		return "id:" + p.ID
	}
	return "name:" + p.Name
}

// Conversation is a read-only snapshot of one customer thread.
type Conversation struct {
	ID            string               `json:"id"`
	Counterpart   Person               `json:"counterpart"`
	Status        Status               `json:"status"`
	AssignedAgent *Person              `json:"assignedAgent"`
	Priority      Priority             `json:"priority"`
	Tags          []string             `json:"tags"`
	Participants  []Person             `json:"participants"`
	Messages      []messagelog.Message `json:"messages"`
	IsTyping      bool                 `json:"isTyping"`
	Queue         Queue                `json:"queue"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// LastMessage returns the most recent message, if any.
func (c Conversation) LastMessage() (messagelog.Message, bool) {
	if len(c.Messages) == 0 {
		return messagelog.Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Exchange is the result of posting a message: what was appended for the
// poster and the automated reply, if one was generated.
type Exchange struct {
	Posted messagelog.Message  `json:"posted"`
	Reply  *messagelog.Message `json:"reply,omitempty"`
}

// EventType names a change to a conversation.
type EventType string

const (
	EventMessageAppended EventType = "message.appended"
	EventMessageEdited   EventType = "message.edited"
	EventMessageDeleted  EventType = "message.deleted"
	EventStatusChanged   EventType = "status.changed"
	EventTyping          EventType = "typing"
	EventUpdated         EventType = "conversation.updated"
)

// Event is delivered to subscribers of a conversation.
type Event struct {
	Type           EventType           `json:"type"`
	ConversationID string              `json:"conversationId"`
	Message        *messagelog.Message `json:"message,omitempty"`
	MessageID      int64               `json:"messageId,omitempty"`
	Status         Status              `json:"status,omitempty"`
	Typing         bool                `json:"typing"`
	Time           time.Time           `json:"time"`
}
