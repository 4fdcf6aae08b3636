// Package messagelog is the ordered, editable message history shared by
// conversations and the chatbot widget.
package messagelog

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when editing a message that does not exist or
// may not be edited.
var ErrNotFound = errors.New("message not found")

// Role identifies who authored a message.
type Role string

const (
	RoleUser        Role = "user"
	RoleBot         Role = "bot"
	RoleAgent       Role = "agent"
	RoleAssistQuery Role = "agent-assist-query"
	RoleSystem      Role = "system"
)

// Editable reports whether messages with this role can be edited.
func (r Role) Editable() bool {
	return r == RoleUser || r == RoleBot
}

// Message is one entry in a Log.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Edited    bool      `json:"edited"`
}

// Snapshot is the serializable state of a Log.
type Snapshot struct {
	Messages []Message `json:"messages"`
	NextID   int64     `json:"nextId"`
}

// Log is safe for concurrent use. IDs strictly increase in append order and
// are never reused, even after deletes.
type Log struct {
	mu       sync.RWMutex
	messages []Message
	nextID   int64
	typing   bool
	now      func() time.Time
}

// New returns an empty Log.
func New() *Log {
	return &Log{nextID: 1, now: time.Now}
}

// NewWithClock returns an empty Log stamping messages with now (for testing).
func NewWithClock(now func() time.Time) *Log {
	return &Log{nextID: 1, now: now}
}

// Append adds a message stamped with the current time and returns it with
// its assigned id.
func (l *Log) Append(role Role, author, text string) Message {
	return l.AppendAt(role, author, text, l.now())
}

// AppendAt is Append with an explicit timestamp, for imported history.
func (l *Log) AppendAt(role Role, author, text string, at time.Time) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := Message{
		ID:        l.nextID,
		Role:      role,
		Author:    author,
		Text:      text,
		Timestamp: at.UTC(),
	}
	l.nextID++
	l.messages = append(l.messages, m)
	return m
}

// Edit replaces the text of a user or bot message and marks it edited.
func (l *Log) Edit(id int64, text string) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexOf(id)
	if i < 0 || !l.messages[i].Role.Editable() {
		return Message{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	l.messages[i].Text = text
	l.messages[i].Edited = true
	return l.messages[i], nil
}

// Delete removes the user or bot message with id and reports whether it
// was removed. Other roles are left in place.
func (l *Log) Delete(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexOf(id)
	if i < 0 || !l.messages[i].Role.Editable() {
		return false
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	return true
}

// Get returns the message with id.
func (l *Log) Get(id int64) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.indexOf(id); i >= 0 {
		return l.messages[i], true
	}
	return Message{}, false
}

// Messages returns a copy of all messages in order.
func (l *Log) Messages() []Message {
	return l.Tail(0)
}

// Tail returns a copy of the last n messages. n <= 0 returns all.
func (l *Log) Tail(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if n > 0 && len(l.messages) > n {
		start = len(l.messages) - n
	}
	out := make([]Message, len(l.messages)-start)
	copy(out, l.messages[start:])
	return out
}

// Last returns the most recent message.
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// SetTyping sets the typing indicator and returns its previous value.
func (l *Log) SetTyping(on bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.typing
	l.typing = on
	return prev
}

// IsTyping reports whether a reply is being generated.
func (l *Log) IsTyping() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.typing
}

// Snapshot captures the messages and id counter. The typing flag is
// transient and not included.
func (l *Log) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := make([]Message, len(l.messages))
	copy(msgs, l.messages)
	return Snapshot{Messages: msgs, NextID: l.nextID}
}

// Restore builds a Log from a snapshot. The id counter is advanced past the
// largest stored id if the snapshot's counter lags behind.
func Restore(s Snapshot) *Log {
	l := New()
	l.messages = append([]Message(nil), s.Messages...)
	l.nextID = s.NextID
	for _, m := range l.messages {
		if m.ID >= l.nextID {
			l.nextID = m.ID + 1
		}
	}
	if l.nextID < 1 {
		l.nextID = 1
	}
	return l
}

func (l *Log) indexOf(id int64) int {
	for i, m := range l.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
