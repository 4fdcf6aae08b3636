// Package notify carries user-facing status events (the console's toasts)
// from the services to whatever surface is listening.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Level classifies an event for display.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Event is a single notification.
type Event struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Level       Level     `json:"level"`
	Time        time.Time `json:"time"`
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// Info, Success and Error build events stamped with the current time.
func Info(title, desc string) Event    { return newEvent(LevelInfo, title, desc) }
func Success(title, desc string) Event { return newEvent(LevelSuccess, title, desc) }
func Error(title, desc string) Event   { return newEvent(LevelError, title, desc) }

func newEvent(level Level, title, desc string) Event {
	return Event{Title: title, Description: desc, Level: level, Time: time.Now().UTC()}
}

// Log writes events to a slog logger.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Notifier that logs every event. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Notify(e Event) {
	attrs := []any{"title", e.Title}
	if e.Description != "" {
		attrs = append(attrs, "description", e.Description)
	}
	if e.Level == LevelError {
		l.logger.Warn("notification", attrs...)
		return
	}
	l.logger.Info("notification", attrs...)
}

// Ring keeps the most recent events in memory.
type Ring struct {
	mu     sync.Mutex
	events []Event
	size   int
}

// NewRing returns a Ring holding at most size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 50
	}
	return &Ring{size: size}
}

func (r *Ring) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.size {
		r.events = r.events[len(r.events)-r.size:]
	}
}

// Events returns a copy of the retained events, oldest first.
func (r *Ring) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Multi forwards every event to each notifier in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}

// Discard drops every event.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Event) {}
