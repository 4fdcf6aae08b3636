package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key has never been written.
var ErrNotFound = errors.New("not found")

// Fixed keys used by the help-desk services.
const (
	KeyKnowledgeDocuments = "knowledge-documents"
	KeyModelIntegrations  = "model-integrations"
	KeyActiveModelID      = "active-model-id"

	// SessionPrefixChatbot prefixes per-session widget message caches.
	SessionPrefixChatbot = "chatbot-messages:"
)

// Entry is one stored slot.
type Entry struct {
	Key       string
	Value     string
	Session   bool
	UpdatedAt time.Time
}
