package conversation

import (
	"slices"

	"github.com/kalambet/helpdesk/internal/messagelog"
)

// Queue is the inbox a conversation is listed under.
type Queue string

const (
	QueueNotAnswered Queue = "not-answered"
	QueueInternal    Queue = "internal"
	QueuePending     Queue = "pending"
	QueueResolved    Queue = "resolved"
)

// Workflow tags that place a conversation in a queue regardless of its messages.
const (
	TagResolved = "resolved"
	TagInternal = "internal"
	TagPending  = "pending"
)

// Queues lists every queue in display order.
var Queues = []Queue{QueueNotAnswered, QueueInternal, QueuePending, QueueResolved}

// ParseQueue returns the queue named s.
func ParseQueue(s string) (Queue, bool) {
	q := Queue(s)
	return q, slices.Contains(Queues, q)
}

// Classify derives the queue from the conversation status, the role of the
// last message and workflow tags. Tags win in the order resolved, internal,
// pending. Untagged conversations are not answered when they have no
// messages, when the customer spoke last, or when an agent has taken over
// and only the hand-off notice follows. Everything else is pending.
func Classify(status Status, lastAuthor messagelog.Role, tags []string) Queue {
	switch {
	case slices.Contains(tags, TagResolved):
		return QueueResolved
	case slices.Contains(tags, TagInternal):
		return QueueInternal
	case slices.Contains(tags, TagPending):
		return QueuePending
	}
	switch {
	case lastAuthor == "", lastAuthor == messagelog.RoleUser:
		return QueueNotAnswered
	case status == StatusAgentActive && lastAuthor == messagelog.RoleSystem:
		return QueueNotAnswered
	}
	return QueuePending
}
