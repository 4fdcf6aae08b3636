package conversation

import (
	"time"

	"github.com/kalambet/helpdesk/internal/messagelog"
)

type demoMessage struct {
	role   messagelog.Role
	author string
	text   string
	ago    time.Duration
}

type demoConversation struct {
	id          string
	counterpart Person
	priority    Priority
	agent       *Person
	messages    []demoMessage
}

var sarah = Person{ID: "agent-1", Name: "Sarah Wilson"}

var demoConversations = []demoConversation{
	{
		id:          "1",
		counterpart: Person{Name: "Jane Smith", Email: "jane@example.com"},
		priority:    PriorityHigh,
		messages: []demoMessage{
			{messagelog.RoleUser, "", "Hi! I need help with my billing account. I was charged twice this month.", 2 * time.Minute},
			{messagelog.RoleBot, "", "I understand your concern about the billing issue. Let me check your account details right away.", time.Minute},
			{messagelog.RoleUser, "", "Thank you. My account email is jane@example.com", 30 * time.Second},
		},
	},
	{
		id:          "2",
		counterpart: Person{Name: "Mike Johnson"},
		priority:    PriorityMedium,
		agent:       &sarah,
		messages: []demoMessage{
			{messagelog.RoleUser, "", "Where can I find my invoice?", 6 * time.Minute},
			{messagelog.RoleAgent, sarah.Name, `You can find all your invoices under the "Billing" section of your account dashboard.`, 5 * time.Minute},
			{messagelog.RoleUser, "", "Thank you for the quick response!", 5 * time.Minute},
		},
	},
	{
		id:          "3",
		counterpart: Person{Name: "David Brown"},
		priority:    PriorityLow,
		messages: []demoMessage{
			{messagelog.RoleUser, "", "Can you explain your pricing plans?", 8 * time.Minute},
			{messagelog.RoleBot, "", "Of course! We have a few different plans available. Could you tell me a bit about your needs so I can recommend the best one?", 7 * time.Minute},
		},
	},
}

// SeedDemo installs three sample conversations with ids "1" to "3". It
// returns how many were added; ids already present are skipped.
func (s *Store) SeedDemo() int {
	base := s.now()
	added := 0
	for _, d := range demoConversations {
		if _, err := s.lookup(d.id); err == nil {
			continue
		}
		if _, err := s.create(d.id, d.counterpart, d.priority); err != nil {
			s.logger.Warn("seeding demo conversation", "id", d.id, "error", err)
			continue
		}
		e, _ := s.lookup(d.id)

		e.mu.Lock()
		var last time.Time
		for _, m := range d.messages {
			at := base.Add(-m.ago)
			e.log.AppendAt(m.role, m.author, m.text, at)
			last = at
		}
		if d.agent != nil {
			a := *d.agent
			e.agent = &a
			e.status = StatusAgentActive
		}
		e.createdAt = base.Add(-d.messages[0].ago).UTC()
		e.updatedAt = last.UTC()
		e.mu.Unlock()
		added++
	}
	return added
}
