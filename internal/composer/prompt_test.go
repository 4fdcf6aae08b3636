package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/helpdesk/internal/knowledge"
)

var refundDoc = knowledge.Document{
	ID:      "2",
	Title:   "Refund Policy Q3 2025",
	Content: "Full refund within 14 days.",
}

func TestBuild_SectionOrder(t *testing.T) {
	p := Build("what is your refund policy", []knowledge.Document{refundDoc}, []Turn{{Role: "user", Text: "hi"}})

	sections := []string{
		"You are a Question Answering AI.",
		"**CRITICAL RULES:**",
		"**Knowledge Base Context (Evidence):**",
		"**Conversation History:**",
		`**User's Question:** "what is your refund policy"`,
		"**Final Answer (Synthesized, 2 lines max):**",
	}
	last := -1
	for _, s := range sections {
		i := strings.Index(p, s)
		if i < 0 {
			t.Fatalf("prompt missing section %q", s)
		}
		if i <= last {
			t.Errorf("section %q out of order", s)
		}
		last = i
	}
	if !strings.Contains(p, NotFoundAnswer) {
		t.Error("prompt missing the fixed not-found sentence")
	}
}

func TestKnowledgeBlock_Empty(t *testing.T) {
	if got := KnowledgeBlock(nil); got != NoKnowledgeNotice {
		t.Errorf("KnowledgeBlock(nil) = %q, want notice", got)
	}
}

func TestKnowledgeBlock_JoinsDocuments(t *testing.T) {
	other := knowledge.Document{Title: "API Rate Limits", Content: "100 per minute."}
	got := KnowledgeBlock([]knowledge.Document{refundDoc, other})

	want := "Document Title: Refund Policy Q3 2025\nContent: Full refund within 14 days." +
		"\n\n---\n\n" +
		"Document Title: API Rate Limits\nContent: 100 per minute."
	if !strings.Contains(got, want) {
		t.Errorf("KnowledgeBlock = %q, want it to contain %q", got, want)
	}
	if !strings.HasPrefix(got, knowledgeHeader) {
		t.Errorf("KnowledgeBlock missing header: %q", got)
	}
}

func TestHistoryBlock(t *testing.T) {
	if got := HistoryBlock(nil); got != "" {
		t.Errorf("HistoryBlock(nil) = %q, want empty", got)
	}

	got := HistoryBlock([]Turn{
		{Role: "user", Text: "Where is my order?"},
		{Role: "bot", Text: "Let me check."},
		{Role: "agent", Text: "It shipped."},
		{Role: "system", Text: "Sarah took over"},
	})
	for _, line := range []string{
		"User: Where is my order?",
		"Assistant: Let me check.",
		"Assistant: It shipped.",
		"Assistant: Sarah took over",
	} {
		if !strings.Contains(got, line+"\n") {
			t.Errorf("HistoryBlock missing line %q in %q", line, got)
		}
	}
}

func TestBuild_NoHistoryLeavesSectionEmpty(t *testing.T) {
	p := Build("hello", nil, nil)
	if !strings.Contains(p, "**Conversation History:**\n\n\n**User's Question:**") {
		t.Errorf("expected empty history section, got:\n%s", p)
	}
	if !strings.Contains(p, NoKnowledgeNotice) {
		t.Error("expected no-knowledge notice")
	}
}
