// Package composer builds the evidence-grounded prompt sent to a remote
// model when the console answers with a connected integration.
package composer

import (
	"strings"

	"github.com/kalambet/helpdesk/internal/knowledge"
)

const (
	// NotFoundAnswer is the exact sentence the model must use when the
	// evidence does not answer the question.
	NotFoundAnswer = "I'm sorry, I couldn't find a specific answer to that question."

	// NoKnowledgeNotice replaces the evidence block when there are no documents.
	NoKnowledgeNotice = "No knowledge base is available. You must rely on your general knowledge."

	knowledgeHeader = "Here is the knowledge base you must use as evidence to answer the user's question."
	historyHeader   = "Here is the recent conversation history for context:"
	docSeparator    = "\n\n---\n\n"
)

const instructions = `You are a Question Answering AI. Your task is to provide a direct and concise answer to the user's question based *only* on the provided evidence.

**Process:**
1.  **Identify the User's Question:** Read the user's question carefully.
2.  **Find the Evidence:** Locate the specific sentence(s) in the "Knowledge Base Context" that contain the answer.
3.  **Formulate the Answer:** Create a new, short answer in your own words.

**CRITICAL RULES:**
-   **DO NOT** copy and paste from the knowledge base.
-   Your answer **MUST** be a maximum of two lines.
-   Your answer **MUST** directly answer the question.
-   If the knowledge base does not contain the answer, state: "` + NotFoundAnswer + `"`

// Turn is one prior message given to the model as context.
type Turn struct {
	Role string
	Text string
}

// Speaker maps a message role to the label used in the history block.
// Only customer turns are "User"; bot, agent and system turns are "Assistant".
func Speaker(role string) string {
	if role == "user" {
		return "User"
	}
	return "Assistant"
}

// Build assembles the single-turn prompt for question.
func Build(question string, docs []knowledge.Document, history []Turn) string {
	var sb strings.Builder
	sb.WriteString(instructions)

	sb.WriteString("\n\n**Knowledge Base Context (Evidence):**\n")
	sb.WriteString(KnowledgeBlock(docs))

	sb.WriteString("\n\n**Conversation History:**\n")
	sb.WriteString(HistoryBlock(history))

	sb.WriteString("\n\n**User's Question:** \"")
	sb.WriteString(question)
	sb.WriteString("\"\n\n**Final Answer (Synthesized, 2 lines max):**")
	return sb.String()
}

// KnowledgeBlock serializes every document as evidence, or returns
// NoKnowledgeNotice when docs is empty.
func KnowledgeBlock(docs []knowledge.Document) string {
	if len(docs) == 0 {
		return NoKnowledgeNotice
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = "Document Title: " + d.Title + "\nContent: " + d.Content
	}
	return knowledgeHeader + "\n---\n" + strings.Join(parts, docSeparator) + "\n---"
}

// HistoryBlock renders history as speaker-labelled lines. It is empty when
// there is no history.
func HistoryBlock(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, len(history))
	for i, t := range history {
		lines[i] = Speaker(t.Role) + ": " + t.Text
	}
	return historyHeader + "\n---\n" + strings.Join(lines, "\n") + "\n---"
}
