package agent

import (
	"fmt"
	"strings"

	"resumerag/types"
)

const SystemPrompt = `You are a helpful assistant answering questions about candidate resumes.
Answer clearly and to the point. Don't add introductions like 'Of course!' or 'Here's the answer:'.`

const documentTemplate = `Answer the question using only the resume context below.

Rules:
- Use only facts stated in the context. If the context does not contain the answer, say so.
- Do not share contact details (email, phone, address, links) unless the question asks for them.
- For technical or project questions, structure the answer around the tools used, the impact and the scale.
- Do not speculate or invent details.

Context:
%s
%s
Question: %s
Answer:`

const generalTemplate = `Answer the following general career question concisely.
%s
Question: %s
Answer:`

// BuildPrompt renders the document-specific prompt from the retrieved
// passages and recent history.
func BuildPrompt(query string, passages []string, history []types.Turn) string {
	return fmt.Sprintf(documentTemplate, strings.Join(passages, "\n\n"), formatHistory(history), query)
}

// BuildGeneralPrompt renders the prompt for questions that need no document
// context.
func BuildGeneralPrompt(query string, history []types.Turn) string {
	return fmt.Sprintf(generalTemplate, formatHistory(history), query)
}

func formatHistory(history []types.Turn) string {
	if len(history) > MaxTurns {
		history = history[len(history)-MaxTurns:]
	}
	if len(history) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nPrevious conversation:\n")
	for _, t := range history {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n", t.Question, t.Answer)
	}
	return sb.String()
}
