package agent

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"resumerag/model"
	"resumerag/observability"
	"resumerag/types"
)

// Searcher finds passages relevant to a question.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) (types.Retrieval, error)
}

var noContextMessages = map[types.EmptyReason]string{
	types.NoDocuments:    "No documents have been indexed yet. Upload a resume first.",
	types.NoMatches:      "No relevant context found in the indexed documents.",
	types.BelowThreshold: "Found related passages, but none were relevant enough to answer confidently.",
}

// NoContextMessage is the reply given when retrieval finds nothing usable.
func NoContextMessage(reason types.EmptyReason) string {
	if msg, ok := noContextMessages[reason]; ok {
		return msg
	}
	return noContextMessages[types.NoMatches]
}

// Assistant answers questions over the indexed resumes.
type Assistant struct {
	agent    *Agent
	llm      model.LLM
	searcher Searcher
	sessions *Sessions
	topK     int
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewAssistant(agent *Agent, llm model.LLM, searcher Searcher, sessions *Sessions, topK int, metrics *observability.Metrics) *Assistant {
	return &Assistant{
		agent:    agent,
		llm:      llm,
		searcher: searcher,
		sessions: sessions,
		topK:     topK,
		metrics:  metrics,
		logger:   slog.Default(),
	}
}

// Answer classifies the question, retrieves context when needed and asks the
// LLM for an answer. The exchange is appended to the session history.
func (a *Assistant) Answer(ctx context.Context, sessionID, question string) (ans types.Answer, err error) {
	ctx, span := observability.StartSpan(ctx, "assistant.answer", attribute.String("session.id", sessionID))
	defer func() { observability.EndSpan(span, err) }()

	conv := a.sessions.Get(sessionID)
	history := conv.Turns()
	class := a.agent.Classify(ctx, question)
	span.SetAttributes(attribute.String("rag.classification", string(class)))
	a.metrics.RecordQuery(string(class))

	var (
		prompt    string
		retrieval types.Retrieval
	)
	switch class {
	case types.General:
		prompt = BuildGeneralPrompt(question, history)
	default:
		retrieval, err = a.searcher.Search(ctx, question, a.topK)
		if err != nil {
			return types.Answer{}, err
		}
		if !retrieval.Found() {
			a.logger.Info("no relevant context", "session", sessionID, "reason", retrieval.Empty)
			ans = FormatAnswer(NoContextMessage(retrieval.Empty), retrieval, class)
			ans.SessionID = sessionID
			conv.Append(question, ans.Answer, class)
			return ans, nil
		}
		build := func(passages []string) string { return BuildPrompt(question, passages, history) }
		kept := a.agent.FitContext(build, retrieval.Texts())
		retrieval.Matches = retrieval.Matches[:len(kept)]
		prompt = build(kept)
	}

	raw, err := a.llm.Generate(ctx, SystemPrompt, prompt)
	if err != nil {
		return types.Answer{}, err
	}

	ans = FormatAnswer(raw, retrieval, class)
	ans.SessionID = sessionID
	conv.Append(question, ans.Answer, class)
	a.logger.Info("question answered", "session", sessionID, "classification", class,
		"passages", len(retrieval.Matches), "confidence", ans.Confidence)
	return ans, nil
}

// Chat streams a free-form reply over the session history. onChunk receives
// every piece of text as it arrives and may be nil.
func (a *Assistant) Chat(ctx context.Context, sessionID, message string, onChunk func(string) error) (reply string, err error) {
	ctx, span := observability.StartSpan(ctx, "assistant.chat", attribute.String("session.id", sessionID))
	defer func() { observability.EndSpan(span, err) }()

	conv := a.sessions.Get(sessionID)
	messages := append([]model.ChatMessage{{Role: "system", Content: SystemPrompt}}, conv.Messages()...)
	messages = append(messages, model.ChatMessage{Role: "user", Content: message})

	reply, err = a.llm.StreamChat(ctx, messages, onChunk)
	if err != nil {
		return reply, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "No response found"
		if onChunk != nil {
			if err := onChunk(reply); err != nil {
				return reply, err
			}
		}
	}
	conv.Append(message, reply, types.General)
	return reply, nil
}
