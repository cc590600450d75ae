package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"resumerag/model"
	"resumerag/types"
)

const classifySystem = `You route questions for a resume assistant. Decide whether a question is GENERAL or needs the indexed resumes.

GENERAL (answer true):
- career advice phrased without reference to a specific person ("how do I write a good summary?")
- industry trends, hiring market, salary ranges
- resume formatting, layout or length questions

DOCUMENT-SPECIFIC (answer false):
- anything about specific resume content: employers, roles, projects, dates, timelines
- skills, tools, certifications or education of someone
- possessive or personal references: "the candidate", "their", "his", "her", a person's name
- hybrid questions that mix general advice with resume content

Respond with exactly one word: true or false.`

const sectionSystem = `You select resume sections relevant to a question.
Reply with a comma-separated list of section names copied exactly from the provided list, or the single word none.
Do not add anything else.`

// Agent wraps the LLM calls used to route a question before retrieval.
type Agent struct {
	llm       model.LLM
	maxTokens int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewAgent returns an Agent. maxPromptTokens of 0 disables the context budget.
func NewAgent(llm model.LLM, maxPromptTokens int) *Agent {
	return &Agent{llm: llm, maxTokens: maxPromptTokens}
}

// Classify reports whether query can be answered without the indexed
// documents. Unparseable replies and LLM failures classify as
// document-specific.
func (a *Agent) Classify(ctx context.Context, query string) types.Classification {
	start := time.Now()
	defer func() {
		log.Printf("[AGENT] classification took %v", time.Since(start))
	}()

	reply, err := a.llm.Generate(ctx, classifySystem, fmt.Sprintf("Question: %s\nIs this a general question?", query))
	if err != nil {
		log.Printf("[AGENT] classification failed: %v", err)
		return types.DocumentSpecific
	}
	general, ok := ParseBool(reply)
	if !ok {
		log.Printf("[AGENT] unparseable classification %q", reply)
		return types.DocumentSpecific
	}
	if general {
		return types.General
	}
	return types.DocumentSpecific
}

// ParseBool accepts a bare true/false token, ignoring case, surrounding
// whitespace, quotes and a trailing period.
func ParseBool(raw string) (value bool, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSpace(s)
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// RelevantSections asks the LLM which catalog sections query is about.
// Labels are returned as written by the LLM; the retriever validates them.
func (a *Agent) RelevantSections(ctx context.Context, query string, catalog []string) []string {
	if len(catalog) == 0 {
		return nil
	}
	prompt := fmt.Sprintf("Sections: %s\nQuestion: %s\nRelevant sections:", strings.Join(catalog, ", "), query)
	reply, err := a.llm.Generate(ctx, sectionSystem, prompt)
	if err != nil {
		log.Printf("[AGENT] section selection failed: %v", err)
		return nil
	}
	return parseSections(reply)
}

func parseSections(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimLeft(f, "-*• ")
		f = strings.Trim(f, "\"'`.")
		f = strings.TrimPrefix(f, "## ")
		f = strings.TrimSpace(f)
		if f == "" || strings.EqualFold(f, "none") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// FitContext drops trailing passages until the prompt built around them fits
// the token budget. At least one passage is always kept.
func (a *Agent) FitContext(build func([]string) string, passages []string) []string {
	if a.maxTokens <= 0 || len(passages) <= 1 {
		return passages
	}
	for n := len(passages); n > 1; n-- {
		count, err := a.CountTokens(build(passages[:n]))
		if err != nil {
			log.Printf("[AGENT] token budget disabled: %v", err)
			return passages
		}
		if count <= a.maxTokens {
			return passages[:n]
		}
	}
	return passages[:1]
}

func (a *Agent) CountTokens(text string) (int, error) {
	a.encOnce.Do(func() {
		// embedded BPE ranks, no download at first use
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		a.enc, a.encErr = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if a.encErr != nil {
		return 0, a.encErr
	}
	return len(a.enc.Encode(text, nil, nil)), nil
}
