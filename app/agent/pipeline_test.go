package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag/config"
	"resumerag/loader/service"
	"resumerag/model"
	"resumerag/types"
)

const experienceResume = `Jane Doe
Backend Engineer

Experience
Acme Corp, Senior Engineer, 2019 - present. Ten years of experience building payment systems in Go.
Globex, Developer, 2015 - 2019. Built data pipelines and gained experience with Kafka.

Education
MIT, BSc Computer Science, 2015
`

func TestExperienceScenarioFromTextFile(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{classify: "false", sections: "Experience", answer: "Acme Corp and Globex."}
	f := newFixture(t, llm)
	ix := service.NewIndexer(f.docs, f.embedder, config.ChunkConfig{Size: 500, Overlap: 50}, nil)

	path := filepath.Join(t.TempDir(), "jane.txt")
	require.NoError(t, os.WriteFile(path, []byte(experienceResume), 0o644))
	doc, err := ix.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "jane.txt", doc.Filename)

	sections, err := f.docs.Sections(ctx)
	require.NoError(t, err)
	assert.Contains(t, sections, "Experience")

	ans, err := f.assistant.Answer(ctx, "s1", "What experience do they have?")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentSpecific, ans.Classification)
	require.NotEmpty(t, ans.Metadata.Sources)
	for _, src := range ans.Metadata.Sources {
		assert.Equal(t, "Experience", src.Section)
		assert.Equal(t, "jane.txt", src.Filename)
	}
	assert.Contains(t, llm.lastPrompt(), "Acme Corp, Senior Engineer")
	assert.NotContains(t, llm.lastPrompt(), "BSc Computer Science")
}

// replyLLM answers the classification prompt of each known question with a
// fixed reply.
type replyLLM struct {
	mu      sync.Mutex
	replies map[string]string
	prompts []string
}

func (r *replyLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	for question, reply := range r.replies {
		if strings.Contains(prompt, question) {
			return reply, nil
		}
	}
	return "", nil
}

func (r *replyLLM) StreamChat(ctx context.Context, messages []model.ChatMessage, onChunk func(string) error) (string, error) {
	return "", nil
}

func TestClassifyResumeQuestions(t *testing.T) {
	const (
		general  = "What is a good resume format in general?"
		specific = "What programming languages are listed in the resume?"
	)
	llm := &replyLLM{replies: map[string]string{general: "true", specific: "false"}}
	a := NewAgent(llm, 0)
	ctx := context.Background()

	assert.Equal(t, types.General, a.Classify(ctx, general))
	assert.Equal(t, types.DocumentSpecific, a.Classify(ctx, specific))

	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[0], general)
	assert.Contains(t, llm.prompts[1], specific)
}
