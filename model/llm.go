package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"resumerag/observability"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLM is the hosted text-generation service.
type LLM interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(string) error) (string, error)
}

type Ollama struct {
	GenerateURL string
	ChatURL     string
	Model       string
	MaxAttempts int
	client      *http.Client
}

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ChatResponse struct {
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// statusError marks responses that may succeed on a retry.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm API error: status %d, body: %s", e.code, e.body)
}

func NewOllama(generateURL, chatURL, model string, maxAttempts int, timeout time.Duration) *Ollama {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Ollama{
		GenerateURL: generateURL,
		ChatURL:     chatURL,
		Model:       model,
		MaxAttempts: maxAttempts,
		client:      &http.Client{Timeout: timeout},
	}
}

func (o *Ollama) Generate(ctx context.Context, system, prompt string) (answer string, err error) {
	ctx, span := observability.StartSpan(ctx, "llm.generate",
		attribute.String("llm.model", o.Model),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		log.Printf("[LLM] answer took %v", time.Since(start))
	}()

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  o.Model,
		System: system,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	return Retry(ctx, o.MaxAttempts, func() (string, error) {
		body, err := o.post(ctx, o.GenerateURL, reqBody)
		if err != nil {
			return "", err
		}
		defer body.Close()
		return decodeGenerate(body)
	})
}

// decodeGenerate accepts a single JSON object or an NDJSON stream of them.
func decodeGenerate(r io.Reader) (string, error) {
	var sb strings.Builder
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		sb.WriteString(chunk.Response)
	}
	return sb.String(), nil
}

// StreamChat sends the conversation to the chat endpoint and calls onChunk
// for every streamed fragment. The full reply is returned. A failed attempt
// is only retried if nothing was streamed yet.
func (o *Ollama) StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(string) error) (reply string, err error) {
	ctx, span := observability.StartSpan(ctx, "llm.chat",
		attribute.String("llm.model", o.Model),
		attribute.Int("llm.messages", len(messages)),
	)
	defer func() { observability.EndSpan(span, err) }()

	reqBody, err := json.Marshal(ChatRequest{
		Model:    o.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	streamed := false
	return Retry(ctx, o.MaxAttempts, func() (string, error) {
		if streamed {
			return "", Permanent(errors.New("chat stream interrupted"))
		}
		body, err := o.post(ctx, o.ChatURL, reqBody)
		if err != nil {
			return "", err
		}
		defer body.Close()

		var sb strings.Builder
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				return "", Permanent(fmt.Errorf("failed to decode chat chunk: %w", err))
			}
			if chunk.Error != "" {
				return "", Permanent(errors.New(chunk.Error))
			}
			if chunk.Message.Content != "" {
				streamed = true
				sb.WriteString(chunk.Message.Content)
				if onChunk != nil {
					if err := onChunk(chunk.Message.Content); err != nil {
						return "", Permanent(err)
					}
				}
			}
			if chunk.Done {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return sb.String(), nil
	})
}

func (o *Ollama) post(ctx context.Context, url string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &statusError{code: resp.StatusCode, body: string(b)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, serr
		}
		return nil, Permanent(serr)
	}
	return resp.Body, nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Retry calls fn up to maxAttempts times with a linear backoff.
func Retry(ctx context.Context, maxAttempts int, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return "", perm.err
		}
		lastErr = err
		log.Printf("[LLM] attempt %d/%d failed: %v", attempt, maxAttempts, err)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}
	}
	return "", fmt.Errorf("llm retry failed after %d attempts: %w", maxAttempts, lastErr)
}
