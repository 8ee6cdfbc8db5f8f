package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
)

// Outcome is what a handler produced. Result is marshalled into the task's
// result; Tokens is added to the user's monthly token counter.
type Outcome struct {
	Result any
	Tokens int
}

// ProgressFunc reports advisory progress in percent.
type ProgressFunc func(percent int)

// Handler performs the AI work of one task type. The Executor owns status
// transitions and quota accounting around it.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error) {
	return f(ctx, task, progress)
}

// NewHandlers returns the handlers for every supported task type.
func NewHandlers(provider llm.Provider) map[domain.TaskType]Handler {
	return map[domain.TaskType]Handler{
		domain.TaskTypeGenerateContent:  &GenerateContentHandler{provider: provider},
		domain.TaskTypeBatchGenerate:    &BatchGenerateHandler{provider: provider, parallelism: defaultBatchParallelism},
		domain.TaskTypeAnalyze:          &AnalyzeHandler{provider: provider},
		domain.TaskTypeWritingAssistant: &WritingAssistantHandler{provider: provider},
	}
}

// complete sends one prompt and returns the trimmed text and the tokens
// spent on prompt and answer.
func complete(ctx context.Context, provider llm.Provider, prompt string) (string, int, error) {
	req := llm.UserPrompt(prompt)
	resp, err := provider.Invoke(ctx, req)
	if err != nil {
		return "", 0, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", 0, fmt.Errorf("%w: empty content", llm.ErrInvalidResponse)
	}

	tokens := resp.Usage.Total()
	if tokens == 0 {
		tokens = llm.CountMessages(req.Messages) + llm.CountTokens(content)
	}
	return content, tokens, nil
}
