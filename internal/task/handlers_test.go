package task

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPrompt(t *testing.T) {
	t.Parallel()

	prompt, err := renderPrompt("generate", domain.GenerateContentParams{
		Type:     domain.ContentKindTags,
		Content:  "Go generics in practice",
		Keywords: []string{"go", "generics"},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Suggest up to eight lowercase tags")
	assert.Contains(t, prompt, "Keywords: go, generics")
	assert.Contains(t, prompt, "Go generics in practice")
	assert.NotContains(t, prompt, "Title:")

	prompt, err = renderPrompt("writing", domain.WritingAssistantParams{
		Action:   domain.WritingActionTranslate,
		Text:     "hello",
		Language: "Norwegian",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Translate the text into Norwegian.")

	prompt, err = renderPrompt("analyze", domain.AnalyzeParams{Content: "x", Aspects: []string{"seo", "structure"}})
	require.NoError(t, err)
	assert.Contains(t, prompt, "aspects: seo, structure")
}

func TestBatchGenerateHandler_PartialFailure(t *testing.T) {
	t.Parallel()

	provider := &llm.MockProvider{
		InvokeFn: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			if strings.Contains(req.Messages[0].Content, "explode") {
				return nil, errors.New("provider rejected item")
			}
			return &llm.Response{Content: "ok", Usage: llm.Usage{PromptTokens: 4, CompletionTokens: 1}}, nil
		},
	}
	h := &BatchGenerateHandler{provider: provider, parallelism: 2}

	task, err := domain.NewTask(uuid.New(), domain.TaskTypeBatchGenerate, json.RawMessage(`{"items":[
		{"type":"title","content":"first"},
		{"type":"summary","content":"explode"},
		{"type":"poem","content":"bad kind"},
		{"type":"tags","content":"fourth"}
	]}`))
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		progress []int
	)
	outcome, err := h.Handle(context.Background(), task, func(p int) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	require.NoError(t, err, "item failures never fail the batch")

	result := outcome.Result.(BatchGenerateResult)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []int{0, 3}, []int{result.Results[0].Index, result.Results[1].Index})
	assert.Equal(t, 1, result.Errors[0].Index)
	assert.Equal(t, "provider rejected item", result.Errors[0].Error)
	assert.Equal(t, 2, result.Errors[1].Index)
	assert.Equal(t, 10, outcome.Tokens)
	assert.Equal(t, 3, provider.Calls(), "invalid items are never sent to the provider")

	assert.Len(t, progress, 4)
	assert.Contains(t, progress, 90)

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"succeeded":2`)
}

func TestAnalyzeHandler_RepairsModelJSON(t *testing.T) {
	t.Parallel()

	provider := &llm.MockProvider{
		InvokeFn: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: "{'readability': {'score': 80, 'suggestions': ['shorter sentences'],}}"}, nil
		},
	}
	h := &AnalyzeHandler{provider: provider}

	task, err := domain.NewTask(uuid.New(), domain.TaskTypeAnalyze, json.RawMessage(`{"content":"some text"}`))
	require.NoError(t, err)

	outcome, err := h.Handle(context.Background(), task, func(int) {})
	require.NoError(t, err)

	result := outcome.Result.(AnalyzeResult)
	assert.Equal(t, domain.DefaultAnalyzeAspects, result.Aspects)
	analysis, ok := result.Analysis.(map[string]any)
	require.True(t, ok, "analysis should be decoded into an object")
	assert.Contains(t, analysis, "readability")
	assert.Positive(t, outcome.Tokens)
}

func TestParseAnalysis_FallsBackToText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "The text reads well.", parseAnalysis("The text reads well."))
}

func TestHandlers_RejectInvalidParams(t *testing.T) {
	t.Parallel()

	provider := &llm.MockProvider{}
	for taskType, h := range NewHandlers(provider) {
		task := &domain.Task{ID: uuid.New(), UserID: uuid.New(), Type: taskType, Params: json.RawMessage(`{}`)}
		_, err := h.Handle(context.Background(), task, func(int) {})
		assert.ErrorIs(t, err, domain.ErrInvalidTaskParams, "%s", taskType)
	}
	assert.Equal(t, 0, provider.Calls())
}

func TestComplete_EmptyContent(t *testing.T) {
	t.Parallel()

	provider := &llm.MockProvider{
		InvokeFn: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: "   "}, nil
		},
	}
	_, _, err := complete(context.Background(), provider, "prompt")
	assert.ErrorIs(t, err, llm.ErrInvalidResponse)
}
