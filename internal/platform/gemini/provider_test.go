package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	resp      *genai.GenerateContentResponse
	err       error
	stream    []*genai.GenerateContentResponse
	streamErr error

	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	_ string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.gotContents, f.gotConfig = contents, config
	return f.resp, f.err
}

func (f *fakeModels) GenerateContentStream(
	_ context.Context,
	_ string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.gotContents, f.gotConfig = contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range f.stream {
			if !yield(r, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: roleModel, Parts: parts}}},
	}
}

func TestBuildRequest_RoleMapping(t *testing.T) {
	t.Parallel()

	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleSystem, Content: "be kind"},
			{Role: llm.RoleUser, Content: "weather?"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "weather", Arguments: json.RawMessage(`{"city":"Oslo"}`)},
			}},
			{Role: llm.RoleTool, ToolCallID: "c1", Name: "weather", Content: "rain"},
		},
		Tools: []llm.ToolSpec{{
			Name:        "weather",
			Description: "current weather",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
				"required":   []any{"city"},
			},
		}},
		Temperature: 0.2,
	}

	contents, config, err := buildRequest(req)
	require.NoError(t, err)
	require.Len(t, contents, 3)

	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "be brief\n\nbe kind", config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.2, *config.Temperature, 0.0001)

	assert.Equal(t, roleUser, contents[0].Role)
	assert.Equal(t, "weather?", contents[0].Parts[0].Text)

	assert.Equal(t, roleModel, contents[1].Role)
	require.Len(t, contents[1].Parts, 1)
	fc := contents[1].Parts[0].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "weather", fc.Name)
	assert.Equal(t, "Oslo", fc.Args["city"])

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "c1", fr.ID)
	assert.Equal(t, "rain", fr.Response["output"])

	require.Len(t, config.Tools, 1)
	decl := config.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "weather", decl.Name)
	assert.Equal(t, genai.Type("OBJECT"), decl.Parameters.Type)
	assert.Equal(t, []string{"city"}, decl.Parameters.Required)
	assert.Equal(t, genai.Type("STRING"), decl.Parameters.Properties["city"].Type)
}

func TestBuildRequest_BadToolArguments(t *testing.T) {
	t.Parallel()

	_, _, err := buildRequest(llm.Request{Messages: []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{Name: "x", Arguments: json.RawMessage(`{nope`)}}},
	}})
	assert.ErrorIs(t, err, llm.ErrInvalidResponse)
}

func TestConvertResponse(t *testing.T) {
	t.Parallel()

	t.Run("text and function call", func(t *testing.T) {
		resp := textResponse(
			&genai.Part{Text: "checking "},
			&genai.Part{FunctionCall: &genai.FunctionCall{Name: "search", Args: map[string]any{"q": "go"}}},
		)
		chunk, err := convertResponse(resp, 2)
		require.NoError(t, err)
		assert.Equal(t, "checking ", chunk.Content)
		require.Len(t, chunk.ToolCalls, 1)
		assert.Equal(t, "call_3", chunk.ToolCalls[0].ID)
		assert.JSONEq(t, `{"q":"go"}`, string(chunk.ToolCalls[0].Arguments))
	})

	t.Run("safety block", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}
		_, err := convertResponse(resp, 0)
		assert.ErrorIs(t, err, llm.ErrContentBlocked)
		assert.False(t, llm.IsRetryable(err))
	})

	t.Run("nil response", func(t *testing.T) {
		_, err := convertResponse(nil, 0)
		assert.ErrorIs(t, err, llm.ErrInvalidResponse)
	})

	t.Run("no candidates", func(t *testing.T) {
		chunk, err := convertResponse(&genai.GenerateContentResponse{}, 0)
		require.NoError(t, err)
		assert.Empty(t, chunk.Content)
	})
}

func TestProvider_Invoke(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)

	t.Run("success", func(t *testing.T) {
		models := &fakeModels{resp: textResponse(&genai.Part{Text: "Hello"})}
		p := newWithModels(models, "gemini-test", log)

		resp, err := p.Invoke(context.Background(), llm.UserPrompt("hi"))
		require.NoError(t, err)
		assert.Equal(t, "Hello", resp.Content)
		require.Len(t, models.gotContents, 1)
	})

	t.Run("empty content", func(t *testing.T) {
		p := newWithModels(&fakeModels{resp: textResponse()}, "gemini-test", log)
		_, err := p.Invoke(context.Background(), llm.UserPrompt("hi"))
		assert.ErrorIs(t, err, llm.ErrInvalidResponse)
	})

	t.Run("api error is transient", func(t *testing.T) {
		p := newWithModels(&fakeModels{err: errors.New("503")}, "gemini-test", log)
		_, err := p.Invoke(context.Background(), llm.UserPrompt("hi"))
		assert.ErrorIs(t, err, llm.ErrTransient)
		assert.True(t, llm.IsRetryable(err))
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		p := newWithModels(&fakeModels{err: context.Canceled}, "gemini-test", log)
		_, err := p.Invoke(context.Background(), llm.UserPrompt("hi"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, llm.ErrTransient)
	})
}

func TestProvider_Stream(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)

	t.Run("emits non-empty chunks", func(t *testing.T) {
		models := &fakeModels{stream: []*genai.GenerateContentResponse{
			textResponse(&genai.Part{Text: "Hel"}),
			{},
			textResponse(&genai.Part{Text: "lo"}),
		}}
		p := newWithModels(models, "gemini-test", log)

		var got []string
		err := p.Stream(context.Background(), llm.UserPrompt("hi"), func(c llm.Chunk) error {
			got = append(got, c.Content)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"Hel", "lo"}, got)
	})

	t.Run("callback error stops the stream", func(t *testing.T) {
		models := &fakeModels{stream: []*genai.GenerateContentResponse{
			textResponse(&genai.Part{Text: "a"}),
			textResponse(&genai.Part{Text: "b"}),
		}}
		p := newWithModels(models, "gemini-test", log)

		stop := errors.New("stop")
		calls := 0
		err := p.Stream(context.Background(), llm.UserPrompt("hi"), func(llm.Chunk) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("mid-stream error", func(t *testing.T) {
		models := &fakeModels{
			stream:    []*genai.GenerateContentResponse{textResponse(&genai.Part{Text: "a"})},
			streamErr: errors.New("reset"),
		}
		p := newWithModels(models, "gemini-test", log)
		err := p.Stream(context.Background(), llm.UserPrompt("hi"), func(llm.Chunk) error { return nil })
		assert.ErrorIs(t, err, llm.ErrTransient)
	})

	t.Run("tool call ids stay unique across chunks", func(t *testing.T) {
		call := func(name string) *genai.Part {
			return &genai.Part{FunctionCall: &genai.FunctionCall{Name: name}}
		}
		models := &fakeModels{stream: []*genai.GenerateContentResponse{
			textResponse(call("a")),
			textResponse(call("b")),
		}}
		p := newWithModels(models, "gemini-test", log)

		var ids []string
		err := p.Stream(context.Background(), llm.UserPrompt("hi"), func(c llm.Chunk) error {
			for _, tc := range c.ToolCalls {
				ids = append(ids, tc.ID)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"call_1", "call_2"}, ids)
	})
}
