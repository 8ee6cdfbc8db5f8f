package task

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
	"golang.org/x/sync/errgroup"
)

const defaultBatchParallelism = 3

// GenerateContentResult is the result of a generate-content task.
type GenerateContentResult struct {
	Type    domain.ContentKind `json:"type"`
	Content string             `json:"content"`
}

// GenerateContentHandler produces one piece of content.
type GenerateContentHandler struct {
	provider llm.Provider
}

// Handle implements Handler.
func (h *GenerateContentHandler) Handle(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error) {
	params, err := domain.DecodeParams(task.Type, task.Params)
	if err != nil {
		return Outcome{}, err
	}
	p := params.(domain.GenerateContentParams)

	progress(30)
	result, tokens, err := generateOne(ctx, h.provider, p)
	if err != nil {
		return Outcome{}, err
	}
	progress(90)

	return Outcome{Result: result, Tokens: tokens}, nil
}

func generateOne(ctx context.Context, provider llm.Provider, p domain.GenerateContentParams) (GenerateContentResult, int, error) {
	prompt, err := renderPrompt("generate", p)
	if err != nil {
		return GenerateContentResult{}, 0, err
	}
	content, tokens, err := complete(ctx, provider, prompt)
	if err != nil {
		return GenerateContentResult{}, 0, err
	}
	return GenerateContentResult{Type: p.Type, Content: content}, tokens, nil
}

// BatchItemResult is one successful batch item.
type BatchItemResult struct {
	Index   int                `json:"index"`
	Type    domain.ContentKind `json:"type"`
	Content string             `json:"content"`
}

// BatchItemError is one failed batch item.
type BatchItemError struct {
	Index int                `json:"index"`
	Type  domain.ContentKind `json:"type"`
	Error string             `json:"error"`
}

// BatchGenerateResult is the result of a batch-generate task.
type BatchGenerateResult struct {
	Results   []BatchItemResult `json:"results"`
	Errors    []BatchItemError  `json:"errors"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// BatchGenerateHandler generates every item independently. A failed item is
// recorded and never aborts the batch.
type BatchGenerateHandler struct {
	provider    llm.Provider
	parallelism int
}

// Handle implements Handler.
func (h *BatchGenerateHandler) Handle(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error) {
	params, err := domain.DecodeParams(task.Type, task.Params)
	if err != nil {
		return Outcome{}, err
	}
	items := params.(domain.BatchGenerateParams).Items

	var (
		mu     sync.Mutex
		done   int
		tokens int
		slots  = make([]*BatchItemResult, len(items))
		errs   = make([]*BatchItemError, len(items))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(h.parallelism, 1))

	for i, item := range items {
		g.Go(func() error {
			var (
				result GenerateContentResult
				spent  int
				err    = item.Validate()
			)
			if err == nil {
				result, spent, err = generateOne(gctx, h.provider, item)
			}

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs[i] = &BatchItemError{Index: i, Type: item.Type, Error: err.Error()}
			} else {
				slots[i] = &BatchItemResult{Index: i, Type: item.Type, Content: result.Content}
				tokens += spent
			}
			done++
			progress(10 + 80*done/len(items))
			return nil
		})
	}
	_ = g.Wait()

	out := BatchGenerateResult{
		Results: make([]BatchItemResult, 0, len(items)),
		Errors:  make([]BatchItemError, 0),
		Total:   len(items),
	}
	for i := range items {
		if slots[i] != nil {
			out.Results = append(out.Results, *slots[i])
		}
		if errs[i] != nil {
			out.Errors = append(out.Errors, *errs[i])
		}
	}
	out.Succeeded = len(out.Results)
	out.Failed = len(out.Errors)

	return Outcome{Result: out, Tokens: tokens}, nil
}

// AnalyzeResult is the result of an analyze task. Analysis holds the model's
// JSON object, or its raw text when no object could be recovered.
type AnalyzeResult struct {
	Analysis any      `json:"analysis"`
	Aspects  []string `json:"aspects"`
}

// AnalyzeHandler scores content on a set of aspects.
type AnalyzeHandler struct {
	provider llm.Provider
}

// Handle implements Handler.
func (h *AnalyzeHandler) Handle(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error) {
	params, err := domain.DecodeParams(task.Type, task.Params)
	if err != nil {
		return Outcome{}, err
	}
	p := params.(domain.AnalyzeParams)
	if len(p.Aspects) == 0 {
		p.Aspects = domain.DefaultAnalyzeAspects
	}

	prompt, err := renderPrompt("analyze", p)
	if err != nil {
		return Outcome{}, err
	}

	progress(30)
	content, tokens, err := complete(ctx, h.provider, prompt)
	if err != nil {
		return Outcome{}, err
	}
	progress(90)

	return Outcome{
		Result: AnalyzeResult{Analysis: parseAnalysis(content), Aspects: p.Aspects},
		Tokens: tokens,
	}, nil
}

// parseAnalysis recovers a JSON object from model output, which is often
// fenced or slightly malformed.
func parseAnalysis(content string) any {
	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return content
	}
	var analysis map[string]any
	if err := json.Unmarshal([]byte(repaired), &analysis); err != nil {
		return content
	}
	return analysis
}

// WritingAssistantResult is the result of a writing-assistant task.
type WritingAssistantResult struct {
	Action  domain.WritingAction `json:"action"`
	Content string               `json:"content"`
}

// WritingAssistantHandler applies one editing action to a text.
type WritingAssistantHandler struct {
	provider llm.Provider
}

// Handle implements Handler.
func (h *WritingAssistantHandler) Handle(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error) {
	params, err := domain.DecodeParams(task.Type, task.Params)
	if err != nil {
		return Outcome{}, err
	}
	p := params.(domain.WritingAssistantParams)

	prompt, err := renderPrompt("writing", p)
	if err != nil {
		return Outcome{}, err
	}

	progress(30)
	content, tokens, err := complete(ctx, h.provider, prompt)
	if err != nil {
		return Outcome{}, err
	}
	progress(90)

	return Outcome{Result: WritingAssistantResult{Action: p.Action, Content: content}, Tokens: tokens}, nil
}
