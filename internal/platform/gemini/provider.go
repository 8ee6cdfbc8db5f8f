package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/phrazzld/scribe/internal/llm"
	"google.golang.org/genai"
)

// modelsAPI is the subset of *genai.Models the provider calls.
type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Config configures the Gemini provider.
type Config struct {
	APIKey    string
	ModelName string
}

// Provider implements llm.Provider for Gemini.
type Provider struct {
	models modelsAPI
	model  string
	logger *slog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", llm.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", llm.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", llm.ErrInvalidConfig, err)
	}

	return newWithModels(client.Models, cfg.ModelName, logger), nil
}

func newWithModels(models modelsAPI, model string, logger *slog.Logger) *Provider {
	return &Provider{
		models: models,
		model:  model,
		logger: logger.With("component", "gemini", "model", model),
	}
}

// Invoke performs one GenerateContent call.
func (p *Provider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	contents, config, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Gemini API call error", "error", err)
		return nil, wrapCallError(err)
	}

	chunk, err := convertResponse(resp, 0)
	if err != nil {
		return nil, err
	}
	if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: empty content in response", llm.ErrInvalidResponse)
	}

	return &llm.Response{Content: chunk.Content, ToolCalls: chunk.ToolCalls}, nil
}

// Stream performs one GenerateContentStream call.
func (p *Provider) Stream(ctx context.Context, req llm.Request, onChunk llm.ChunkFunc) error {
	contents, config, err := buildRequest(req)
	if err != nil {
		return err
	}

	calls := 0
	for resp, err := range p.models.GenerateContentStream(ctx, p.model, contents, config) {
		if err != nil {
			p.logger.ErrorContext(ctx, "Gemini stream error", "error", err)
			return wrapCallError(err)
		}

		chunk, err := convertResponse(resp, calls)
		if err != nil {
			return err
		}
		calls += len(chunk.ToolCalls)

		if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}

	return nil
}

func wrapCallError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", llm.ErrTransient, err)
}
