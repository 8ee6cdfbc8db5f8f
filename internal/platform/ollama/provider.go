package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/phrazzld/scribe/internal/llm"
)

// chatAPI is the subset of *api.Client the provider calls.
type chatAPI interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Config configures the Ollama provider.
type Config struct {
	Host       string
	ModelName  string
	HTTPClient *http.Client
}

// Provider implements llm.Provider for Ollama.
type Provider struct {
	client chatAPI
	model  string
	logger *slog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates an Ollama provider for the server at cfg.Host.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", llm.ErrInvalidConfig)
	}

	base, err := url.Parse(cfg.Host)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid ollama host %q", llm.ErrInvalidConfig, cfg.Host)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return newWithClient(api.NewClient(base, httpClient), cfg.ModelName, logger), nil
}

func newWithClient(client chatAPI, model string, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		model:  model,
		logger: logger.With("component", "ollama", "model", model),
	}
}

// Invoke performs one non-streaming chat call.
func (p *Provider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	chatReq, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var out llm.Response
	err = p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chunk, err := convertResponse(resp, len(out.ToolCalls))
		if err != nil {
			return err
		}
		out.Content += chunk.Content
		out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
		if chunk.Usage != nil {
			out.Usage = *chunk.Usage
		}
		return nil
	})
	if err != nil {
		return nil, p.wrapCallError(ctx, err)
	}

	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: empty content in response", llm.ErrInvalidResponse)
	}
	return &out, nil
}

// Stream performs one streaming chat call.
func (p *Provider) Stream(ctx context.Context, req llm.Request, onChunk llm.ChunkFunc) error {
	chatReq, err := p.buildRequest(req, true)
	if err != nil {
		return err
	}

	var (
		calls       int
		callbackErr error
	)
	err = p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chunk, err := convertResponse(resp, calls)
		if err != nil {
			return err
		}
		calls += len(chunk.ToolCalls)

		if chunk.Content == "" && len(chunk.ToolCalls) == 0 && chunk.Usage == nil {
			return nil
		}
		if err := onChunk(chunk); err != nil {
			callbackErr = err
			return err
		}
		return nil
	})
	if err != nil {
		if callbackErr != nil {
			return callbackErr
		}
		return p.wrapCallError(ctx, err)
	}

	return nil
}

func (p *Provider) wrapCallError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, llm.ErrInvalidResponse) {
		return err
	}

	p.logger.ErrorContext(ctx, "Ollama API call error", "error", err)

	var status api.StatusError
	if errors.As(err, &status) {
		if status.StatusCode >= http.StatusBadRequest &&
			status.StatusCode < http.StatusInternalServerError &&
			status.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", llm.ErrProvider, status.Error())
		}
	}

	return fmt.Errorf("%w: %v", llm.ErrTransient, err)
}
