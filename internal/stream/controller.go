package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Controller errors
var (
	// ErrSessionStarted is returned when Run is given a session that is not pending.
	ErrSessionStarted = errors.New("stream session already started")

	// ErrNilProvider is returned when the controller has no provider.
	ErrNilProvider = errors.New("provider cannot be nil")

	// errStopped ends a provider stream from inside the chunk callback.
	errStopped = errors.New("stream stopped")
)

// EmitFunc delivers an effect to the caller. It is awaited before the next
// chunk is pulled. An error means the caller is gone and cancels the session.
type EmitFunc func(Effect) error

// ControllerConfig tunes the turn loop.
type ControllerConfig struct {
	// MaxTurns bounds provider calls per run. Tool calls requested on the
	// last turn are not executed.
	MaxTurns int
	// ToolParallelism bounds concurrent tool calls in one turn.
	ToolParallelism int
	// ToolTimeout bounds one tool call. Zero means no timeout.
	ToolTimeout time.Duration
	Temperature float32
	MaxTokens   int
}

// Result is the outcome of Run.
type Result struct {
	SessionID string
	Text      string
	Status    State
	Turns     int
	ToolCalls int
	Usage     llm.Usage
}

// Controller drives sessions through provider calls and tool turns.
type Controller struct {
	provider llm.Provider
	tools    *Registry
	cfg      ControllerConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewController creates a controller. tools may be nil.
func NewController(
	provider llm.Provider,
	tools *Registry,
	cfg ControllerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Controller, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	if cfg.ToolParallelism <= 0 {
		cfg.ToolParallelism = 4
	}

	return &Controller{
		provider: provider,
		tools:    tools,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "stream_controller"),
	}, nil
}

// Run streams a response to messages, executing requested tools between
// turns until the model answers without tool calls or MaxTurns is reached.
//
// Cancellation is checked before each turn and each chunk; once observed, no
// further chunk effects are emitted and Run returns the partial text with
// Status StateCancelled and a nil error. A provider failure emits an error
// effect and is returned; chunks already emitted stay emitted.
func (c *Controller) Run(ctx context.Context, sess *Session, messages []llm.Message, emit EmitFunc) (Result, error) {
	log := c.logger.With("session_id", sess.ID())

	if sess.State() != StatePending {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionStarted, sess.ID())
	}
	sess.apply(Event{Kind: EventStart})

	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	sess.setAbort(abort)
	if sess.IsCancelled() {
		abort()
	}

	history := append([]llm.Message(nil), messages...)
	result := Result{SessionID: sess.ID()}

	for {
		if sess.IsCancelled() {
			return c.finish(log, sess, Event{Kind: EventCancel, Text: sess.Text()}, emit, result), nil
		}

		result.Turns = sess.nextTurn()
		resp, err := c.streamTurn(runCtx, sess, history, emit)

		if sess.IsCancelled() {
			return c.finish(log, sess, Event{Kind: EventCancel, Text: sess.Text()}, emit, result), nil
		}
		if err != nil {
			log.ErrorContext(ctx, "stream turn failed", "turn", result.Turns, "error", err)
			return c.finish(log, sess, Event{Kind: EventFail, Err: err}, emit, result), err
		}

		result.Usage.PromptTokens += resp.Usage.PromptTokens
		result.Usage.CompletionTokens += resp.Usage.CompletionTokens

		if len(resp.ToolCalls) == 0 {
			return c.finish(log, sess, Event{Kind: EventFinish, Text: sess.Text()}, emit, result), nil
		}
		if result.Turns >= c.cfg.MaxTurns {
			log.WarnContext(ctx, "tool turn limit reached, finishing",
				"turns", result.Turns,
				"pending_tool_calls", len(resp.ToolCalls))
			return c.finish(log, sess, Event{Kind: EventFinish, Text: sess.Text()}, emit, result), nil
		}

		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		history = append(history, c.runTools(runCtx, log, resp.ToolCalls)...)
		result.ToolCalls += len(resp.ToolCalls)
	}
}

// streamTurn performs one provider call, emitting chunk effects as they
// arrive.
func (c *Controller) streamTurn(ctx context.Context, sess *Session, history []llm.Message, emit EmitFunc) (*llm.Response, error) {
	req := llm.Request{
		Messages:    history,
		Tools:       c.tools.Specs(),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var resp llm.Response
	err := c.provider.Stream(ctx, req, func(chunk llm.Chunk) error {
		if sess.IsCancelled() {
			return errStopped
		}
		if err := sess.waitWhilePaused(ctx); err != nil {
			return err
		}
		if sess.IsCancelled() {
			return errStopped
		}

		resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Content == "" {
			return nil
		}

		resp.Content += chunk.Content
		for _, effect := range sess.apply(Event{Kind: EventChunk, Text: chunk.Content}) {
			if err := emit(effect); err != nil {
				c.logger.Info("caller stopped receiving, cancelling",
					"session_id", sess.ID(), "error", err)
				sess.Cancel()
				return errStopped
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// runTools executes calls in parallel. Every call yields one tool message;
// failures become error text for the model instead of failing the turn.
func (c *Controller) runTools(ctx context.Context, log *slog.Logger, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))

	var g errgroup.Group
	g.SetLimit(c.cfg.ToolParallelism)

	for i, call := range calls {
		g.Go(func() error {
			out, err := c.invokeTool(ctx, call)

			outcome := "ok"
			var toolErr *llm.ToolExecutionError
			switch {
			case errors.Is(err, llm.ErrUnknownTool):
				outcome = "unknown"
			case errors.As(err, &toolErr):
				outcome = "error"
			}
			if err != nil {
				log.WarnContext(ctx, "tool call failed", "tool", call.Name, "error", err)
			}
			c.metrics.ToolCall(call.Name, outcome)

			results[i] = llm.Message{
				Role:       llm.RoleTool,
				Content:    toolResultContent(out, err),
				ToolCallID: call.ID,
				Name:       call.Name,
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Controller) invokeTool(ctx context.Context, call llm.ToolCall) (out string, err error) {
	tool, ok := c.tools.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", llm.ErrUnknownTool, call.Name)
	}

	args, err := normalizeArgs(call.Arguments)
	if err != nil {
		return "", &llm.ToolExecutionError{Tool: call.Name, Err: err}
	}

	if c.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ToolTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &llm.ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = tool.Invoke(ctx, args)
	if err != nil {
		return "", &llm.ToolExecutionError{Tool: call.Name, Err: err}
	}
	return out, nil
}

// finish applies a terminal event and delivers its effects. Delivery errors
// are logged only; the session is over either way.
func (c *Controller) finish(log *slog.Logger, sess *Session, ev Event, emit EmitFunc, result Result) Result {
	for _, effect := range sess.apply(ev) {
		if err := emit(effect); err != nil {
			log.Debug("final effect not delivered", "effect", effect.Kind, "error", err)
		}
	}
	result.Status = sess.State()
	result.Text = sess.Text()
	return result
}
