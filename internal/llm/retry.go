package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig bounds provider retries.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialDelay is the first backoff interval.
	InitialDelay time.Duration
	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration
	// RequestTimeout bounds one attempt. Zero means no per-attempt timeout.
	RequestTimeout time.Duration
	// OnRetry is called before each retry when set.
	OnRetry func()
}

// RetryingProvider retries transient failures of the wrapped provider with
// capped exponential backoff and jitter.
//
// A stream is only retried while no chunk has reached the caller, so output
// is never duplicated.
type RetryingProvider struct {
	next   Provider
	cfg    RetryConfig
	logger *slog.Logger
}

var _ Provider = (*RetryingProvider)(nil)

// NewRetryingProvider wraps next.
func NewRetryingProvider(next Provider, cfg RetryConfig, logger *slog.Logger) *RetryingProvider {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingProvider{
		next:   next,
		cfg:    cfg,
		logger: logger.With("component", "llm_retry"),
	}
}

// Invoke calls the wrapped provider, retrying transient errors.
func (p *RetryingProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (*Response, error) {
		attempt++
		attemptCtx, cancel := p.attemptContext(ctx)
		defer cancel()

		resp, err := p.next.Invoke(attemptCtx, req)
		if err != nil {
			return nil, p.classify(ctx, err, attempt)
		}
		return resp, nil
	}, p.options()...)
}

// Stream calls the wrapped provider, retrying transient errors that happen
// before the first chunk.
func (p *RetryingProvider) Stream(ctx context.Context, req Request, onChunk ChunkFunc) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		attemptCtx, cancel := p.attemptContext(ctx)
		defer cancel()

		emitted := false
		err := p.next.Stream(attemptCtx, req, func(c Chunk) error {
			emitted = true
			return onChunk(c)
		})
		if err == nil {
			return struct{}{}, nil
		}
		if emitted {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, p.classify(ctx, err, attempt)
	}, p.options()...)
	return err
}

func (p *RetryingProvider) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *RetryingProvider) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialDelay
	b.MaxInterval = p.cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxRetries + 1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			p.logger.Warn("provider call failed, retrying",
				"error", err,
				"delay_ms", delay.Milliseconds())
			if p.cfg.OnRetry != nil {
				p.cfg.OnRetry()
			}
		}),
	}
}

// classify marks non-retryable errors permanent. A cancelled parent context
// is permanent too; a timed-out attempt is transient.
func (p *RetryingProvider) classify(ctx context.Context, err error, attempt int) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	if !IsRetryable(err) {
		p.logger.Warn("permanent provider error, not retrying",
			"attempt", attempt,
			"error", err)
		return backoff.Permanent(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: attempt timed out: %v", ErrTransient, err)
	}
	return err
}
