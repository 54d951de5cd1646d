package llm

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/metrics"
	"github.com/dyike/stockbot/internal/tracing"
	"github.com/dyike/stockbot/pkg/retry"
)

// Instrumented decorates a Completer with a per-call timeout, retries,
// metrics, a trace span and transcript logging.
type Instrumented struct {
	next      Completer
	provider  string
	model     string
	timeout   time.Duration
	policy    retry.Policy
	collector *metrics.Collector
}

func NewInstrumented(next Completer, provider, model string, timeout time.Duration, collector *metrics.Collector) *Instrumented {
	return &Instrumented{
		next:      next,
		provider:  provider,
		model:     model,
		timeout:   timeout,
		policy:    retry.DefaultPolicy(),
		collector: collector,
	}
}

// WithPolicy replaces the retry policy.
func (c *Instrumented) WithPolicy(p retry.Policy) *Instrumented {
	c.policy = p
	return c
}

func (c *Instrumented) Complete(ctx context.Context, prompt string) (string, error) {
	purpose := PurposeFrom(ctx)
	ctx, span := tracing.StartSpan(ctx, "llm.complete",
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.purpose", purpose),
	)

	logger.LogLLMRequest(c.provider, c.model, purpose, prompt)
	start := time.Now()

	out, err := retry.DoValue(ctx, c.attemptPolicy(ctx), func(ctx context.Context) (string, error) {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		text, err := c.next.Complete(callCtx, prompt)
		if err != nil {
			logger.Debug("llm attempt failed",
				logger.String("provider", c.provider),
				logger.String("purpose", purpose),
				logger.Err(err),
			)
		}
		return text, err
	})

	elapsed := time.Since(start)
	logger.LogLLMResponse(c.provider, c.model, purpose, out, elapsed, err)
	c.collector.ObserveLLM(c.provider, purpose, elapsed, err)
	tracing.End(span, err)
	return out, err
}

// attemptPolicy also retries attempts that hit the per-call timeout while the
// caller's context is still live.
func (c *Instrumented) attemptPolicy(parent context.Context) retry.Policy {
	p := c.policy
	base := p.IsRetryable
	if base == nil {
		base = retry.DefaultIsRetryable
	}
	p.IsRetryable = func(err error) bool {
		if parent.Err() != nil {
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		return base(err)
	}
	return p
}
