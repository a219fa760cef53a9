// internal/llmclient/transport.go
package llmclient

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/config"
	"github.com/undefined996/page-agent/internal/llmutil"
)

// transport carries what both providers share: the request pacing, the
// retry policy and the decision decoding.
type transport struct {
	cfg     config.LLMConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	// backoffFactory is swapped in tests to avoid real sleeps.
	backoffFactory func() backoff.BackOff
}

func newTransport(cfg config.LLMConfig, logger *zap.Logger) transport {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxElapsed := cfg.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return transport{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// retry runs op under the rate limiter and the retry policy. op signals a
// non-retryable failure by wrapping it with backoff.Permanent.
func (t *transport) retry(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		if err := t.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attemptCtx := ctx
		if t.cfg.APITimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, t.cfg.APITimeout)
			defer cancel()
		}
		return op(attemptCtx)
	}
	notify := func(err error, wait time.Duration) {
		t.logger.Warn("Model request failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(t.backoffFactory(), ctx), notify)
}

// decode turns the raw model text into a decision.
func decode(schema *agent.DecisionSchema, output string) (agent.Decision, error) {
	if schema == nil {
		return agent.Decision{}, errors.New("invoke request carries no decision schema")
	}
	return schema.Decode([]byte(llmutil.ExtractJSON(output)))
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(code int) bool {
	return code == 429 || code >= 500
}

// optionalCount converts a provider counter into an optional usage field.
func optionalCount[N int | int32 | int64](n N) *int {
	if n <= 0 {
		return nil
	}
	v := int(n)
	return &v
}

// clampInt32 bounds n for providers that take 32-bit counts.
func clampInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}
