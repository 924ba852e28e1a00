// Package prompt is the model-calling boundary of the pipeline. Every call
// passes through, outermost first: the response cache, retry with jittered
// exponential backoff, and a process-wide concurrency ceiling.
package prompt

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zoning-cli/internal/cost"
	"github.com/sells-group/zoning-cli/internal/resilience"
)

// ErrInvalidRequest marks a call the provider rejected as malformed.
var ErrInvalidRequest = eris.New("invalid model request")

// IsInvalidRequest reports whether err is a non-retryable request rejection.
func IsInvalidRequest(err error) bool {
	if errors.Is(err, ErrInvalidRequest) {
		return true
	}
	return resilience.IsInvalidRequestHTTPStatus(resilience.StatusCode(err))
}

// Client calls models through the configured policies.
type Client struct {
	transport Transport
	registry  Registry
	cache     Cache
	limiter   *Limiter
	retry     resilience.RetryConfig
	metrics   *Metrics
	calc      *cost.Calculator
}

// Option configures the client.
type Option func(*Client)

// WithRegistry overrides the default model registry.
func WithRegistry(r Registry) Option {
	return func(c *Client) { c.registry = r }
}

// WithCache enables response caching.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLimiter shares a concurrency limiter across clients.
func WithLimiter(l *Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithMetrics records call metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCostCalculator logs estimated spend per uncached call.
func WithCostCalculator(calc *cost.Calculator) Option {
	return func(c *Client) { c.calc = calc }
}

// NewClient creates a prompt client over transport.
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		registry:  DefaultRegistry(),
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(DefaultMaxConcurrency, 0)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return c
}

// Complete runs one model call. A nil completion with a nil error means the
// provider rejected the request; that outcome is cached like any other.
// Transient failures are retried per the retry policy and never surface as
// a nil completion.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	spec, err := c.registry.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	key := req.CacheKey()
	if c.cache != nil {
		raw, found, err := c.cache.GetPrompt(ctx, key)
		if err != nil {
			zap.L().Warn("prompt: cache read failed", zap.String("model", req.Model), zap.Error(err))
		} else if found {
			if comp, err := decodeCompletion(raw); err == nil {
				c.metrics.CacheHits.Inc()
				zap.L().Debug("prompt: cache hit", zap.String("model", req.Model), zap.String("key", key))
				return comp.clone(), nil
			}
		}
		c.metrics.CacheMisses.Inc()
	}

	retryCfg := c.retry
	retryCfg.ShouldRetry = resilience.IsTransient
	logRetry := resilience.RetryLogger(string(spec.Provider), spec.Name)
	retryCfg.OnRetry = func(attempt int, err error) {
		c.metrics.Retries.WithLabelValues(spec.Name).Inc()
		logRetry(attempt, err)
	}

	comp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Completion, error) {
		return c.call(ctx, spec, req)
	})
	switch {
	case err == nil:
		if comp != nil {
			c.logCost(spec.Name, comp.Usage)
		}
	case IsInvalidRequest(err):
		zap.L().Warn("prompt: invalid request", zap.String("model", spec.Name), zap.Error(err))
		comp = nil
	default:
		return nil, eris.Wrapf(err, "prompt: complete %s", spec.Name)
	}

	if c.cache != nil {
		if err := c.store(ctx, key, spec.Name, comp); err != nil {
			zap.L().Warn("prompt: cache write failed", zap.String("model", spec.Name), zap.Error(err))
		}
	}
	return comp.clone(), nil
}

func (c *Client) call(ctx context.Context, spec ModelSpec, req Request) (*Completion, error) {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	c.metrics.InFlight.Inc()
	defer c.metrics.InFlight.Dec()

	comp, err := c.transport.Generate(ctx, spec, req)
	switch {
	case err == nil:
		c.metrics.Calls.WithLabelValues(spec.Name, "ok").Inc()
	case IsInvalidRequest(err):
		c.metrics.Calls.WithLabelValues(spec.Name, "invalid").Inc()
	case resilience.IsTransient(err):
		c.metrics.Calls.WithLabelValues(spec.Name, "transient").Inc()
	default:
		c.metrics.Calls.WithLabelValues(spec.Name, "error").Inc()
	}
	return comp, err
}

func (c *Client) store(ctx context.Context, key, model string, comp *Completion) error {
	b, err := encodeCompletion(comp)
	if err != nil {
		return err
	}
	return c.cache.SetPrompt(ctx, key, model, b)
}

func (c *Client) logCost(model string, u cost.Usage) {
	if c.calc == nil {
		return
	}
	usd := c.calc.Model(model, u)
	c.metrics.CostUSD.WithLabelValues(model).Add(usd)
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.Int("input_tokens", u.Input),
		zap.Int("output_tokens", u.Output),
		zap.Int("cache_write_tokens", u.CacheWrite),
		zap.Int("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", usd),
	)
}
