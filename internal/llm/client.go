package llm

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/metrics"
	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/circuitbreaker"
	"github.com/essay-grader/backend/pkg/ratelimit"
	"github.com/essay-grader/backend/pkg/retry"
	"github.com/essay-grader/backend/pkg/utils"
)

// Cache stores assembled responses keyed by backend, model, role and prompt.
type Cache interface {
	Name() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Options struct {
	// Timeout bounds one backend exchange. Zero means unbounded.
	Timeout time.Duration
	// MaxAttempts retries connection failures. Timeouts and malformed streams are not retried.
	MaxAttempts int
	RetryDelay  time.Duration
	Limiter     *ratelimit.RateLimiter
	Breaker     *circuitbreaker.CircuitBreaker
	Cache       Cache
	Logger      *zap.Logger
}

// Client is the grading client. It holds no per-call state and is safe for
// concurrent use; every call either returns the whole response or an error
// wrapping ErrConnectionFailure, ErrTimeout or ErrMalformedStream.
type Client struct {
	backend Backend
	opts    Options
	tracer  trace.Tracer
	logger  *zap.Logger
}

func NewClient(backend Backend, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	opts.Logger.Info("Grading client initialized",
		zap.String("backend", backend.Name()),
		zap.String("model", backend.Model()),
		zap.Duration("timeout", opts.Timeout),
		zap.Int("max_attempts", opts.MaxAttempts),
		zap.Bool("cache", opts.Cache != nil),
	)

	return &Client{
		backend: backend,
		opts:    opts,
		tracer:  otel.Tracer("github.com/essay-grader/backend/internal/llm"),
		logger:  opts.Logger,
	}
}

// halfOpenProbes admits one essay's whole competency fan-out plus its
// aggregator call while the breaker tests a recovered backend.
const halfOpenProbes = models.NumCompetencies + 1

// NewBreaker builds a circuit breaker that trips on transport failures and
// timeouts only. Calls made while it is open wait for the cooldown instead of
// failing. A threshold of zero disables it.
func NewBreaker(name string, failures int, cooldown time.Duration, log *zap.Logger) *circuitbreaker.CircuitBreaker {
	if failures <= 0 {
		return nil
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		FailureThreshold: uint32(failures),
		Cooldown:         cooldown,
		HalfOpenProbes:   halfOpenProbes,
		IsFailure: func(err error) bool {
			return errors.Is(err, ErrConnectionFailure) || errors.Is(err, ErrTimeout)
		},
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: log,
	})
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.Generate", trace.WithAttributes(
		attribute.String("grading.role", req.Role),
		attribute.String("llm.backend", c.backend.Name()),
		attribute.String("llm.model", c.backend.Model()),
	))
	defer span.End()

	key := c.cacheKey(req)
	if text, ok := c.lookup(ctx, key, req.Role); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		metrics.GradingCallsTotal.WithLabelValues(req.Role, "cache_hit").Inc()
		return text, nil
	}

	start := time.Now()
	text, err := retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:     c.opts.MaxAttempts,
		InitialDelay:    c.opts.RetryDelay,
		Multiplier:      2.0,
		JitterFraction:  0.1,
		RetryableErrors: []error{ErrConnectionFailure},
		Logger:          c.logger,
	}, func(attempt int) (string, error) {
		span.SetAttributes(attribute.Int("llm.attempt", attempt))
		return c.once(ctx, req)
	})
	elapsed := time.Since(start)

	metrics.GradingCallDuration.WithLabelValues(req.Role).Observe(elapsed.Seconds())
	metrics.GradingCallsTotal.WithLabelValues(req.Role, Outcome(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Outcome(err))
		c.logger.Warn("Grading call failed",
			zap.String("role", req.Role),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return "", err
	}

	c.logger.Debug("Grading call completed",
		zap.String("role", req.Role),
		zap.Duration("elapsed", elapsed),
		zap.Int("response_length", len(text)),
	)

	if c.opts.Cache != nil && text != "" {
		if err := c.opts.Cache.Set(ctx, key, text); err != nil {
			c.logger.Warn("Failed to cache response", zap.String("role", req.Role), zap.Error(err))
		}
	}

	return text, nil
}

// Forget drops a cached response, typically one that later failed to parse.
func (c *Client) Forget(ctx context.Context, req Request) {
	if c.opts.Cache == nil {
		return
	}
	if err := c.opts.Cache.Delete(ctx, c.cacheKey(req)); err != nil {
		c.logger.Warn("Failed to evict cached response", zap.String("role", req.Role), zap.Error(err))
	}
}

func (c *Client) once(ctx context.Context, req Request) (string, error) {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx, c.backend.Name()); err != nil {
			return "", retry.Permanent(classify(ctx, err))
		}
	}

	if c.opts.Breaker == nil {
		return c.exchange(ctx, req)
	}

	// A tripped breaker delays the call; only the exchange itself can fail it.
	for {
		if err := c.opts.Breaker.Wait(ctx); err != nil {
			return "", retry.Permanent(err)
		}
		text, err := circuitbreaker.ExecuteWithResult(ctx, c.opts.Breaker, func() (string, error) {
			return c.exchange(ctx, req)
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			c.logger.Debug("Breaker rejected call, waiting", zap.String("role", req.Role), zap.Error(err))
			continue
		}
		return text, err
	}
}

// exchange performs one backend call bounded by the per-call timeout.
func (c *Client) exchange(ctx context.Context, req Request) (string, error) {
	callCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	text, err := c.backend.Complete(callCtx, req)
	return text, classify(callCtx, err)
}

func (c *Client) lookup(ctx context.Context, key, role string) (string, bool) {
	if c.opts.Cache == nil {
		return "", false
	}
	text, ok, err := c.opts.Cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Response cache lookup failed", zap.String("role", role), zap.Error(err))
		return "", false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues(c.opts.Cache.Name()).Inc()
		return "", false
	}
	metrics.CacheHits.WithLabelValues(c.opts.Cache.Name()).Inc()
	return text, true
}

func (c *Client) cacheKey(req Request) string {
	return "grading:" + utils.HashParts(c.backend.Name(), c.backend.Model(), req.Role, req.Instructions, req.Input)
}
