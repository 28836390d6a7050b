package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrBlocked is returned when the upstream budget is exhausted.
var ErrBlocked = errors.New("request blocked: upstream rate limit exhausted")

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.With(metrics.Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "scrollfeed_rate_limit_remaining",
		Help: "Requests remaining in the current upstream rate limit window",
	}, []string{"host"})

	rateLimitBlocksTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "scrollfeed_rate_limit_blocks_total",
		Help: "Total number of page fetches blocked by an exhausted upstream budget",
	}, []string{"host"})

	rateLimitThrottlesTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "scrollfeed_rate_limit_throttles_total",
		Help: "Total number of page fetches delayed by a low upstream budget",
	}, []string{"host"})
)

// Config holds tracker configuration.
type Config struct {
	// Store holds the shared state (default: in-memory).
	Store Store

	// Thresholds drive block and throttle decisions.
	Thresholds Thresholds

	// ThrottleDelay is how long a throttled request waits.
	ThrottleDelay time.Duration
}

// DefaultConfig returns an in-memory tracker configuration.
func DefaultConfig() Config {
	return Config{
		Store:         NewMemoryStore(),
		Thresholds:    DefaultThresholds(),
		ThrottleDelay: 1 * time.Second,
	}
}

// Tracker monitors upstream rate limits and gates requests.
type Tracker struct {
	store  Store
	config Config
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.ThrottleDelay < 0 {
		cfg.ThrottleDelay = 0
	}

	return &Tracker{
		store:  cfg.Store,
		config: cfg,
		logger: logger,
	}
}

// GetState retrieves the current state for host.
// Returns a default healthy state if nothing has been recorded.
func (t *Tracker) GetState(ctx context.Context, host string) (*State, error) {
	state, err := t.store.Load(ctx, host)
	if err != nil {
		if errors.Is(err, ErrNoState) {
			t.logger.Debug().Str("host", host).Msg("No rate limit state, assuming healthy")
			return healthyState(), nil
		}
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}

	state.UpdateHealth(t.config.Thresholds)
	return state, nil
}

// UpdateFromHeaders records the budget advertised in response headers.
// Responses without rate limit headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	state := &State{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth(t.config.Thresholds)

	if err := t.store.Save(ctx, host, state); err != nil {
		return err
	}

	rateLimitRemaining.WithLabelValues(host).Set(float64(remain))

	th := t.config.Thresholds
	switch {
	case state.NeedsCriticalBlock(th):
		t.logger.Error().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling(th):
		t.logger.Warn().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Str("host", host).
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Upstream rate limit state updated")
	}

	return nil
}

// Allow checks whether a request to host may proceed. It returns ErrBlocked
// when the budget is exhausted and waits ThrottleDelay (or until ctx is done)
// when the budget is low.
func (t *Tracker) Allow(ctx context.Context, host string) error {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return err
	}

	th := t.config.Thresholds

	if state.NeedsCriticalBlock(th) {
		t.logger.Error().
			Str("host", host).
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Upstream rate limit critical - blocking request")

		rateLimitBlocksTotal.WithLabelValues(host).Inc()
		return fmt.Errorf("%w (resets in %s)", ErrBlocked, state.TimeUntilReset().Round(time.Second))
	}

	if state.NeedsThrottling(th) && t.config.ThrottleDelay > 0 {
		t.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Dur("delay", t.config.ThrottleDelay).
			Msg("Upstream rate limit warning - throttling request")

		rateLimitThrottlesTotal.WithLabelValues(host).Inc()

		timer := time.NewTimer(t.config.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}
