package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/client"
	"github.com/Sternrassler/scrollfeed/pkg/logging"
	"github.com/Sternrassler/scrollfeed/pkg/metrics"
	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/Sternrassler/scrollfeed/pkg/ratelimit"
	"github.com/Sternrassler/scrollfeed/pkg/scroll"
	"github.com/Sternrassler/scrollfeed/pkg/viewport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrTooManyFailures is returned when consecutive fetches keep failing.
var ErrTooManyFailures = errors.New("too many consecutive failed fetches")

// run follows cfg.Endpoint until it is exhausted, cfg.MaxPages is reached or
// ctx is cancelled. Each record is written to out as one line.
func run(ctx context.Context, cfg Config, out io.Writer) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{Level: level, Pretty: cfg.Pretty})
	logger := logging.NewLogger("scrollfeed")

	limiter, closeLimiter, err := newRateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	clientCfg := client.DefaultConfig(cfg.Endpoint)
	clientCfg.LimitParam = cfg.LimitParam
	clientCfg.PageParam = cfg.PageParam
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Timeout = cfg.Timeout
	clientCfg.RateLimiter = limiter
	loader, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create page loader: %w", err)
	}

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, logger)
		defer stop()
	}

	opts := viewport.Options{Threshold: cfg.Threshold, RootMargin: cfg.RootMargin}
	if err := opts.Validate(); err != nil {
		return err
	}

	vp := viewport.New(float64(cfg.ViewportRows))
	defer vp.Close()
	sentinel := vp.NewElement(0, 1)

	done := make(chan struct{})
	defer close(done)
	updates := make(chan scroll.Snapshot, 16)

	ctrl, err := scroll.New(ctx, loader, scroll.Config{
		PageSize: cfg.PageSize,
		OnChange: func(s scroll.Snapshot) {
			select {
			case updates <- s:
			case <-done:
			}
		},
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	logger.Info().
		Str("endpoint", loader.URL(pagination.PageRequest{Page: 1, Size: cfg.PageSize})).
		Str("controller_id", ctrl.ID()).
		Int("page_size", cfg.PageSize).
		Msg("Following list")

	if err := ctrl.Start(); err != nil {
		return err
	}
	if err := ctrl.AttachSentinel(sentinel.Sentinel(opts)); err != nil {
		return fmt.Errorf("failed to attach sentinel: %w", err)
	}

	var (
		printed  int
		failures int
		prev     = ctrl.Snapshot()
	)
	for {
		var snap scroll.Snapshot
		select {
		case <-ctx.Done():
			logger.Info().Int("records", printed).Msg("Interrupted")
			return nil
		case snap = <-updates:
		}

		if len(snap.Records) < printed {
			printed = 0
		}
		for _, line := range renderRecords(snap.Records[printed:]) {
			fmt.Fprintln(out, line)
		}
		printed = len(snap.Records)

		if snap.IsLoading {
			prev = snap
			continue
		}

		failed := prev.IsLoading && snap.HasMore &&
			snap.CurrentPage == prev.CurrentPage && len(snap.Records) == len(prev.Records)
		prev = snap

		switch {
		case !snap.HasMore:
			fmt.Fprintf(out, "-- end of list: %d records --\n", printed)
			return nil
		case failed:
			failures++
			if failures >= cfg.MaxFailures {
				return fmt.Errorf("%w: %d", ErrTooManyFailures, failures)
			}
			logger.Warn().Int("failures", failures).Dur("retry_in", cfg.RetryDelay).Msg("Load failed, scrolling again")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.RetryDelay):
			}
		case cfg.MaxPages > 0 && snap.CurrentPage >= cfg.MaxPages:
			fmt.Fprintf(out, "-- stopped after %d pages: %d records --\n", snap.CurrentPage, printed)
			return nil
		default:
			failures = 0
		}

		// The reader follows the bottom of the list: the sentinel sits
		// right after the last record and the viewport scrolls to it.
		vp.SetContentHeight(float64(len(snap.Records) + 1))
		sentinel.SetBounds(float64(len(snap.Records)), 1)
		vp.ScrollToEnd()
	}
}

// renderRecords formats each record as one output line.
func renderRecords(records []pagination.Record) []string {
	return lo.Map(records, func(rec pagination.Record, _ int) string {
		return formatRecord(rec)
	})
}

// formatRecord renders a record as "<id>  <title>", falling back to the raw
// body when there is no string title.
func formatRecord(rec pagination.Record) string {
	var title string
	if rec.Field("title", &title) && title != "" {
		return fmt.Sprintf("%6s  %s", rec.ID, title)
	}
	return fmt.Sprintf("%6s  %s", rec.ID, rec.Body)
}

// newRateLimiter builds the tracker, backed by Redis when cfg.RedisAddr is set.
func newRateLimiter(ctx context.Context, cfg Config, logger zerolog.Logger) (*ratelimit.Tracker, func(), error) {
	rlCfg := ratelimit.DefaultConfig()
	closeFn := func() {}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Sharing rate limit state via Redis")
		rlCfg.Store = ratelimit.NewRedisStore(rdb, ratelimit.DefaultKeyPrefix)
		closeFn = func() { _ = rdb.Close() }
	}

	tracker := ratelimit.NewTracker(rlCfg, logging.NewLogger("rate-limit"))
	return tracker, closeFn, nil
}

// serveMetrics exposes /metrics on addr until the returned stop is called.
func serveMetrics(addr string, logger zerolog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
