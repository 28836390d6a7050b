package scroll

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("scroll controller closed")

	// ErrInvalidPageSize is returned for page sizes outside [1, MaxPageSize].
	ErrInvalidPageSize = errors.New("invalid page size")
)

// Sentinel is a marker element whose visibility drives page loads.
// Observe must call fn with the current visibility and on every later
// visibility event until the returned release func is called. Attaching the
// same comparable value twice is a no-op; non-comparable values are always
// treated as a new sentinel.
type Sentinel interface {
	Observe(fn func(visible bool)) (release func(), err error)
}

// Snapshot is a read-only view of a controller's state, handed to the
// rendering layer. Records must not be modified.
type Snapshot struct {
	Records     []pagination.Record
	CurrentPage int
	PageSize    int
	IsLoading   bool
	HasMore     bool
	Phase       Phase
}

// Config holds controller configuration.
type Config struct {
	// PageSize is the initial page size (default: pagination.DefaultPageSize).
	PageSize int

	// OnChange is called after every transition, in order, from a dedicated
	// goroutine (optional).
	OnChange func(Snapshot)
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: pagination.DefaultPageSize,
	}
}

// Controller drives one infinite-scroll list.
type Controller struct {
	id      string
	fetcher pagination.Fetcher
	ctx     context.Context
	logger  zerolog.Logger

	mu          sync.Mutex
	state       State
	started     bool
	closed      bool
	sentinel    Sentinel
	release     func()
	sentinelGen uint64

	notifier *notifier
	inflight sync.WaitGroup
}

// New creates a controller. ctx is the parent context of every page fetch.
// Nothing is fetched until Start.
func New(ctx context.Context, fetcher pagination.Fetcher, cfg Config) (*Controller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.PageSize == 0 {
		cfg.PageSize = pagination.DefaultPageSize
	}
	if err := validatePageSize(cfg.PageSize); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	c := &Controller{
		id:      id,
		fetcher: fetcher,
		ctx:     ctx,
		logger:  log.With().Str("component", "scroll-controller").Str("controller_id", id).Logger(),
		state:   NewState(cfg.PageSize),
	}
	if cfg.OnChange != nil {
		c.notifier = newNotifier(cfg.OnChange)
	}

	return c, nil
}

// ID returns the controller's unique id, as used in logs.
func (c *Controller) ID() string {
	return c.id
}

// Start performs the mount fetch of page 1. Later calls are no-ops.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.triggerLocked("start")
	return nil
}

// OnVisible handles a visibility event for the sentinel. Only visible=true
// events can start a fetch; all but the first while a fetch is outstanding
// are no-ops. It reports whether a fetch was started.
func (c *Controller) OnVisible(visible bool) bool {
	if !visible {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		suppressedTotal.WithLabelValues("closed").Inc()
		return false
	}
	c.started = true
	return c.triggerLocked("sentinel")
}

// triggerLocked runs the Idle -> Loading transition. Must be called with
// c.mu held; it unlocks before returning.
func (c *Controller) triggerLocked(trigger string) bool {
	next, req, ok, reason := OnSentinelVisible(c.state)
	if !ok {
		c.mu.Unlock()
		suppressedTotal.WithLabelValues(reason).Inc()
		c.logger.Debug().
			Str("trigger", trigger).
			Str("reason", reason).
			Msg("Trigger suppressed")
		return false
	}

	c.state = next
	c.launchLocked(trigger, req)
	c.publishLocked()
	c.mu.Unlock()
	return true
}

// launchLocked starts the fetch for req tagged with the current generation.
func (c *Controller) launchLocked(trigger string, req pagination.PageRequest) {
	gen := c.state.Generation
	fetchesTotal.WithLabelValues(trigger).Inc()

	c.logger.Debug().
		Str("trigger", trigger).
		Int("page", req.Page).
		Int("size", req.Size).
		Uint64("generation", gen).
		Msg("Fetching page")

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		start := time.Now()
		res, err := c.fetcher.FetchPage(c.ctx, req)
		c.complete(gen, req, res, err, time.Since(start))
	}()
}

// complete applies a fetch outcome unless it belongs to a stale generation
// or the controller is closed.
func (c *Controller) complete(gen uint64, req pagination.PageRequest, res pagination.Result, err error, took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.state.Generation {
		discardedTotal.Inc()
		c.logger.Debug().
			Int("page", req.Page).
			Uint64("generation", gen).
			Bool("closed", c.closed).
			Msg("Discarding stale page result")
		return
	}

	if err != nil {
		c.state = OnFetchError(c.state)
		pagesTotal.WithLabelValues("failed").Inc()
		c.logger.Warn().
			Err(err).
			Int("page", req.Page).
			Int("size", req.Size).
			Dur("duration", took).
			Str("phase", PhaseFailed.String()).
			Msg("Page fetch failed, waiting for next trigger")
		c.publishLocked()
		return
	}

	c.state = OnPageResult(c.state, res)
	if res.Empty() {
		pagesTotal.WithLabelValues("empty").Inc()
		c.logger.Info().
			Int("page", req.Page).
			Int("records", len(c.state.Records)).
			Msg("List exhausted")
	} else {
		pagesTotal.WithLabelValues("records").Inc()
		c.logger.Debug().
			Int("page", req.Page).
			Int("received", len(res.Records)).
			Func(func(e *zerolog.Event) { e.Strs("ids", pagination.IDs(res.Records)) }).
			Int("records", len(c.state.Records)).
			Dur("duration", took).
			Msg("Page applied")
	}
	c.publishLocked()
}

// SetPageSize changes the page size. A different size reloads the list from
// page 1; the same size is a no-op.
func (c *Controller) SetPageSize(size int) error {
	if err := validatePageSize(size); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if size == c.state.PageSize {
		c.mu.Unlock()
		return nil
	}
	c.logger.Info().
		Int("from", c.state.PageSize).
		Int("to", size).
		Msg("Page size changed")
	c.reloadLocked(size)
	return nil
}

// Reload clears the list and fetches page 1 again with the current size.
func (c *Controller) Reload() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.reloadLocked(c.state.PageSize)
	return nil
}

// reloadLocked must be called with c.mu held; it unlocks before returning.
func (c *Controller) reloadLocked(size int) {
	if c.state.IsLoading {
		c.logger.Debug().
			Int("page", c.state.Pending.Page).
			Msg("Reload abandons in-flight fetch")
	}

	var req pagination.PageRequest
	c.state, req = OnReloadRequested(c.state, size)
	c.started = true
	reloadsTotal.Inc()

	c.launchLocked("reload", req)
	c.publishLocked()
	c.mu.Unlock()
}

// AttachSentinel observes s, releasing any previously attached sentinel
// first. Attaching the sentinel already observed does nothing.
func (c *Controller) AttachSentinel(s Sentinel) error {
	if s == nil {
		c.DetachSentinel()
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if sameSentinel(c.sentinel, s) {
		c.mu.Unlock()
		return nil
	}
	old := c.release
	c.sentinel = s
	c.release = nil
	c.sentinelGen++
	gen := c.sentinelGen
	c.mu.Unlock()

	if old != nil {
		old()
	}

	release, err := s.Observe(func(visible bool) {
		c.onSentinel(gen, visible)
	})
	if err != nil {
		c.mu.Lock()
		if c.sentinelGen == gen {
			c.sentinel = nil
		}
		c.mu.Unlock()
		return fmt.Errorf("observe sentinel: %w", err)
	}

	c.mu.Lock()
	if c.closed || c.sentinelGen != gen {
		// detached or replaced while subscribing
		c.mu.Unlock()
		release()
		if c.isClosed() {
			return ErrClosed
		}
		return nil
	}
	c.release = release
	c.mu.Unlock()

	c.logger.Debug().Msg("Sentinel attached")
	return nil
}

// DetachSentinel releases the current sentinel observation, if any.
func (c *Controller) DetachSentinel() {
	c.mu.Lock()
	release := c.release
	detached := c.sentinel != nil
	c.sentinel = nil
	c.release = nil
	c.sentinelGen++
	c.mu.Unlock()

	if release != nil {
		release()
	}
	if detached {
		c.logger.Debug().Msg("Sentinel detached")
	}
}

// onSentinel filters events from superseded subscriptions.
func (c *Controller) onSentinel(gen uint64, visible bool) {
	c.mu.Lock()
	current := c.sentinelGen == gen
	c.mu.Unlock()

	if current {
		c.OnVisible(visible)
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshotOf(c.state)
}

// Close releases the sentinel observation and stops notifications. Fetches
// already in flight run to completion but their results are discarded.
// Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state.Generation++
	release := c.release
	c.sentinel = nil
	c.release = nil
	c.sentinelGen++
	c.mu.Unlock()

	if release != nil {
		release()
	}
	if c.notifier != nil {
		c.notifier.close()
	}

	c.logger.Debug().Msg("Controller closed")
}

// Wait blocks until every fetch started so far has returned.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// sameSentinel compares a and b without panicking on non-comparable
// dynamic types.
func sameSentinel(a, b Sentinel) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) publishLocked() {
	if c.notifier != nil {
		c.notifier.push(snapshotOf(c.state))
	}
}

func snapshotOf(s State) Snapshot {
	return Snapshot{
		Records:     s.Records[:len(s.Records):len(s.Records)],
		CurrentPage: s.CurrentPage,
		PageSize:    s.PageSize,
		IsLoading:   s.IsLoading,
		HasMore:     s.HasMore,
		Phase:       s.Phase(),
	}
}

func validatePageSize(size int) error {
	if _, ok := pagination.IsNormalizedPageSize(size, pagination.MaxPageSize); !ok {
		return fmt.Errorf("%w: %d (must be within [1, %d])", ErrInvalidPageSize, size, pagination.MaxPageSize)
	}
	return nil
}
