package scroll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	goleak.VerifyTestMain(m)
}

type reply struct {
	res pagination.Result
	err error
}

type pendingCall struct {
	req   pagination.PageRequest
	reply chan reply
}

func (p *pendingCall) records(n int, from int) {
	p.reply <- reply{res: pagination.Result{Request: p.req, Records: records(from, n)}}
}

func (p *pendingCall) fail(err error) {
	p.reply <- reply{err: err}
}

// scriptedFetcher hands every call to the test, which decides the outcome.
type scriptedFetcher struct {
	calls chan *pendingCall
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan *pendingCall, 16)}
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, req pagination.PageRequest) (pagination.Result, error) {
	call := &pendingCall{req: req, reply: make(chan reply, 1)}
	f.calls <- call
	r := <-call.reply
	return r.res, r.err
}

func (f *scriptedFetcher) expect(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("expected a page fetch")
		return nil
	}
}

func (f *scriptedFetcher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected page fetch %v", call.req)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeSentinel lets tests fire visibility events by hand.
type fakeSentinel struct {
	mu       sync.Mutex
	fn       func(bool)
	initial  bool
	observed int
	released int
	err      error
}

func (s *fakeSentinel) Observe(fn func(bool)) (func(), error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return nil, s.err
	}
	s.fn = fn
	s.observed++
	initial := s.initial
	s.mu.Unlock()

	fn(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.fn = nil
			s.released++
		})
	}, nil
}

func (s *fakeSentinel) fire(visible bool) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(visible)
	}
}

func (s *fakeSentinel) counts() (observed, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed, s.released
}

func newController(t *testing.T, f pagination.Fetcher, size int) *Controller {
	t.Helper()
	c, err := New(context.Background(), f, Config{PageSize: size})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), nil, DefaultConfig())
	assert.Error(t, err)

	_, err = New(context.Background(), newScriptedFetcher(), Config{PageSize: -1})
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	_, err = New(context.Background(), newScriptedFetcher(), Config{PageSize: pagination.MaxPageSize + 1})
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	c, err := New(context.Background(), newScriptedFetcher(), Config{})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, pagination.DefaultPageSize, c.Snapshot().PageSize)
	assert.NotEmpty(t, c.ID())
}

func TestController_Scenarios(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	// A: mount fetches page 1
	require.NoError(t, c.Start())
	call := f.expect(t)
	assert.Equal(t, pagination.PageRequest{Page: 1, Size: 5}, call.req)
	assert.True(t, c.Snapshot().IsLoading)
	call.records(5, 1)
	c.Wait()

	snap := c.Snapshot()
	assert.Len(t, snap.Records, 5)
	assert.Equal(t, 1, snap.CurrentPage)
	assert.True(t, snap.HasMore)
	assert.Equal(t, PhaseIdle, snap.Phase)

	// B: sentinel fetches page 2
	assert.True(t, c.OnVisible(true))
	call = f.expect(t)
	assert.Equal(t, pagination.PageRequest{Page: 2, Size: 5}, call.req)
	call.records(3, 6)
	c.Wait()

	snap = c.Snapshot()
	assert.Len(t, snap.Records, 8)
	assert.Equal(t, 2, snap.CurrentPage)
	assert.True(t, snap.HasMore)

	// D: page 3 fails, state unchanged, next trigger retries page 3
	assert.True(t, c.OnVisible(true))
	call = f.expect(t)
	assert.Equal(t, 3, call.req.Page)
	call.fail(errors.New("connection reset"))
	c.Wait()

	snap = c.Snapshot()
	assert.False(t, snap.IsLoading)
	assert.Equal(t, 2, snap.CurrentPage)
	assert.True(t, snap.HasMore)
	assert.Len(t, snap.Records, 8)

	assert.True(t, c.OnVisible(true))
	call = f.expect(t)
	assert.Equal(t, 3, call.req.Page)

	// C: empty page exhausts; later triggers fetch nothing
	call.records(0, 0)
	c.Wait()

	snap = c.Snapshot()
	assert.False(t, snap.HasMore)
	assert.Equal(t, PhaseExhausted, snap.Phase)
	for i := 0; i < 5; i++ {
		assert.False(t, c.OnVisible(true))
	}
	f.expectNone(t)
}

func TestController_GuardsDuplicateTriggers(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	require.NoError(t, c.Start())
	call := f.expect(t)

	var wg sync.WaitGroup
	started := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- c.OnVisible(true)
		}()
	}
	wg.Wait()
	close(started)

	for ok := range started {
		assert.False(t, ok, "no trigger may start a fetch while one is outstanding")
	}
	f.expectNone(t)

	call.records(5, 1)
	c.Wait()

	// exactly one of a burst wins once idle again
	var winners int
	for i := 0; i < 10; i++ {
		if c.OnVisible(true) {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	f.expect(t).records(5, 6)
	c.Wait()
	assert.Equal(t, 2, c.Snapshot().CurrentPage)
}

func TestController_InvisibleEventsIgnored(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	assert.False(t, c.OnVisible(false))
	f.expectNone(t)
}

func TestController_StartIsIdempotent(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	f.expect(t).records(5, 1)
	c.Wait()

	require.NoError(t, c.Start())
	f.expectNone(t)
}

func TestController_SetPageSizeReloads(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	require.NoError(t, c.Start())
	f.expect(t).records(5, 1)
	c.Wait()
	c.OnVisible(true)
	f.expect(t).records(5, 6)
	c.Wait()
	require.Equal(t, 2, c.Snapshot().CurrentPage)

	// E: size change clears and refetches page 1 at the new size
	require.NoError(t, c.SetPageSize(10))
	snap := c.Snapshot()
	assert.Empty(t, snap.Records)
	assert.Equal(t, 1, snap.CurrentPage)
	assert.True(t, snap.HasMore)
	assert.True(t, snap.IsLoading)
	assert.Equal(t, 10, snap.PageSize)

	call := f.expect(t)
	assert.Equal(t, pagination.PageRequest{Page: 1, Size: 10}, call.req)
	call.records(10, 1)
	c.Wait()

	snap = c.Snapshot()
	assert.Len(t, snap.Records, 10)
	assert.Equal(t, 1, snap.CurrentPage)

	// same size is a no-op
	require.NoError(t, c.SetPageSize(10))
	f.expectNone(t)

	assert.ErrorIs(t, c.SetPageSize(0), ErrInvalidPageSize)
}

func TestController_ReloadDiscardsInFlightResult(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	require.NoError(t, c.Start())
	stale := f.expect(t)

	require.NoError(t, c.SetPageSize(3))
	fresh := f.expect(t)
	assert.Equal(t, pagination.PageRequest{Page: 1, Size: 3}, fresh.req)

	// the abandoned response lands late and must not be applied
	stale.records(5, 100)
	fresh.records(3, 1)
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, []string{"1", "2", "3"}, pagination.IDs(snap.Records))
	assert.False(t, snap.IsLoading)
}

func TestController_ReloadRevivesExhaustedList(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	require.NoError(t, c.Start())
	f.expect(t).records(0, 0)
	c.Wait()
	require.Equal(t, PhaseExhausted, c.Snapshot().Phase)

	require.NoError(t, c.Reload())
	call := f.expect(t)
	assert.Equal(t, pagination.PageRequest{Page: 1, Size: 5}, call.req)
	call.records(2, 1)
	c.Wait()
	assert.Equal(t, PhaseIdle, c.Snapshot().Phase)
}

func TestController_CloseDiscardsLateResult(t *testing.T) {
	f := newScriptedFetcher()
	c, err := New(context.Background(), f, Config{PageSize: 5})
	require.NoError(t, err)

	require.NoError(t, c.Start())
	call := f.expect(t)
	c.Close()
	c.Close()

	call.records(5, 1)
	c.Wait()

	assert.Empty(t, c.Snapshot().Records)
	assert.False(t, c.OnVisible(true))
	assert.ErrorIs(t, c.Start(), ErrClosed)
	assert.ErrorIs(t, c.Reload(), ErrClosed)
	assert.ErrorIs(t, c.SetPageSize(7), ErrClosed)
	assert.ErrorIs(t, c.AttachSentinel(&fakeSentinel{}), ErrClosed)
	f.expectNone(t)
}

func TestController_SentinelLifecycle(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	first := &fakeSentinel{initial: true}
	require.NoError(t, c.AttachSentinel(first))

	// initial visibility triggers the first page
	call := f.expect(t)
	assert.Equal(t, 1, call.req.Page)

	// re-attaching the same sentinel keeps the subscription
	require.NoError(t, c.AttachSentinel(first))
	observed, released := first.counts()
	assert.Equal(t, 1, observed)
	assert.Equal(t, 0, released)

	call.records(5, 1)
	c.Wait()

	// a new sentinel replaces the old one, which is released
	second := &fakeSentinel{}
	require.NoError(t, c.AttachSentinel(second))
	_, released = first.counts()
	assert.Equal(t, 1, released)

	first.fire(true)
	f.expectNone(t)

	second.fire(true)
	call = f.expect(t)
	assert.Equal(t, 2, call.req.Page)
	call.records(5, 6)
	c.Wait()

	c.DetachSentinel()
	_, released = second.counts()
	assert.Equal(t, 1, released)

	c.Close()
	_, released = second.counts()
	assert.Equal(t, 1, released, "release happens once")
}

func TestController_CloseReleasesSentinel(t *testing.T) {
	f := newScriptedFetcher()
	c, err := New(context.Background(), f, Config{PageSize: 5})
	require.NoError(t, err)

	s := &fakeSentinel{}
	require.NoError(t, c.AttachSentinel(s))
	c.Close()

	_, released := s.counts()
	assert.Equal(t, 1, released)
}

func TestController_AttachSentinelError(t *testing.T) {
	f := newScriptedFetcher()
	c := newController(t, f, 5)

	err := c.AttachSentinel(&fakeSentinel{err: errors.New("detached element")})
	assert.Error(t, err)

	// a working sentinel can still be attached afterwards
	require.NoError(t, c.AttachSentinel(&fakeSentinel{}))
}

// tagSentinel has a slice field, so its values cannot be compared with ==.
type tagSentinel struct {
	tags     []string
	observed *int
}

func (s tagSentinel) Observe(fn func(bool)) (func(), error) {
	*s.observed++
	fn(false)
	return func() {}, nil
}

func TestController_AttachNonComparableSentinel(t *testing.T) {
	f := newScriptedFetcher()
	c, err := New(context.Background(), f, Config{PageSize: 5})
	require.NoError(t, err)

	observed := 0
	s := tagSentinel{tags: []string{"footer"}, observed: &observed}
	require.NotPanics(t, func() {
		require.NoError(t, c.AttachSentinel(s))
		require.NoError(t, c.AttachSentinel(s))
	})
	assert.Equal(t, 2, observed, "non-comparable sentinels are re-subscribed")

	done := make(chan struct{})
	go func() {
		c.Snapshot()
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller lock still held after attaching a non-comparable sentinel")
	}
}

func TestController_OnChangeOrder(t *testing.T) {
	f := newScriptedFetcher()

	var mu sync.Mutex
	var phases []Phase
	done := make(chan struct{})

	var c *Controller
	c, err := New(context.Background(), f, Config{
		PageSize: 2,
		OnChange: func(s Snapshot) {
			mu.Lock()
			phases = append(phases, s.Phase)
			n := len(phases)
			mu.Unlock()

			// reading back from inside the callback must not deadlock
			_ = c.Snapshot()
			if n == 4 {
				close(done)
			}
		},
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Start())
	f.expect(t).records(2, 1)
	c.Wait()
	c.OnVisible(true)
	f.expect(t).records(0, 0)
	c.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifications not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseLoading, PhaseIdle, PhaseLoading, PhaseExhausted}, phases)
}

func TestController_PagesIncreaseByOne(t *testing.T) {
	fetched := make(chan pagination.PageRequest, 16)
	f := pagination.FetcherFunc(func(ctx context.Context, req pagination.PageRequest) (pagination.Result, error) {
		fetched <- req
		if req.Page > 4 {
			return pagination.Result{Request: req}, nil
		}
		return pagination.Result{Request: req, Records: records((req.Page-1)*req.Size+1, req.Size)}, nil
	})
	c := newController(t, f, 3)

	require.NoError(t, c.Start())
	c.Wait()
	last := c.Snapshot().CurrentPage
	for i := 0; i < 6; i++ {
		c.OnVisible(true)
		c.Wait()
		cur := c.Snapshot().CurrentPage
		assert.True(t, cur == last || cur == last+1, "page moved from %d to %d", last, cur)
		last = cur
	}
	close(fetched)

	var pages []int
	for req := range fetched {
		pages = append(pages, req.Page)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, pages)

	snap := c.Snapshot()
	assert.Equal(t, 4, snap.CurrentPage)
	assert.Len(t, snap.Records, 12)
	assert.False(t, snap.HasMore)
}
