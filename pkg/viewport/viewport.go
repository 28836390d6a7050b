// Package viewport provides a geometric visibility sensor: a scrollable
// window over a column of elements that reports when an element becomes
// sufficiently visible. It plays the role an intersection observer plays in
// a browser and is what scroll controllers observe their sentinel through.
package viewport

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// ErrReleased is returned when observing through a viewport that was closed.
var ErrReleased = errors.New("viewport closed")

// Options control when an element counts as visible.
type Options struct {
	// Threshold is the fraction of the element's height that must intersect
	// the viewport, in [0, 1]. Zero means any overlap.
	Threshold float64

	// RootMargin grows the viewport on both edges (negative shrinks it).
	RootMargin float64
}

// DefaultOptions mirrors a half-visible trigger with no margin.
func DefaultOptions() Options {
	return Options{
		Threshold:  0.5,
		RootMargin: 0,
	}
}

// Validate checks the threshold range.
func (o Options) Validate() error {
	if math.IsNaN(o.Threshold) || o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1] (got %v)", o.Threshold)
	}
	if math.IsNaN(o.RootMargin) || math.IsInf(o.RootMargin, 0) {
		return fmt.Errorf("root margin must be finite (got %v)", o.RootMargin)
	}
	return nil
}

// Viewport is a window of a given height scrolled over content of a given
// height. All methods are safe for concurrent use. Observer callbacks run
// after the viewport lock is released, so they may call back into it. Each
// observer receives its notifications in evaluation order, never
// concurrently; a notification raised while another goroutine is delivering
// to the same observer is handed over by that goroutine.
type Viewport struct {
	mu        sync.Mutex
	offset    float64
	height    float64
	content   float64
	observers map[uint64]*observer
	nextID    uint64
	closed    bool
}

type observer struct {
	el       *Element
	opts     Options
	fn       func(visible bool)
	visible  bool // guarded by Viewport.mu
	released atomic.Bool

	// queue holds notifications in evaluation order. They are appended
	// under Viewport.mu and handed to fn by one goroutine at a time.
	qmu        sync.Mutex
	queue      []bool
	delivering bool
}

// enqueue must be called with Viewport.mu held.
func (o *observer) enqueue(visible bool) {
	o.qmu.Lock()
	o.queue = append(o.queue, visible)
	o.qmu.Unlock()
}

// drain delivers queued notifications unless another call is already doing
// so, in which case that call picks them up. A callback that re-enters the
// viewport therefore sees its own follow-up notifications after it returns.
func (o *observer) drain() {
	o.qmu.Lock()
	if o.delivering {
		o.qmu.Unlock()
		return
	}
	o.delivering = true

	finished := false
	defer func() {
		// a panicking callback must not wedge later deliveries
		if !finished {
			o.qmu.Lock()
			o.delivering = false
			o.qmu.Unlock()
		}
	}()

	for len(o.queue) > 0 {
		visible := o.queue[0]
		o.queue = o.queue[1:]
		o.qmu.Unlock()
		if !o.released.Load() {
			o.fn(visible)
		}
		o.qmu.Lock()
	}
	o.delivering = false
	finished = true
	o.qmu.Unlock()
}

// New creates a viewport of the given height at offset 0.
func New(height float64) *Viewport {
	if height < 0 {
		height = 0
	}
	return &Viewport{
		height:    height,
		observers: make(map[uint64]*observer),
	}
}

// Offset returns the current scroll offset.
func (v *Viewport) Offset() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

// Height returns the viewport height.
func (v *Viewport) Height() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.height
}

// ScrollTo moves the viewport to offset, clamped to the content.
func (v *Viewport) ScrollTo(offset float64) {
	v.mu.Lock()
	v.offset = v.clampLocked(offset)
	pending := v.evaluateLocked(nil)
	v.mu.Unlock()
	deliver(pending)
}

// ScrollBy moves the viewport by delta.
func (v *Viewport) ScrollBy(delta float64) {
	v.mu.Lock()
	v.offset = v.clampLocked(v.offset + delta)
	pending := v.evaluateLocked(nil)
	v.mu.Unlock()
	deliver(pending)
}

// ScrollToEnd moves the viewport so the bottom of the content is visible.
func (v *Viewport) ScrollToEnd() {
	v.mu.Lock()
	v.offset = v.clampLocked(v.content)
	pending := v.evaluateLocked(nil)
	v.mu.Unlock()
	deliver(pending)
}

// Resize changes the viewport height.
func (v *Viewport) Resize(height float64) {
	if height < 0 {
		height = 0
	}
	v.mu.Lock()
	v.height = height
	v.offset = v.clampLocked(v.offset)
	pending := v.evaluateLocked(nil)
	v.mu.Unlock()
	deliver(pending)
}

// SetContentHeight sets the scrollable content height.
func (v *Viewport) SetContentHeight(height float64) {
	if height < 0 {
		height = 0
	}
	v.mu.Lock()
	v.content = height
	v.offset = v.clampLocked(v.offset)
	pending := v.evaluateLocked(nil)
	v.mu.Unlock()
	deliver(pending)
}

// Close releases every observation. Further Observe calls fail.
func (v *Viewport) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for id, obs := range v.observers {
		obs.released.Store(true)
		delete(v.observers, id)
	}
}

// ObserverCount returns the number of live observations.
func (v *Viewport) ObserverCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.observers)
}

// Visible reports whether el is visible under opts right now.
func (v *Viewport) Visible(el *Element, opts Options) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visibleLocked(el, opts)
}

func (v *Viewport) clampLocked(offset float64) float64 {
	maxOffset := v.content - v.height
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func (v *Viewport) visibleLocked(el *Element, opts Options) bool {
	top := v.offset - opts.RootMargin
	bottom := v.offset + v.height + opts.RootMargin
	if bottom <= top {
		return false
	}

	if el.height <= 0 {
		return el.top >= top && el.top <= bottom
	}

	overlap := math.Min(bottom, el.top+el.height) - math.Max(top, el.top)
	if overlap <= 0 {
		return false
	}
	if opts.Threshold == 0 {
		return true
	}
	return overlap/el.height >= opts.Threshold
}

// evaluateLocked recomputes visibility for all observers. Observers whose
// visibility changed are notified; observers of moved (when non-nil) are
// also notified when visible, which is how re-intersection after a layout
// change is reported.
func (v *Viewport) evaluateLocked(moved *Element) []*observer {
	var pending []*observer
	for _, obs := range v.observers {
		visible := v.visibleLocked(obs.el, obs.opts)
		changed := visible != obs.visible
		obs.visible = visible
		if changed || (visible && obs.el == moved) {
			obs.enqueue(visible)
			pending = append(pending, obs)
		}
	}
	return pending
}

func deliver(pending []*observer) {
	for _, obs := range pending {
		obs.drain()
	}
}
