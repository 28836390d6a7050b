package viewport

import "errors"

// Element is a box positioned in the viewport's content.
type Element struct {
	v      *Viewport
	top    float64
	height float64
}

// NewElement places a new element at top with the given height.
func (v *Viewport) NewElement(top, height float64) *Element {
	if height < 0 {
		height = 0
	}
	return &Element{v: v, top: top, height: height}
}

// Bounds returns the element's top and height.
func (e *Element) Bounds() (top, height float64) {
	e.v.mu.Lock()
	defer e.v.mu.Unlock()
	return e.top, e.height
}

// SetBounds moves or resizes the element and re-evaluates its observers.
func (e *Element) SetBounds(top, height float64) {
	if height < 0 {
		height = 0
	}
	e.v.mu.Lock()
	e.top = top
	e.height = height
	pending := e.v.evaluateLocked(e)
	e.v.mu.Unlock()
	deliver(pending)
}

// Sentinel is an element observed under fixed options. It satisfies the
// sentinel contract of package scroll.
type Sentinel struct {
	el   *Element
	opts Options
}

// Sentinel wraps the element for observation with opts.
func (e *Element) Sentinel(opts Options) *Sentinel {
	return &Sentinel{el: e, opts: opts}
}

// Element returns the observed element.
func (s *Sentinel) Element() *Element {
	return s.el
}

// Observe subscribes fn to visibility changes of the sentinel. fn first
// receives the visibility at subscription time, ahead of any change raised
// concurrently, and is normally called with it before Observe returns. The
// returned release func
// ends the subscription and is safe to call more than once.
func (s *Sentinel) Observe(fn func(visible bool)) (func(), error) {
	if fn == nil {
		return nil, errors.New("observer callback is required")
	}
	if err := s.opts.Validate(); err != nil {
		return nil, err
	}

	v := s.el.v
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrReleased
	}
	v.nextID++
	id := v.nextID
	obs := &observer{el: s.el, opts: s.opts, fn: fn}
	obs.visible = v.visibleLocked(s.el, s.opts)
	obs.enqueue(obs.visible)
	v.observers[id] = obs
	v.mu.Unlock()

	release := func() {
		obs.released.Store(true)
		v.mu.Lock()
		delete(v.observers, id)
		v.mu.Unlock()
	}

	obs.drain()
	return release, nil
}
