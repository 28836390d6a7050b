package scroll

import (
	"github.com/Sternrassler/scrollfeed/pkg/pagination"
)

// Phase is the externally visible state of a controller.
type Phase int

const (
	// PhaseIdle means more data is believed to exist and nothing is in flight.
	PhaseIdle Phase = iota

	// PhaseLoading means a page fetch is outstanding.
	PhaseLoading

	// PhaseExhausted means an empty page was received; terminal until reload.
	PhaseExhausted

	// PhaseFailed is the transient phase between a failed fetch and Idle.
	// It is reported in logs and metrics, never held in State.
	PhaseFailed
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseExhausted:
		return "exhausted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the pagination state owned by one controller. Transitions are
// pure functions returning a new State; Records is never modified in place,
// so a State (or a Snapshot of it) stays valid after later transitions.
type State struct {
	// Records holds every record received, in arrival order.
	Records []pagination.Record

	// CurrentPage is the index of the last page applied (1 before any).
	CurrentPage int

	// PageSize applies to every fetch until the next reload.
	PageSize int

	IsLoading bool
	HasMore   bool

	// Loaded is set once the first page has been applied.
	Loaded bool

	// Pending is the outstanding request while IsLoading.
	Pending pagination.PageRequest

	// Generation changes on every reload; results carrying an older
	// generation are discarded.
	Generation uint64
}

// NewState returns the mount state: page 1, nothing loaded, more assumed.
func NewState(pageSize int) State {
	return State{
		CurrentPage: 1,
		PageSize:    pageSize,
		HasMore:     true,
	}
}

// Phase derives the phase from the flags.
func (s State) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseLoading
	case !s.HasMore:
		return PhaseExhausted
	default:
		return PhaseIdle
	}
}

// NextRequest is the page a trigger would fetch: page 1 until the first page
// has loaded, then CurrentPage+1.
func (s State) NextRequest() pagination.PageRequest {
	page := 1
	if s.Loaded {
		page = s.CurrentPage + 1
	}
	return pagination.PageRequest{Page: page, Size: s.PageSize}
}

// Suppression reasons reported by OnSentinelVisible.
const (
	ReasonLoading   = "loading"
	ReasonExhausted = "exhausted"
)

// OnSentinelVisible is the Idle -> Loading transition. It is guarded by
// !IsLoading && HasMore; when the guard fails the state is returned
// unchanged with ok=false and the reason.
func OnSentinelVisible(s State) (next State, req pagination.PageRequest, ok bool, reason string) {
	if s.IsLoading {
		return s, pagination.PageRequest{}, false, ReasonLoading
	}
	if !s.HasMore {
		return s, pagination.PageRequest{}, false, ReasonExhausted
	}

	req = s.NextRequest()
	s.IsLoading = true
	s.Pending = req
	return s, req, true, ""
}

// OnPageResult applies a successful fetch. A non-empty page appends records
// and advances CurrentPage by one; an empty page exhausts the list. Results
// arriving while nothing is pending are ignored.
func OnPageResult(s State, res pagination.Result) State {
	if !s.IsLoading {
		return s
	}
	s.IsLoading = false

	if res.Empty() {
		s.HasMore = false
		s.Pending = pagination.PageRequest{}
		return s
	}

	records := make([]pagination.Record, 0, len(s.Records)+len(res.Records))
	records = append(records, s.Records...)
	records = append(records, res.Records...)
	s.Records = records

	s.CurrentPage = s.Pending.Page
	s.Loaded = true
	s.Pending = pagination.PageRequest{}
	return s
}

// OnFetchError is the Loading -> Failed -> Idle transition: only the loading
// flag resets, so the same page is retried on the next trigger.
func OnFetchError(s State) State {
	if !s.IsLoading {
		return s
	}
	s.IsLoading = false
	s.Pending = pagination.PageRequest{}
	return s
}

// OnReloadRequested resets to the mount state with pageSize, bumps the
// generation and immediately enters Loading for page 1.
func OnReloadRequested(s State, pageSize int) (State, pagination.PageRequest) {
	next := NewState(pageSize)
	next.Generation = s.Generation + 1

	req := next.NextRequest()
	next.IsLoading = true
	next.Pending = req
	return next, req
}
