package scroll

import (
	"fmt"
	"testing"

	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(from, n int) []pagination.Record {
	out := make([]pagination.Record, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, pagination.Record{ID: fmt.Sprint(i)})
	}
	return out
}

func page(req pagination.PageRequest, recs []pagination.Record) pagination.Result {
	return pagination.Result{Request: req, Records: recs}
}

func TestNewState(t *testing.T) {
	s := NewState(5)
	assert.Equal(t, 1, s.CurrentPage)
	assert.True(t, s.HasMore)
	assert.False(t, s.IsLoading)
	assert.Empty(t, s.Records)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Equal(t, pagination.PageRequest{Page: 1, Size: 5}, s.NextRequest())
}

func TestTransitions_Scenarios(t *testing.T) {
	s := NewState(5)

	// A: first page of 5
	s, req, ok, _ := OnSentinelVisible(s)
	require.True(t, ok)
	assert.Equal(t, pagination.PageRequest{Page: 1, Size: 5}, req)
	assert.Equal(t, PhaseLoading, s.Phase())

	s = OnPageResult(s, page(req, records(1, 5)))
	assert.Len(t, s.Records, 5)
	assert.Equal(t, 1, s.CurrentPage)
	assert.True(t, s.HasMore)

	// B: page 2 with 3 records
	s, req, ok, _ = OnSentinelVisible(s)
	require.True(t, ok)
	assert.Equal(t, 2, req.Page)
	s = OnPageResult(s, page(req, records(6, 3)))
	assert.Len(t, s.Records, 8)
	assert.Equal(t, 2, s.CurrentPage)
	assert.True(t, s.HasMore)

	// D: page 3 fails, then is retried
	s, req, ok, _ = OnSentinelVisible(s)
	require.True(t, ok)
	assert.Equal(t, 3, req.Page)
	s = OnFetchError(s)
	assert.False(t, s.IsLoading)
	assert.Equal(t, 2, s.CurrentPage)
	assert.True(t, s.HasMore)
	assert.Equal(t, PhaseIdle, s.Phase())

	s, req, ok, _ = OnSentinelVisible(s)
	require.True(t, ok)
	assert.Equal(t, 3, req.Page, "failed page is retried")

	// C: empty page exhausts
	s = OnPageResult(s, page(req, nil))
	assert.False(t, s.HasMore)
	assert.Equal(t, PhaseExhausted, s.Phase())
	assert.Len(t, s.Records, 8)

	after, _, ok, reason := OnSentinelVisible(s)
	assert.False(t, ok)
	assert.Equal(t, ReasonExhausted, reason)
	assert.Equal(t, s, after)
}

func TestOnSentinelVisible_GuardWhileLoading(t *testing.T) {
	s, _, ok, _ := OnSentinelVisible(NewState(5))
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		next, _, ok, reason := OnSentinelVisible(s)
		assert.False(t, ok)
		assert.Equal(t, ReasonLoading, reason)
		assert.Equal(t, s, next)
	}
}

func TestOnPageResult_IgnoredWhenNotLoading(t *testing.T) {
	s := NewState(5)
	next := OnPageResult(s, page(pagination.PageRequest{Page: 1, Size: 5}, records(1, 5)))
	assert.Equal(t, s, next)
	assert.Equal(t, s, OnFetchError(s))
}

func TestOnPageResult_DoesNotAliasPreviousState(t *testing.T) {
	s, req, _, _ := OnSentinelVisible(NewState(2))
	s = OnPageResult(s, page(req, records(1, 2)))
	before := s.Records

	s, req, _, _ = OnSentinelVisible(s)
	s = OnPageResult(s, page(req, records(3, 2)))

	assert.Equal(t, []string{"1", "2"}, pagination.IDs(before))
	assert.Equal(t, []string{"1", "2", "3", "4"}, pagination.IDs(s.Records))
}

func TestOnReloadRequested(t *testing.T) {
	// E: page size change while on page 2
	s, req, _, _ := OnSentinelVisible(NewState(5))
	s = OnPageResult(s, page(req, records(1, 5)))
	s, req, _, _ = OnSentinelVisible(s)
	s = OnPageResult(s, page(req, records(6, 5)))
	require.Equal(t, 2, s.CurrentPage)

	next, req := OnReloadRequested(s, 10)
	assert.Empty(t, next.Records)
	assert.Equal(t, 1, next.CurrentPage)
	assert.True(t, next.HasMore)
	assert.True(t, next.IsLoading)
	assert.Equal(t, 10, next.PageSize)
	assert.Equal(t, pagination.PageRequest{Page: 1, Size: 10}, req)
	assert.Equal(t, s.Generation+1, next.Generation)

	// a reload also revives an exhausted list
	exhausted := OnPageResult(next, page(req, nil))
	require.Equal(t, PhaseExhausted, exhausted.Phase())
	revived, req := OnReloadRequested(exhausted, 10)
	assert.Equal(t, PhaseLoading, revived.Phase())
	assert.Equal(t, 1, req.Page)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "loading", PhaseLoading.String())
	assert.Equal(t, "exhausted", PhaseExhausted.String())
	assert.Equal(t, "failed", PhaseFailed.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
