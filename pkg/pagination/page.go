package pagination

import (
	"context"
	"errors"
	"fmt"
)

// Page size bounds.
const (
	// DefaultPageSize is used when no page size is configured.
	DefaultPageSize = 5

	// MaxPageSize caps a single page request.
	MaxPageSize = 100
)

// ErrInvalidPageRequest is returned for page requests with a non-positive
// page index or size.
var ErrInvalidPageRequest = errors.New("invalid page request")

// PageRequest identifies one page of a list endpoint.
type PageRequest struct {
	// Page is the 1-based page index.
	Page int

	// Size is the number of records per page.
	Size int
}

// Validate checks that both the page index and size are positive.
func (r PageRequest) Validate() error {
	if r.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1 (got %d)", ErrInvalidPageRequest, r.Page)
	}
	if r.Size < 1 {
		return fmt.Errorf("%w: size must be >= 1 (got %d)", ErrInvalidPageRequest, r.Size)
	}
	return nil
}

// String renders the request for logs.
func (r PageRequest) String() string {
	return fmt.Sprintf("page=%d size=%d", r.Page, r.Size)
}

// Result is the outcome of a successful page fetch.
type Result struct {
	Request PageRequest
	Records []Record
}

// Empty reports whether the page carried no records, which means the list is
// exhausted.
func (r Result) Empty() bool {
	return len(r.Records) == 0
}

// Fetcher loads a single page. Implementations make exactly one attempt and
// do not mutate any shared state.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Result, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req PageRequest) (Result, error)

// FetchPage implements Fetcher.
func (f FetcherFunc) FetchPage(ctx context.Context, req PageRequest) (Result, error) {
	return f(ctx, req)
}

// IsNormalizedPageSize returns the page size clamped into [1, maxSize] and
// whether the input was already in range. Non-positive sizes fall back to
// DefaultPageSize.
func IsNormalizedPageSize(size, maxSize int) (int, bool) {
	if size <= 0 {
		return DefaultPageSize, false
	} else if size > maxSize {
		return maxSize, false
	}

	return size, true
}

// NormalizePageSize clamps size into [1, MaxPageSize].
func NormalizePageSize(size int) int {
	ret, _ := IsNormalizedPageSize(size, MaxPageSize)
	return ret
}
