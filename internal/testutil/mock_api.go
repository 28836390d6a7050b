// Package testutil provides testing utilities for scrollfeed.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Post is the record shape served by MockAPI.
type Post struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// MockResponse defines a canned response for one page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// PageCall records one request received by MockAPI.
type PageCall struct {
	Page  int
	Limit int
}

// MockAPI is a paged list endpoint for tests. It answers
// GET /posts?limit=N&page=P with a JSON array slice of its dataset, and an
// empty array past the end.
type MockAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	posts     []Post
	overrides map[int]MockResponse
	gate      chan struct{}
	calls     []PageCall
	headers   map[string]string
	lastHdr   http.Header
}

// NewMockAPI creates a mock list endpoint serving total generated posts.
func NewMockAPI(total int) *MockAPI {
	mock := &MockAPI{
		posts:     GeneratePosts(total),
		overrides: make(map[int]MockResponse),
		headers:   make(map[string]string),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// GeneratePosts returns n posts with ids 1..n.
func GeneratePosts(n int) []Post {
	posts := make([]Post, 0, n)
	for i := 1; i <= n; i++ {
		posts = append(posts, Post{
			ID:    i,
			Title: fmt.Sprintf("post %d", i),
			Body:  fmt.Sprintf("body of post %d", i),
		})
	}
	return posts
}

// URL returns the list endpoint URL.
func (m *MockAPI) URL() string {
	return m.server.URL + "/posts"
}

// Close shuts down the mock server, releasing any held requests first.
func (m *MockAPI) Close() {
	m.Release()
	m.server.Close()
}

// SetPageResponse overrides the response for a page index.
func (m *MockAPI) SetPageResponse(page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[page] = resp
}

// ClearPageResponse removes a page override.
func (m *MockAPI) ClearPageResponse(page int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, page)
}

// SetHeader adds a header to every response.
func (m *MockAPI) SetHeader(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[key] = value
}

// Hold makes subsequent requests block until Release is called.
func (m *MockAPI) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

// Release unblocks held requests.
func (m *MockAPI) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Calls returns the requests received so far.
func (m *MockAPI) Calls() []PageCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PageCall(nil), m.calls...)
}

// LastRequestHeader returns the header of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHdr
}

// RequestCount returns the number of requests received.
func (m *MockAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	m.mu.Lock()
	m.calls = append(m.calls, PageCall{Page: page, Limit: limit})
	m.lastHdr = r.Header.Clone()
	gate := m.gate
	override, hasOverride := m.overrides[page]
	headers := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		headers[k] = v
	}
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range headers {
		w.Header().Set(key, value)
	}

	if hasOverride {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		for key, value := range override.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(override.StatusCode)
		if override.Body != "" {
			w.Write([]byte(override.Body))
		}
		return
	}

	if r.URL.Path != "/posts" {
		http.NotFound(w, r)
		return
	}
	if limit < 1 || page < 1 {
		http.Error(w, `{"error": "limit and page must be positive"}`, http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	start := (page - 1) * limit
	end := start + limit
	if start > len(m.posts) {
		start = len(m.posts)
	}
	if end > len(m.posts) {
		end = len(m.posts)
	}
	slice := m.posts[start:end]
	data, err := json.Marshal(slice)
	m.mu.RUnlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "30",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewMalformedResponse creates a 200 OK response with a non-array body.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"posts": "not an array"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
