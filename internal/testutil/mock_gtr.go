// Package testutil provides testing utilities for the GtR fetcher.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock GtR endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGtR is a configurable mock GtR API server for testing. It serves
// paginated envelopes the way the real API does: a totalPages field plus a
// record collection keyed by the endpoint's singular record key.
type MockGtR struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	PageRequests map[string][]int // endpoint path -> requested page numbers, in order
}

// NewMockGtR creates a new mock GtR server.
func NewMockGtR() *MockGtR {
	mock := &MockGtR{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PageRequests: make(map[string][]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("p"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				page = n
			}
		}

		mock.mu.Lock()
		mock.RequestCount++
		mock.PageRequests[r.URL.Path] = append(mock.PageRequests[r.URL.Path], page)
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGtR) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGtR) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockGtR) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PageRequests = make(map[string][]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGtR) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path, regardless of the
// requested page.
func (m *MockGtR) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/vnd.rcuk.gtr.json-v7")
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPagedEndpoint serves a paginated collection for an endpoint. Each entry
// of pages becomes one page's record list under recordKey, and every
// envelope reports len(pages) as totalPages. Out-of-range pages return an
// empty record list.
func (m *MockGtR) SetPagedEndpoint(endpoint, recordKey string, pages [][]map[string]any) {
	total := len(pages)
	m.SetHandler("/"+endpoint, func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("p"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				page = n
			}
		}

		records := []map[string]any{}
		if page >= 1 && page <= total {
			records = pages[page-1]
		}

		envelope := map[string]any{
			"page":       page,
			"size":       len(records),
			"totalPages": total,
			recordKey:    records,
		}

		w.Header().Set("Content-Type", "application/vnd.rcuk.gtr.json-v7")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(envelope)
	})
}

// FailPage makes one specific page of an endpoint fail with the given
// status while other pages are served from the paged fixture. Configure the
// paged endpoint first.
func (m *MockGtR) FailPage(endpoint string, failPage, status int) {
	m.mu.RLock()
	inner := m.handlers["/"+endpoint]
	m.mu.RUnlock()

	m.SetHandler("/"+endpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("p") == strconv.Itoa(failPage) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error": "upstream failure"}`))
			return
		}
		if inner != nil {
			inner(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGtR) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// PagesRequested returns the page numbers requested for an endpoint, in
// request order.
func (m *MockGtR) PagesRequested(endpoint string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := m.PageRequests["/"+endpoint]
	out := make([]int, len(pages))
	copy(out, pages)
	return out
}
