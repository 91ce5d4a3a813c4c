// Package testutil provides a mock crawl target and helpers for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSite is a configurable mock crawl target. Handlers are keyed by
// URL path; injected failures are served before the handler.
type MockSite struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	failures map[string][]int
	requests map[string]int

	total       int
	conditional int
}

// NewMockSite starts a mock site.
func NewMockSite() *MockSite {
	mock := &MockSite{
		handlers: make(map[string]http.HandlerFunc),
		failures: make(map[string][]int),
		requests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.total++
		mock.requests[r.URL.RequestURI()]++
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditional++
		}
		var failStatus int
		if queue := mock.failures[r.URL.RequestURI()]; len(queue) > 0 {
			failStatus = queue[0]
			mock.failures[r.URL.RequestURI()] = queue[1:]
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if failStatus != 0 {
			w.WriteHeader(failStatus)
			return
		}
		if !exists {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSite) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSite) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a path.
func (m *MockSite) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockSite) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// FailNext makes the next requests for requestURI (path plus query) answer
// with the given statuses, in order.
func (m *MockSite) FailNext(requestURI string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[requestURI] = append(m.failures[requestURI], statuses...)
}

// Requests returns how often requestURI was requested.
func (m *MockSite) Requests(requestURI string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[requestURI]
}

// TotalRequests returns the number of requests made to the server.
func (m *MockSite) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// ConditionalRequests returns the number of conditional requests.
func (m *MockSite) ConditionalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditional
}

// Item is one listing entry of the mock site.
type Item struct {
	ID    int
	Title string
	Date  string
	Body  string
}

// ServeJSONPages serves pages at path?page=N (N counted from base) as
// {"data":{"items":[...],"totalPages":T}}. Pages beyond the end return an
// empty item list.
func (m *MockSite) ServeJSONPages(path string, base int, pages [][]Item) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		idx := n - base

		items := []map[string]any{}
		if idx >= 0 && idx < len(pages) {
			for _, it := range pages[idx] {
				items = append(items, map[string]any{
					"id":        it.ID,
					"title":     it.Title,
					"createdAt": it.Date,
				})
			}
		}
		writeJSON(w, map[string]any{
			"data": map[string]any{"items": items, "totalPages": len(pages)},
		})
	})
}

// ServeJSONDetails serves path?id=N for every item as
// {"article":{"id":..,"author":..,"body":{"html":..}}}.
func (m *MockSite) ServeJSONDetails(path string, pages [][]Item) {
	byID := indexItems(pages)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("id"))
		it, ok := byID[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{
			"article": map[string]any{
				"id":     it.ID,
				"author": fmt.Sprintf("user%d", it.ID),
				"body":   map[string]any{"html": it.Body},
			},
		})
	})
}

// ServeHTMLPages serves an HTML board at path?page=N with one <tr
// class="row"> per item and pager links for every page.
func (m *MockSite) ServeHTMLPages(path string, base int, pages [][]Item) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		idx := n - base

		var b strings.Builder
		b.WriteString("<html><body><table class=\"board\">")
		if idx >= 0 && idx < len(pages) {
			for _, it := range pages[idx] {
				fmt.Fprintf(&b, `<tr class="row"><td class="title"><a href="/view?id=%d">%s</a></td><td class="date">%s</td></tr>`,
					it.ID, html.EscapeString(it.Title), html.EscapeString(it.Date))
			}
		}
		b.WriteString("</table><div class=\"pager\">")
		for p := 0; p < len(pages); p++ {
			fmt.Fprintf(&b, `<a href="%s?page=%d">%d</a>`, path, p+base, p+1)
		}
		b.WriteString("</div></body></html>")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(b.String()))
	})
}

// ServeHTMLDetails serves /view?id=N pages with the item body in
// div.content.
func (m *MockSite) ServeHTMLDetails(path string, pages [][]Item) {
	byID := indexItems(pages)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("id"))
		it, ok := byID[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><h1>%s</h1><span class="author">user%d</span><div class="content">%s</div><ul class="tags"><li>#go</li><li>#crawl</li></ul></body></html>`,
			html.EscapeString(it.Title), it.ID, it.Body)
	})
}

func indexItems(pages [][]Item) map[int]Item {
	byID := make(map[int]Item)
	for _, page := range pages {
		for _, it := range page {
			byID[it.ID] = it
		}
	}
	return byID
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(v)
}

// Pages builds pages of perPage items. Pages before emptyFrom (1-based)
// are dated inDate, later pages outDate.
func Pages(total, perPage, emptyFrom int, inDate, outDate string) [][]Item {
	pages := make([][]Item, total)
	id := 1
	for p := 0; p < total; p++ {
		date := inDate
		if p+1 >= emptyFrom {
			date = outDate
		}
		for i := 0; i < perPage; i++ {
			pages[p] = append(pages[p], Item{
				ID:    id,
				Title: fmt.Sprintf("Post %d", id),
				Date:  date,
				Body:  fmt.Sprintf("<p>Body of post %d</p><script>alert(1)</script>", id),
			})
			id++
		}
	}
	return pages
}

// FastRetry returns a retry configuration with millisecond backoff for tests.
func FastRetry() fetch.RetryConfig {
	cfg := fetch.DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.RateLimitMaxBackoff = 5 * time.Millisecond
	cfg.ServerMaxBackoff = 5 * time.Millisecond
	cfg.NetworkMaxBackoff = 5 * time.Millisecond
	cfg.MaxJitter = 0
	return cfg
}

// NewFetcher returns a fetcher with a generous rate limit and fast retries.
func NewFetcher(t testing.TB, name string) *fetch.Fetcher {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{Name: name, Capacity: 1000}, zerolog.Nop())
	if err != nil {
		t.Fatalf("ratelimit.New() error = %v", err)
	}
	cfg := fetch.DefaultConfig(name, limiter)
	cfg.Retry = FastRetry()
	cfg.Timeout = 5 * time.Second

	f, err := fetch.New(cfg)
	if err != nil {
		t.Fatalf("fetch.New() error = %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}
