package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/crawlkit/pkg/cache"
	"github.com/Sternrassler/crawlkit/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// sleepRecorder replaces the real backoff sleep.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestFetcher(t *testing.T, mutate func(*Config)) (*Fetcher, *sleepRecorder) {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{Name: "test", Capacity: 1000}, zerolog.Nop())
	if err != nil {
		t.Fatalf("ratelimit.New() error = %v", err)
	}

	cfg := DefaultConfig("test", limiter)
	if mutate != nil {
		mutate(&cfg)
	}

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := &sleepRecorder{}
	f.sleep = rec.sleep
	f.jitter = func(time.Duration) time.Duration { return 0 }
	t.Cleanup(func() { f.Close() })
	return f, rec
}

func countingServer(t *testing.T, handler func(n int32, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(calls.Add(1), w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNew_Validation(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.DefaultConfig("test"), zerolog.Nop())
	if err != nil {
		t.Fatalf("ratelimit.New() error = %v", err)
	}

	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "valid config", config: DefaultConfig("list", limiter)},
		{name: "missing limiter", config: DefaultConfig("list", nil), expectError: true},
		{
			name: "zero attempts",
			config: func() Config {
				c := DefaultConfig("list", limiter)
				c.Retry.MaxAttempts = 0
				return c
			}(),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Name() != "list" {
				t.Errorf("Name() = %q, want list", f.Name())
			}
		})
	}
}

func TestNew_NameFromLimiter(t *testing.T) {
	limiter, _ := ratelimit.New(ratelimit.DefaultConfig("detail"), zerolog.Nop())
	f, err := New(Config{Limiter: limiter, Retry: DefaultRetryConfig()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Name() != "detail" {
		t.Errorf("Name() = %q, want detail", f.Name())
	}
}

func TestFetcher_Success(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"hello"}`))
	})
	f, _ := newTestFetcher(t, nil)

	var got struct {
		Title string `json:"title"`
	}
	found, err := f.GetJSON(context.Background(), srv.URL, &got)
	if err != nil || !found {
		t.Fatalf("GetJSON() = (%v, %v), want (true, nil)", found, err)
	}
	if got.Title != "hello" {
		t.Errorf("Title = %q, want hello", got.Title)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetcher_RetryBoundedByMaxAttempts(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f, rec := newTestFetcher(t, nil)

	found, err := f.Do(context.Background(), srv.URL, nil)
	if found {
		t.Error("found = true, want false")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.ErrorClass != ErrorClassServer || fe.StatusCode != 500 {
		t.Errorf("error = %v, want server FetchError with status 500", err)
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}

	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFetcher_RecoversAfterServerError(t *testing.T) {
	srv, calls := countingServer(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	})
	f, _ := newTestFetcher(t, nil)

	body, found, err := f.GetText(context.Background(), srv.URL)
	if err != nil || !found {
		t.Fatalf("GetText() = (%v, %v), want (true, nil)", found, err)
	}
	if body != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetcher_NegativeResult(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusGone} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			})
			f, rec := newTestFetcher(t, nil)

			found, err := f.Do(context.Background(), srv.URL, nil)
			if found || err != nil {
				t.Errorf("Do() = (%v, %v), want (false, nil)", found, err)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want exactly 1", calls.Load())
			}
			if len(rec.recorded()) != 0 {
				t.Errorf("unexpected sleeps %v", rec.recorded())
			}
		})
	}
}

func TestFetcher_ClientErrorNotRetried(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	f, _ := newTestFetcher(t, nil)

	found, err := f.Do(context.Background(), srv.URL, nil)
	if found {
		t.Error("found = true, want false")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.ErrorClass != ErrorClassClient {
		t.Fatalf("error = %v, want client FetchError", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("client error must not report exhausted retries")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetcher_AuthExpiredIsFatal(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	f, _ := newTestFetcher(t, nil)

	_, err := f.Do(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("error = %v, want ErrAuthExpired", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false, want true")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetcher_SessionErrorIsFatal(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {})
	f, _ := newTestFetcher(t, func(c *Config) {
		c.Session = SessionFunc(func(*http.Request) error { return errors.New("no cookies") })
	})

	_, err := f.Do(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("error = %v, want ErrAuthExpired", err)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestFetcher_RetryAfterHonored(t *testing.T) {
	srv, calls := countingServer(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	})
	f, rec := newTestFetcher(t, func(c *Config) {
		c.Retry.MaxJitter = time.Second
	})
	f.jitter = func(max time.Duration) time.Duration { return max / 2 }

	found, err := f.Do(context.Background(), srv.URL, nil)
	if err != nil || !found {
		t.Fatalf("Do() = (%v, %v), want (true, nil)", found, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	got := rec.recorded()
	if len(got) != 1 || got[0] != 7500*time.Millisecond {
		t.Errorf("sleeps = %v, want [7.5s]", got)
	}
}

func TestFetcher_DecodeFailureRetried(t *testing.T) {
	srv, calls := countingServer(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.Write([]byte(`{"broken"`))
			return
		}
		w.Write([]byte(`{"id":7}`))
	})
	f, _ := newTestFetcher(t, nil)

	var got struct {
		ID int `json:"id"`
	}
	found, err := f.GetJSON(context.Background(), srv.URL, &got)
	if err != nil || !found {
		t.Fatalf("GetJSON() = (%v, %v), want (true, nil)", found, err)
	}
	if got.ID != 7 || calls.Load() != 2 {
		t.Errorf("ID = %d calls = %d, want 7 and 2", got.ID, calls.Load())
	}
}

func TestFetcher_NetworkErrorExhausts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	f, rec := newTestFetcher(t, nil)
	_, err := f.Do(context.Background(), url, nil)

	var fe *FetchError
	if !errors.Is(err, ErrRetryExhausted) || !errors.As(err, &fe) || fe.ErrorClass != ErrorClassNetwork {
		t.Fatalf("error = %v, want exhausted network FetchError", err)
	}
	if len(rec.recorded()) != 3 {
		t.Errorf("sleeps = %d, want 3", len(rec.recorded()))
	}
}

func TestFetcher_ContextCancelledDuringBackoff(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	f, _ := newTestFetcher(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.Do(ctx, srv.URL, nil)
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("error = %v, want ErrContextCancelled", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetcher_HeadersAndSession(t *testing.T) {
	srv, _ := countingServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		if c, err := r.Cookie("sid"); err != nil || c.Value != "abc" {
			t.Errorf("cookie sid = %v, %v", c, err)
		}
		w.Write([]byte("ok"))
	})
	f, _ := newTestFetcher(t, func(c *Config) {
		c.Headers = map[string]string{"X-Api-Key": "k"}
		c.Session = &StaticSession{Cookies: ParseCookieHeader("sid=abc; lang=de")}
	})

	if _, err := f.Do(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestFetcher_CacheHit(t *testing.T) {
	manager := cache.NewManager(setupTestRedis(t), cache.DefaultConfig())
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=300")
		w.Write([]byte("cached body"))
	})
	f, _ := newTestFetcher(t, func(c *Config) { c.Cache = manager })

	for i := 0; i < 3; i++ {
		body, found, err := f.GetText(context.Background(), srv.URL)
		if err != nil || !found || body != "cached body" {
			t.Fatalf("GetText() = (%q, %v, %v)", body, found, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetcher_ConditionalRevalidation(t *testing.T) {
	manager := cache.NewManager(setupTestRedis(t), cache.DefaultConfig())
	srv, calls := countingServer(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Cache-Control", "no-cache")
			w.Write([]byte("first"))
			return
		}
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("If-None-Match = %q, want \"v1\"", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	})
	f, _ := newTestFetcher(t, func(c *Config) { c.Cache = manager })

	if _, _, err := f.GetText(context.Background(), srv.URL); err != nil {
		t.Fatalf("first GetText() error = %v", err)
	}
	body, found, err := f.GetText(context.Background(), srv.URL)
	if err != nil || !found || body != "first" {
		t.Fatalf("second GetText() = (%q, %v, %v), want cached payload", body, found, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}
