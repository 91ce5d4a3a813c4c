package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleFile = `
from: "2024-01-01"
to: "2024.01.31"
targets:
  - name: news
    url: https://api.example.com/articles?page={page}&size=20
    page_base: 0
    items: data.items
    total_pages: data.totalPages
    key: id
    fields:
      title: title
      date: createdAt
    date_field: date
    record_url: https://example.com/articles/{key}
    detail:
      routes:
        - url: https://api.example.com/articles/{key}
          fields:
            author: article.author
          content: [article.body, article.content]
        - kind: html
          url: "{url}"
          fields:
            tags: "ul.tags li@list"
    columns: [title, date, author, content_text]
  - name: board
    kind: html
    page_base: 1
    listings:
      - name: free
        url: https://board.example.com/free?page={page}
      - name: qna
        url: https://board.example.com/qna?page={page}
    rows: tr.row
    pager: div.pager a
    key: link
    key_pattern: 'id=(\d+)'
    fields:
      title: td.title a
      link: td.title a@href
      date: td.date
    date_field: date
    zero_streak: 5
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(f.Targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(f.Targets))
	}

	news := f.Targets[0]
	if news.Kind != KindJSON {
		t.Errorf("default kind = %q, want json", news.Kind)
	}
	if len(news.Listings) != 1 || news.Listings[0].URL != news.URL {
		t.Errorf("implicit listing = %+v", news.Listings)
	}
	if news.Output != "news.csv" {
		t.Errorf("Output = %q, want news.csv", news.Output)
	}
	routes := news.Detail.Routes
	if routes[0].Kind != KindJSON || routes[0].ContentField != "content_text" || len(routes[0].Content) != 2 {
		t.Errorf("route 0 = %+v", routes[0])
	}
	if routes[1].Kind != KindHTML || routes[1].URL != "{url}" {
		t.Errorf("route 1 = %+v", routes[1])
	}

	board := f.Targets[1]
	if board.Kind != KindHTML || len(board.Listings) != 2 || board.Listings[1].Name != "qna" {
		t.Errorf("board = %+v", board)
	}
	if board.KeyPattern != `id=(\d+)` || board.ZeroStreak != 5 {
		t.Errorf("board key pattern/zero streak = %q/%d", board.KeyPattern, board.ZeroStreak)
	}

	r, err := f.Range()
	if err != nil {
		t.Fatal(err)
	}
	if r.String() != "2024-01-01..2024-01-31" {
		t.Errorf("Range() = %s", r)
	}
}

func TestParseFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no targets", "targets: []", "no targets"},
		{"bad yaml", "targets: [", "parse crawl file"},
		{"bad date", "from: yesterday\ntargets: [{name: a, items: x, key: id, url: u}]", "date range"},
		{"missing name", "targets: [{items: x, key: id, url: u}]", "without name"},
		{"duplicate", "targets: [{name: a, items: x, key: id, url: u}, {name: a, items: x, key: id, url: u}]", "duplicate target"},
		{"unknown kind", "targets: [{name: a, kind: xml, key: id, url: u}]", "unknown kind"},
		{"json without items", "targets: [{name: a, key: id, url: u}]", "items path"},
		{"html without rows", "targets: [{name: a, kind: html, key: id, url: u}]", "rows selector"},
		{"page base", "targets: [{name: a, items: x, key: id, url: u, page_base: 2}]", "page_base"},
		{"missing key", "targets: [{name: a, items: x, url: u}]", "key is required"},
		{"bad pattern", "targets: [{name: a, items: x, key: id, url: u, key_pattern: '('}]", "key_pattern"},
		{"listing without url", "targets: [{name: a, items: x, key: id}]", "has no url"},
		{"detail without routes", "targets: [{name: a, items: x, key: id, url: u, detail: {routes: []}}]", "no routes"},
		{"route kind", "targets: [{name: a, items: x, key: id, url: u, detail: {routes: [{url: d, kind: pdf}]}}]", "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseFile() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseEnv_Defaults(t *testing.T) {
	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv() error = %v", err)
	}
	if e.LogLevel != "info" || e.CheckpointBackend != BackendFile || e.CheckpointDir != ".checkpoints" {
		t.Errorf("defaults = %+v", e)
	}
	if e.ListQPS != 8 || e.DetailWorkers != 8 || e.Retries != 4 || e.Timeout != 20*time.Second {
		t.Errorf("numeric defaults = %+v", e)
	}
}

func TestParseEnv_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CHECKPOINT_BACKEND", "redis")
	t.Setenv("DETAIL_QPS", "2")
	t.Setenv("TIMEOUT", "45s")
	t.Setenv("SESSION_COOKIE", "sid=abc; lang=ko")

	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv() error = %v", err)
	}
	if e.LogLevel != "debug" || e.CheckpointBackend != BackendRedis || e.DetailQPS != 2 || e.Timeout != 45*time.Second {
		t.Errorf("overrides = %+v", e)
	}
	if e.SessionCookie != "sid=abc; lang=ko" {
		t.Errorf("SessionCookie = %q", e.SessionCookie)
	}
}

func TestParseEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"redis backend without addr", "CHECKPOINT_BACKEND", "redis"},
		{"unknown backend", "CHECKPOINT_BACKEND", "s3"},
		{"zero workers", "DETAIL_WORKERS", "0"},
		{"not a number", "LIST_QPS", "fast"},
		{"zero timeout", "TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := ParseEnv(); err == nil {
				t.Errorf("ParseEnv() with %s=%s should fail", tt.key, tt.value)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawl.yaml")
	if err := os.WriteFile(path, []byte(sampleFile), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LIST_WORKERS=2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("LIST_WORKERS") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Env.ListWorkers != 2 {
		t.Errorf("ListWorkers = %d, want 2 from .env", cfg.Env.ListWorkers)
	}
	if len(cfg.File.Targets) != 2 {
		t.Errorf("targets = %d", len(cfg.File.Targets))
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadDotEnv() error = %v, want nil for missing file", err)
	}
}
