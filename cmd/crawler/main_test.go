package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/crawlkit/internal/testutil"
	"github.com/Sternrassler/crawlkit/pkg/config"
	"github.com/Sternrassler/crawlkit/pkg/daterange"
	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/source"
)

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("crawler", flag.ContinueOnError)
	opts, err := parseFlags(fs, []string{"-config", "sites.yaml", "-from", "2024-01-01", "-out", "/tmp/x", "-targets", "news, board,"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	want := options{
		ConfigPath: "sites.yaml",
		From:       "2024-01-01",
		OutputDir:  "/tmp/x",
		Targets:    []string{"news", "board"},
	}
	if !reflect.DeepEqual(opts, want) {
		t.Errorf("parseFlags() = %+v, want %+v", opts, want)
	}

	fs = flag.NewFlagSet("crawler", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	if _, err := parseFlags(fs, []string{"-unknown"}); err == nil {
		t.Error("parseFlags() should reject unknown flags")
	}
}

func TestSelectTargets(t *testing.T) {
	all := []config.Target{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	got, err := selectTargets(all, nil)
	if err != nil || len(got) != 3 {
		t.Errorf("selectTargets(nil) = (%v, %v)", got, err)
	}
	got, err = selectTargets(all, []string{"c", "a"})
	if err != nil || len(got) != 2 || got[0].Name != "c" {
		t.Errorf("selectTargets(c,a) = (%v, %v)", got, err)
	}
	if _, err := selectTargets(all, []string{"z"}); err == nil {
		t.Error("selectTargets() should reject unknown names")
	}
}

func testEnv(t *testing.T) config.Env {
	dir := t.TempDir()
	return config.Env{
		LogLevel:          "info",
		CheckpointBackend: config.BackendFile,
		CheckpointDir:     filepath.Join(dir, "checkpoints"),
		ListQPS:           100,
		DetailQPS:         100,
		ListWorkers:       2,
		PageWorkers:       1,
		DetailWorkers:     4,
		Retries:           2,
		Timeout:           5 * time.Second,
		OutputDir:         filepath.Join(dir, "out"),
	}
}

func boardFile(t *testing.T, siteURL string) *config.File {
	t.Helper()
	yaml := `
from: "2024-01-01"
to: "2024-12-31"
targets:
  - name: board
    kind: html
    page_base: 1
    url: SITE/board?page={page}
    rows: tr.row
    pager: div.pager a
    key: url
    key_pattern: 'id=(\d+)'
    fields:
      title: td.title a
      url: td.title a@href
      date: td.date
    date_field: date
    zero_streak: 2
    detail:
      routes:
        - kind: html
          url: "{url}"
          fields:
            author: span.author
            content_text: div.content@html
            tags: ul.tags li@list
    columns: [title, date, author, tags, content_text]
`
	f, err := config.ParseFile([]byte(strings.ReplaceAll(yaml, "SITE", siteURL)))
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	return f
}

func TestBuilder_Target(t *testing.T) {
	f := boardFile(t, "https://board.example.com")
	b := newBuilder(testEnv(t), daterange.Range{}, nil)
	defer b.Close()

	target, err := b.Target(f.Targets[0])
	if err != nil {
		t.Fatalf("Target() error = %v", err)
	}
	if target.Name != "board" || len(target.Listings) != 1 {
		t.Errorf("target = %+v", target)
	}
	if _, ok := target.Listings[0].Source.(*source.HTMLListing); !ok {
		t.Errorf("listing source = %T, want *source.HTMLListing", target.Listings[0].Source)
	}
	if target.Keep != nil {
		t.Error("an open date range should not filter")
	}
	if target.Detail == nil || target.Enrich.Workers != 4 {
		t.Errorf("detail phase not configured: %+v", target.Enrich)
	}
	if target.Walk.ZeroStreakStop != 2 {
		t.Errorf("ZeroStreakStop = %d, want 2", target.Walk.ZeroStreakStop)
	}
	if len(b.fetchers) != 2 {
		t.Errorf("fetchers = %d, want list and detail", len(b.fetchers))
	}

	rec, ok := target.Extract(map[string]any{
		"title": "Hello",
		"url":   "https://board.example.com/view?id=42",
		"date":  "2024.03.01",
	})
	if !ok || rec.Key != "42" || rec.Get("title") != "Hello" {
		t.Errorf("Extract() = (%+v, %v)", rec, ok)
	}
}

func TestBuilder_SessionCookie(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	var got string
	site.SetHandler("/api/list", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err == nil {
			got = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	})

	env := testEnv(t)
	env.SessionCookie = "sid=abc123; lang=ko"
	b := newBuilder(env, daterange.Range{}, nil)
	defer b.Close()

	target, err := b.Target(config.Target{
		Name:     "api",
		Kind:     config.KindJSON,
		Listings: []config.Listing{{URL: site.URL() + "/api/list?page={page}"}},
		Items:    "items",
		Key:      "id",
		Output:   "api.csv",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := target.Listings[0].Source.FetchPage(context.Background(), 1); err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if got != "abc123" {
		t.Errorf("session cookie = %q, want abc123", got)
	}
}

func TestCrawl_MockBoard(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	// Pages 1-3 are in range, 4-6 are older.
	pages := testutil.Pages(6, 2, 4, "2024.02.01", "2023.02.01")
	site.ServeHTMLPages("/board", 1, pages)
	site.ServeHTMLDetails("/view", pages)

	env := testEnv(t)
	cfg := &config.Config{Env: env, File: boardFile(t, site.URL())}
	if err := crawl(context.Background(), cfg, options{}); err != nil {
		t.Fatalf("crawl() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(env.OutputDir, "board.csv"))
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 7 {
		t.Fatalf("rows = %d, want header plus 6", len(rows))
	}
	if !reflect.DeepEqual(rows[0], []string{"key", "title", "date", "author", "tags", "content_text"}) {
		t.Errorf("header = %q", rows[0])
	}
	if want := []string{"1", "Post 1", "2024.02.01", "user1", "go, crawl", "Body of post 1"}; !reflect.DeepEqual(rows[1], want) {
		t.Errorf("row 1 = %q, want %q", rows[1], want)
	}

	if site.Requests("/board?page=6") != 0 {
		t.Error("zero streak should stop before page 6")
	}
	leftovers, _ := filepath.Glob(filepath.Join(env.CheckpointDir, "*.json"))
	if len(leftovers) != 0 {
		t.Errorf("checkpoints left after a complete run: %v", leftovers)
	}
}

func TestCrawl_FromFlagNarrowsRange(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	pages := testutil.Pages(2, 2, 2, "2024.02.01", "2024.01.15")
	site.ServeHTMLPages("/board", 1, pages)
	site.ServeHTMLDetails("/view", pages)

	env := testEnv(t)
	cfg := &config.Config{Env: env, File: boardFile(t, site.URL())}
	if err := crawl(context.Background(), cfg, options{From: "2024-02-01"}); err != nil {
		t.Fatalf("crawl() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(env.OutputDir, "board.csv"))
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("rows = %d, want header plus the 2 items on or after 2024-02-01", len(rows))
	}
}

func TestCrawl_AuthExpired(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/board", testutil.MockResponse{StatusCode: http.StatusUnauthorized})

	cfg := &config.Config{Env: testEnv(t), File: boardFile(t, site.URL())}
	err := crawl(context.Background(), cfg, options{})
	if !errors.Is(err, fetch.ErrAuthExpired) {
		t.Errorf("crawl() error = %v, want ErrAuthExpired", err)
	}
}

func TestCrawl_UnknownTarget(t *testing.T) {
	cfg := &config.Config{Env: testEnv(t), File: boardFile(t, "https://x")}
	if err := crawl(context.Background(), cfg, options{Targets: []string{"nope"}}); err == nil {
		t.Error("crawl() should reject an unknown target")
	}
}
