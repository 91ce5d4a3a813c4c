package cache

import "testing"

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "plain url",
			key:  CacheKey{Boundary: "detail", URL: "https://okky.kr/articles/42"},
			want: "crawl:cache:detail:https://okky.kr/articles/42",
		},
		{
			name: "query params sorted",
			key:  CacheKey{Boundary: "list", URL: "https://example.com/api?page=2&category=life"},
			want: "crawl:cache:list:https://example.com/api?category=life&page=2",
		},
		{
			name: "fragment dropped and host lowercased",
			key:  CacheKey{Boundary: "detail", URL: "https://Example.COM/a#comments"},
			want: "crawl:cache:detail:https://example.com/a",
		},
		{
			name: "empty boundary",
			key:  CacheKey{URL: "https://example.com/a"},
			want: "crawl:cache:default:https://example.com/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_EquivalentURLsShareKey(t *testing.T) {
	a := CacheKey{Boundary: "list", URL: "https://example.com/x?b=2&a=1"}
	b := CacheKey{Boundary: "list", URL: "https://example.com/x?a=1&b=2#top"}
	if a.String() != b.String() {
		t.Errorf("keys differ: %q vs %q", a.String(), b.String())
	}

	c := CacheKey{Boundary: "detail", URL: "https://example.com/x?a=1&b=2"}
	if a.String() == c.String() {
		t.Error("different boundaries must not share a key")
	}
}
