package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/Sternrassler/crawlkit/pkg/daterange"
	"gopkg.in/yaml.v3"
)

// Listing payload kinds.
const (
	KindJSON = "json"
	KindHTML = "html"
)

// File is the YAML crawl definition.
type File struct {
	// From and To bound the crawl by date (YYYY-MM-DD). Empty is open.
	From string `yaml:"from"`
	To   string `yaml:"to"`

	Targets []Target `yaml:"targets"`
}

// Target describes one site or board.
type Target struct {
	Name string `yaml:"name"`

	// Kind is json or html.
	Kind string `yaml:"kind"`

	// URL is the listing URL template with {page}. Listings may override it.
	URL      string    `yaml:"url"`
	Listings []Listing `yaml:"listings"`

	// PageBase is the upstream number of the first page (0 or 1).
	PageBase int `yaml:"page_base"`

	// JSON listings: item array and count hints.
	Items      string `yaml:"items"`
	TotalPages string `yaml:"total_pages"`
	TotalItems string `yaml:"total_items"`

	// HTML listings: row and pager selectors.
	Rows  string `yaml:"rows"`
	Pager string `yaml:"pager"`

	// Key is the item field holding the primary key; KeyPattern narrows it
	// to the first capture group.
	Key        string `yaml:"key"`
	KeyPattern string `yaml:"key_pattern"`

	// Fields maps record fields to JSON paths or HTML selector specs.
	Fields map[string]string `yaml:"fields"`

	// DateField is the record field checked against the date range.
	DateField string `yaml:"date_field"`

	// RecordURL builds the record url from {key} or fields.
	RecordURL string `yaml:"record_url"`

	MaxPages   int `yaml:"max_pages"`
	PageSize   int `yaml:"page_size"`
	ZeroStreak int `yaml:"zero_streak"`

	Detail *Detail `yaml:"detail"`

	// Columns fixes the emitted CSV columns after the key.
	Columns []string `yaml:"columns"`

	// Output is the CSV file name inside OUTPUT_DIR.
	Output string `yaml:"output"`
}

// Listing is one paginated listing of a target.
type Listing struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Detail configures the detail phase of a target.
type Detail struct {
	Routes []Route `yaml:"routes"`

	// Overwrite lists detail fields that replace list values.
	Overwrite []string `yaml:"overwrite"`
}

// Route is one detail URL template, tried in order.
type Route struct {
	Kind    string            `yaml:"kind"`
	URL     string            `yaml:"url"`
	Fields  map[string]string `yaml:"fields"`
	Content []string          `yaml:"content"`

	// ContentField receives the cleaned content. Defaults to content_text.
	ContentField string `yaml:"content_field"`
}

// LoadFile reads and validates a crawl definition.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crawl file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates a crawl definition.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse crawl file: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	for i := range f.Targets {
		t := &f.Targets[i]
		if t.Kind == "" {
			t.Kind = KindJSON
		}
		if len(t.Listings) == 0 {
			t.Listings = []Listing{{URL: t.URL}}
		}
		for j := range t.Listings {
			if t.Listings[j].URL == "" {
				t.Listings[j].URL = t.URL
			}
		}
		if t.Output == "" {
			t.Output = t.Name + ".csv"
		}
		if t.Detail != nil {
			for j := range t.Detail.Routes {
				r := &t.Detail.Routes[j]
				if r.Kind == "" {
					r.Kind = KindJSON
				}
				if r.ContentField == "" {
					r.ContentField = "content_text"
				}
			}
		}
	}
}

// Validate checks the crawl definition.
func (f *File) Validate() error {
	if len(f.Targets) == 0 {
		return fmt.Errorf("crawl file defines no targets")
	}
	if _, err := f.Range(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, t := range f.Targets {
		if t.Name == "" {
			return fmt.Errorf("target without name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Name] = true

		if err := t.validate(); err != nil {
			return fmt.Errorf("target %s: %w", t.Name, err)
		}
	}
	return nil
}

func (t Target) validate() error {
	switch t.Kind {
	case KindJSON:
		if t.Items == "" {
			return fmt.Errorf("items path is required for json listings")
		}
	case KindHTML:
		if t.Rows == "" {
			return fmt.Errorf("rows selector is required for html listings")
		}
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	if t.PageBase != 0 && t.PageBase != 1 {
		return fmt.Errorf("page_base must be 0 or 1 (got %d)", t.PageBase)
	}
	if t.Key == "" {
		return fmt.Errorf("key is required")
	}
	if t.KeyPattern != "" {
		if _, err := regexp.Compile(t.KeyPattern); err != nil {
			return fmt.Errorf("key_pattern: %w", err)
		}
	}
	if t.ZeroStreak < 0 {
		return fmt.Errorf("zero_streak must be >= 0 (got %d)", t.ZeroStreak)
	}
	names := make(map[string]bool)
	for _, l := range t.Listings {
		if l.URL == "" {
			return fmt.Errorf("listing %q has no url", l.Name)
		}
		if names[l.Name] {
			return fmt.Errorf("duplicate listing %q", l.Name)
		}
		names[l.Name] = true
	}
	if t.Detail != nil {
		if len(t.Detail.Routes) == 0 {
			return fmt.Errorf("detail has no routes")
		}
		for i, r := range t.Detail.Routes {
			if r.URL == "" {
				return fmt.Errorf("detail route %d has no url", i)
			}
			if r.Kind != KindJSON && r.Kind != KindHTML {
				return fmt.Errorf("detail route %d: unknown kind %q", i, r.Kind)
			}
		}
	}
	return nil
}

// Range returns the configured date range.
func (f *File) Range() (daterange.Range, error) {
	r, err := daterange.ParseRange(f.From, f.To)
	if err != nil {
		return daterange.Range{}, fmt.Errorf("date range: %w", err)
	}
	return r, nil
}
