package source

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var ugcPolicy = bluemonday.UGCPolicy()

// SanitizeHTML strips scripts, styles, event handlers and unknown markup,
// keeping user-generated-content formatting.
func SanitizeHTML(s string) string {
	return strings.TrimSpace(ugcPolicy.Sanitize(s))
}

// CleanHTML converts markup to newline-separated plain text: every
// non-blank text node becomes one trimmed line. Input without markup is
// only trimmed.
func CleanHTML(s string) string {
	if !strings.Contains(s, "<") || !strings.Contains(s, ">") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(SanitizeHTML(s)))
	if err != nil {
		return strings.TrimSpace(s)
	}

	var lines []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					lines = append(lines, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(doc.Selection)

	return strings.Join(lines, "\n")
}
