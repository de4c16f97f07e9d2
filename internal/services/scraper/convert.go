package scraper

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// htmlToMarkdown converts an HTML fragment to markdown. Conversion
// failures yield an empty string; callers treat that as a missing
// description rather than a scrape failure.
func htmlToMarkdown(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	out, err := md.NewConverter("", true, nil).ConvertString(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// collapseSpaces trims and squashes runs of whitespace to single spaces,
// for anchor texts and titles pulled out of markup.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
