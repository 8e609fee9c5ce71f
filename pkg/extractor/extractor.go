// Package extractor converts fetched page bodies into structured content.
// The crawler depends only on the Extractor interface; implementations can
// be swapped per site family without touching crawl logic.
package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ImageCandidate is an image reference found on a page, before download.
type ImageCandidate struct {
	URL string
	Alt string
}

// Result is the structured content extracted from one page.
type Result struct {
	Title  string
	Text   string
	Images []ImageCandidate
	Links  []string
}

// Extractor turns a raw page body into a Result. Implementations must be
// safe for concurrent use; the crawler calls Extract from multiple workers.
type Extractor interface {
	Extract(pageURL string, body []byte) (*Result, error)
}

// New selects an extractor implementation by name.
func New(name string, contentSelectors []string) (Extractor, error) {
	switch name {
	case "besteffort":
		return NewBestEffort(), nil
	case "article":
		return NewArticle(contentSelectors), nil
	default:
		return nil, fmt.Errorf("unknown extractor: %q", name)
	}
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// cleanText collapses runs of whitespace and trims the result.
func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// resolveRef resolves href against base, dropping unusable references.
func resolveRef(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return ""
	}
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(strings.ToLower(href), prefix) {
			return ""
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
