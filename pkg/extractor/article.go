package extractor

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// defaultSelectors cover the common article containers seen across travel
// blog and CMS layouts.
var defaultSelectors = []string{"article", "main", "div.entry-content"}

// Article is a site-family extractor: it pulls text and images from the
// first matching content container instead of the whole document, the way
// per-site scrapers target a known CSS class. Link discovery still spans
// the full page so crawling is not limited to in-article links.
type Article struct {
	selectors []string
}

// NewArticle creates an article extractor trying the given CSS selectors
// in order. An empty list falls back to common article containers.
func NewArticle(selectors []string) *Article {
	if len(selectors) == 0 {
		selectors = defaultSelectors
	}
	return &Article{selectors: selectors}
}

// Extract implements Extractor.
func (e *Article) Extract(pageURL string, body []byte) (*Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	result := &Result{
		Title: cleanText(doc.Find("title").First().Text()),
	}

	content := e.findContent(doc)
	if content == nil {
		// No container matched; degrade to whole-document text.
		content = doc.Selection
	}
	content.Find("script, style, noscript").Remove()
	result.Text = cleanText(content.Text())

	seenImages := make(map[string]bool)
	content.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			src, _ = s.Attr("data-src")
		}
		img := resolveRef(base, src)
		if img == "" || seenImages[img] {
			return
		}
		seenImages[img] = true
		alt, _ := s.Attr("alt")
		result.Images = append(result.Images, ImageCandidate{URL: img, Alt: cleanText(alt)})
	})

	seenLinks := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link := resolveRef(base, href)
		if link == "" || seenLinks[link] {
			return
		}
		seenLinks[link] = true
		result.Links = append(result.Links, link)
	})

	return result, nil
}

// findContent returns the first selector match containing any text.
func (e *Article) findContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range e.selectors {
		s := doc.Find(sel).First()
		if s.Length() > 0 {
			return s
		}
	}
	return nil
}
