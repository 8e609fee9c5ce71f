package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/markusmobius/go-trafilatura"
	"golang.org/x/net/html"
)

// BestEffort is the default extractor: trafilatura for readable text with a
// plain DOM walk as fallback, and an x/net/html traversal for title, links,
// and images. It assumes nothing about site structure.
type BestEffort struct{}

// NewBestEffort creates the default extractor.
func NewBestEffort() *BestEffort {
	return &BestEffort{}
}

// Extract implements Extractor.
func (e *BestEffort) Extract(pageURL string, body []byte) (*Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	result := &Result{}

	text := ""
	if tr, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{OriginalURL: base}); err == nil && tr != nil {
		text = tr.ContentText
		if result.Title == "" && tr.Metadata.Title != "" {
			result.Title = tr.Metadata.Title
		}
	}
	if text == "" {
		text = visibleText(doc)
	}
	result.Text = cleanText(text)

	seenLinks := make(map[string]bool)
	seenImages := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if result.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					result.Title = cleanText(n.FirstChild.Data)
				}
			case "a":
				if link := resolveRef(base, attr(n, "href")); link != "" && !seenLinks[link] {
					seenLinks[link] = true
					result.Links = append(result.Links, link)
				}
			case "img":
				src := attr(n, "src")
				if src == "" {
					src = attr(n, "data-src") // lazy-loaded images
				}
				if img := resolveRef(base, src); img != "" && !seenImages[img] {
					seenImages[img] = true
					result.Images = append(result.Images, ImageCandidate{URL: img, Alt: cleanText(attr(n, "alt"))})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return result, nil
}

// visibleText collects text nodes, skipping script and style subtrees.
func visibleText(doc *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// attr retrieves an attribute value from an HTML node.
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
