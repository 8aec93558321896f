// Package markup evaluates XPath (htmlquery) and CSS (goquery) locators
// against fetched HTML.
package markup

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// Find returns the values loc selects in body. XPath wins over CSS when both
// are set. With Attr set, the attribute of each matched element is returned;
// otherwise XPath attribute nodes (//a/@href) yield their value and element
// nodes yield their trimmed text.
func Find(body []byte, loc domain.Locator) ([]string, error) {
	switch {
	case strings.TrimSpace(loc.XPath) != "":
		return findXPath(body, loc)
	case strings.TrimSpace(loc.CSS) != "":
		return findCSS(body, loc)
	}
	return nil, fmt.Errorf("empty locator")
}

// First returns the first value loc selects.
func First(body []byte, loc domain.Locator) (string, bool, error) {
	values, err := Find(body, loc)
	if err != nil || len(values) == 0 {
		return "", false, err
	}
	return values[0], true, nil
}

func findXPath(body []byte, loc domain.Locator) ([]string, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	nodes, err := htmlquery.QueryAll(doc, loc.XPath)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", loc.XPath, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		var v string
		if loc.Attr != "" && n.Type == html.ElementNode {
			v = htmlquery.SelectAttr(n, loc.Attr)
		} else {
			v = htmlquery.InnerText(n)
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func findCSS(body []byte, loc domain.Locator) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []string
	doc.Find(loc.CSS).Each(func(_ int, s *goquery.Selection) {
		var v string
		if loc.Attr != "" {
			v, _ = s.Attr(loc.Attr)
		} else {
			v = s.Text()
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	})
	return out, nil
}

// IsXPath reports whether sel is an XPath expression rather than a CSS selector.
func IsXPath(sel string) bool {
	sel = strings.TrimSpace(sel)
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") || strings.HasPrefix(sel, "./")
}

// Selector wraps a raw selector in a Locator reading attr.
func Selector(sel, attr string) domain.Locator {
	if IsXPath(sel) {
		return domain.Locator{XPath: sel, Attr: attr}
	}
	return domain.Locator{CSS: sel, Attr: attr}
}

// Resolve turns ref into an absolute URL against base.
func Resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse ref %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
