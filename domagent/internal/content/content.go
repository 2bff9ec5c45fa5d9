// Package content converts page HTML into sanitized markdown.
package content

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Extractor holds a sanitizing policy and a markdown converter. It is safe
// for concurrent use.
type Extractor struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// New returns an Extractor using the UGC policy.
func New() *Extractor {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("href").OnElements("a")
	return &Extractor{
		policy: p,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown sanitizes raw and converts it. pageURL resolves relative links
// and may be empty.
func (e *Extractor) Markdown(raw, pageURL string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	clean := e.policy.Sanitize(raw)
	var md string
	var err error
	if d := domain(pageURL); d != "" {
		md, err = e.conv.ConvertString(clean, converter.WithDomain(d))
	} else {
		md, err = e.conv.ConvertString(clean)
	}
	if err != nil {
		return "", fmt.Errorf("content: convert: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func domain(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Links returns the absolute href targets of anchors in raw, resolved
// against pageURL, in document order without duplicates.
func Links(raw, pageURL string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("content: parse: %w", err)
	}
	base, _ := url.Parse(pageURL)
	seen := map[string]bool{}
	var out []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" || strings.HasPrefix(a.Val, "javascript:") || strings.HasPrefix(a.Val, "#") {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(a.Val))
				if err != nil {
					continue
				}
				if base != nil {
					ref = base.ResolveReference(ref)
				}
				if s := ref.String(); s != "" && !seen[s] {
					seen[s] = true
					out = append(out, s)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return out, nil
}
