package util

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ParseLinks finds <a href> values ending with suffix (case-insensitive) in an
// HTML tree and resolves them against base. Duplicates are dropped while
// document order is kept.
func ParseLinks(n *html.Node, base *url.URL, suffix string) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*html.Node)

	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key != "href" {
					continue
				}
				if a.Val == "/" || !strings.HasSuffix(strings.ToLower(a.Val), strings.ToLower(suffix)) {
					break
				}
				link := a.Val
				if base != nil {
					if ref, err := url.Parse(a.Val); err == nil {
						link = base.ResolveReference(ref).String()
					}
				}
				if !seen[link] {
					seen[link] = true
					out = append(out, link)
				}
				break
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return out
}
