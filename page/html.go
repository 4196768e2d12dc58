package page

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FromHTML builds a snapshot from a serialized document. pageURL is used
// to resolve relative script and link URLs (a <base href> wins over it).
// Globals and Cookie are left for the caller to fill in.
func FromHTML(r io.Reader, pageURL string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(b)
		}
	}

	snap := &Snapshot{
		URL:   pageURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if abs := ResolveURL(base, src); abs != "" {
			snap.Scripts = append(snap.Scripts, abs)
		}
	})

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		m := Meta{
			Name:     s.AttrOr("name", ""),
			Property: s.AttrOr("property", ""),
			Content:  s.AttrOr("content", ""),
		}
		if m.Key() != "" {
			snap.Metas = append(snap.Metas, m)
		}
	})

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs := ResolveURL(base, href); abs != "" {
			snap.Links = append(snap.Links, Link{Href: abs, Rel: s.AttrOr("rel", "")})
		}
	})

	if snap.Head, err = doc.Find("head").First().Html(); err != nil {
		return nil, fmt.Errorf("serializing head: %w", err)
	}
	if snap.Body, err = doc.Find("body").First().Html(); err != nil {
		return nil, fmt.Errorf("serializing body: %w", err)
	}

	return snap, nil
}

// FromHTMLString is FromHTML over an in-memory document
func FromHTMLString(html, pageURL string) (*Snapshot, error) {
	return FromHTML(strings.NewReader(html), pageURL)
}

// FromBytes is FromHTML over a response body
func FromBytes(body []byte, pageURL string) (*Snapshot, error) {
	return FromHTML(bytes.NewReader(body), pageURL)
}

// ResolveURL resolves href against base the way a browser's element.src
// does. Empty and unparsable references resolve to "".
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

// CookieNames splits a Cookie header into cookie names:
// "a=1; b=2" yields ["a", "b"].
func CookieNames(header string) []string {
	var names []string
	for _, part := range strings.Split(header, ";") {
		name, _, _ := strings.Cut(part, "=")
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// CookieHeader joins cookies into a Cookie header value
func CookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// MergeCookies appends the cookies of extra that are not already in header
func MergeCookies(header, extra string) string {
	if extra == "" {
		return header
	}
	if header == "" {
		return extra
	}

	have := make(map[string]bool)
	for _, name := range CookieNames(header) {
		have[name] = true
	}
	merged := header
	for _, part := range strings.Split(extra, ";") {
		name, _, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" || have[name] {
			continue
		}
		have[name] = true
		merged += "; " + strings.TrimSpace(part)
	}
	return merged
}
