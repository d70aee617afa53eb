package media

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and drops the
// fragment. The query is kept verbatim since media URLs are often signed.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalize(u), nil
}

func normalize(u *url.URL) string {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// ResolveURL resolves ref against base and returns the normalized absolute
// URL. Only http and https results are accepted; data:, blob:, javascript:
// and anything that fails to parse are rejected.
func ResolveURL(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"data:", "javascript:", "blob:", "about:", "mailto:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}
	return normalize(parsed), true
}

// ValidateHTTPURL checks that raw is an absolute http(s) URL with a host.
func ValidateHTTPURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// DedupeURLs removes duplicates while preserving first-occurrence order.
func DedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// OrderedSet accumulates unique strings in insertion order.
type OrderedSet struct {
	seen  map[string]struct{}
	items []string
}

// NewOrderedSet returns an empty set.
func NewOrderedSet() *OrderedSet {
	return &OrderedSet{seen: make(map[string]struct{})}
}

// Add inserts v and reports whether it was new.
func (s *OrderedSet) Add(v string) bool {
	if v == "" {
		return false
	}
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// Items returns the values in insertion order.
func (s *OrderedSet) Items() []string {
	return append([]string{}, s.items...)
}

// Len returns the number of unique values.
func (s *OrderedSet) Len() int {
	return len(s.items)
}
