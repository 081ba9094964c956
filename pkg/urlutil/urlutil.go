package urlutil

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a URL cannot be canonicalized: missing
// scheme/host after resolution, or a scheme other than http/https.
var ErrInvalidURL = errors.New("invalid url")

// Canonicalize applies a deterministic normalization to a URL, producing a
// canonical form. It maps equivalent URL spellings to a single
// representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//   - Query strings are preserved verbatim — two URLs differing only by
//     query are distinct canonical URLs
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Clean the path: a missing path means root, same as "/"
	if canonical.Path == "" {
		canonical.Path = "/"
	}
	// then remove trailing slashes (except root)
	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	// Remove fragment (anchor)
	canonical.Fragment = ""
	canonical.RawFragment = ""

	return canonical
}

// CanonicalizeRaw parses raw (resolving it against base first if raw lacks
// a scheme) and returns its canonical form. It rejects non-http(s) schemes
// and URLs left with an empty host.
func CanonicalizeRaw(raw string, base *url.URL) (url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return url.URL{}, ErrInvalidURL
	}

	if !parsed.IsAbs() && base != nil {
		parsed = base.ResolveReference(parsed)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return url.URL{}, ErrInvalidURL
	}
	if parsed.Host == "" {
		return url.URL{}, ErrInvalidURL
	}

	return Canonicalize(*parsed), nil
}

// DomainOf returns u's base domain: the lowercased host with a leading
// "www." stripped.
func DomainOf(u url.URL) string {
	return domainOfHost(u.Host)
}

func domainOfHost(host string) string {
	host = lowerASCII(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}

// IsSameBaseDomain reports whether u belongs to the same base domain as
// baseDomain. baseDomain may itself be a URL or a bare domain string; both
// sides are normalized the same way before comparison. Two domains are the
// same base iff they are equal, or one is a dot-suffix of the other (so
// blog.example.com and example.com match).
func IsSameBaseDomain(u url.URL, baseDomain string) bool {
	left := DomainOf(u)
	right := NormalizeDomain(baseDomain)
	return SameBaseDomain(left, right)
}

// SameBaseDomain compares two already-normalized base domains.
func SameBaseDomain(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if strings.HasSuffix(a, "."+b) {
		return true
	}
	if strings.HasSuffix(b, "."+a) {
		return true
	}
	return false
}

// NormalizeDomain accepts either a bare domain or a URL string and returns
// its base-domain form: lowercased host, leading "www." stripped, port
// dropped. Used at API boundaries where a target_domain field is allowed
// to arrive as a full URL.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(s)
	if parsed, err := url.Parse(s); err == nil && parsed.Host != "" {
		return domainOfHost(parsed.Host)
	}
	return domainOfHost(s)
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
