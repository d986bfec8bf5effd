// Package canonical turns raw listing URLs into deterministic deduplication keys.
package canonical

import (
	"net/url"
	"strings"
)

const defaultScheme = "https"

// trackingParams are dropped from the query string, matched case-insensitively
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"ref":          {},
	"referrer":     {},
	"_ga":          {},
	"mc_eid":       {},
	"mc_cid":       {},
	"source":       {},
	"campaign":     {},
	"medium":       {},
	"content":      {},
	"term":         {},
}

// Result is a canonical URL together with its domain
type Result struct {
	URL    string
	Domain string
}

// IsTrackingParam reports whether a query parameter is stripped during canonicalization
func IsTrackingParam(name string) bool {
	_, ok := trackingParams[strings.ToLower(name)]
	return ok
}

// Canonicalize normalizes a raw URL. It never fails: malformed input yields the
// lower-cased, trimmed original and an empty domain.
func Canonicalize(raw string) Result {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if cleaned == "" {
		return Result{}
	}

	parsed, err := url.Parse(withScheme(cleaned))
	if err != nil || parsed.Host == "" {
		return Result{URL: cleaned}
	}

	host := strings.TrimPrefix(parsed.Host, "www.")

	path := strings.TrimRight(parsed.Path, "/")
	rawPath := strings.TrimRight(parsed.RawPath, "/")
	if path == "" {
		path = "/"
		rawPath = ""
	}

	query := parseQuery(parsed.RawQuery)
	for name, values := range query {
		if IsTrackingParam(name) || allBlank(values) {
			delete(query, name)
		}
	}

	scheme := parsed.Scheme
	if scheme == "" || scheme == "http" {
		scheme = defaultScheme
	}

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawPath:  rawPath,
		RawQuery: query.Encode(), // Encode sorts by key
	}

	// re-encoding may introduce upper-case percent escapes
	return Result{URL: strings.ToLower(out.String()), Domain: host}
}

// Domain returns the host of a URL without a leading "www.", or "" when it cannot be parsed
func Domain(raw string) string {
	return Canonicalize(raw).Domain
}

func withScheme(s string) string {
	if strings.Contains(s, "://") || strings.HasPrefix(s, "//") {
		return s
	}
	return defaultScheme + "://" + s
}

// parseQuery splits on both & and ; and unescapes each piece, keeping a piece
// as written when it is not a valid escape sequence
func parseQuery(raw string) url.Values {
	values := make(url.Values)
	pieces := strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ';' })
	for _, piece := range pieces {
		key, value, _ := strings.Cut(piece, "=")
		key = unescape(key)
		if key == "" {
			continue
		}
		values[key] = append(values[key], unescape(value))
	}
	return values
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

func allBlank(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}
