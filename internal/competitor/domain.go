package competitor

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// domainPrefixes are tried in order; at most one is stripped
var domainPrefixes = []string{"www.", "shop.", "store.", "m.", "mobile."}

var marketplaces = map[string]struct{}{
	"amazon.fr": {}, "amazon.com": {}, "amazon.de": {}, "amazon.co.uk": {},
	"ebay.fr": {}, "ebay.com": {}, "ebay.de": {}, "ebay.co.uk": {},
	"cdiscount.com": {}, "fnac.com": {}, "darty.com": {}, "boulanger.com": {},
	"leclerc.fr": {}, "carrefour.fr": {}, "auchan.fr": {},
	"priceminister.com": {}, "rakuten.fr": {},
	"manomano.fr": {}, "leroy-merlin.fr": {}, "castorama.fr": {},
	"zalando.fr": {}, "zalando.com": {}, "asos.com": {},
	"booking.com": {}, "expedia.fr": {}, "hotels.com": {},
}

// NormalizeDomain lower-cases a domain and strips one well-known host prefix
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, prefix := range domainPrefixes {
		if strings.HasPrefix(domain, prefix) {
			return domain[len(prefix):]
		}
	}
	return domain
}

// IsMarketplace reports whether the normalized domain is a known marketplace.
// Only exact matches count.
func IsMarketplace(domain string) bool {
	_, ok := marketplaces[NormalizeDomain(domain)]
	return ok
}

// AuthorityScore estimates a domain's competitive strength on a 0-100 scale
func AuthorityScore(appearances int, averagePosition, priceCompetitiveness float64, marketplace bool) float64 {
	appearanceScore := math.Min(float64(appearances)*2, 50)
	positionScore := math.Max(0, 30-averagePosition)
	priceScore := priceCompetitiveness * 20
	bonus := 0.0
	if marketplace {
		bonus = 10
	}
	return math.Min(appearanceScore+positionScore+priceScore+bonus, 100)
}

// SuggestName picks a display name for a new competitor: the only merchant
// name, else the one with the fewest characters, else the capitalized first
// label of the domain
func SuggestName(domain string, merchants []string) string {
	best := ""
	for _, m := range merchants {
		if m == "" {
			continue
		}
		n, bestN := utf8.RuneCountInString(m), utf8.RuneCountInString(best)
		if best == "" || n < bestN || (n == bestN && m < best) {
			best = m
		}
	}
	if best != "" {
		return best
	}
	label, _, _ := strings.Cut(domain, ".")
	return capitalize(label)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// Matches reports whether domain belongs to site after normalization, including subdomains
func Matches(domain, site string) bool {
	d, s := NormalizeDomain(domain), NormalizeDomain(site)
	if d == "" || s == "" {
		return false
	}
	return d == s || strings.HasSuffix(d, "."+s)
}
