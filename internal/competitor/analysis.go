package competitor

import (
	"maps"
	"math"
	"slices"

	"github.com/shaibs3/shopwatch/internal/model"
)

// Candidate is a domain seen in ranking results that qualifies as a competitor
type Candidate struct {
	Domain               string   `json:"domain"`
	OriginalDomain       string   `json:"original_domain"`
	Appearances          int      `json:"appearances"`
	AveragePosition      float64  `json:"average_position"`
	AveragePrice         *float64 `json:"average_price"`
	PriceCompetitiveness float64  `json:"price_competitiveness"`
	AuthorityScore       float64  `json:"authority_score"`
	IsMarketplace        bool     `json:"is_marketplace"`
	UniqueTitles         int      `json:"unique_titles"`
	UniqueMerchants      int      `json:"unique_merchants"`
	SuggestedName        string   `json:"suggested_name"`
}

// Thresholds gate which domains become candidates
type Thresholds struct {
	MinAppearances    int
	MinAuthorityScore float64
}

type domainStats struct {
	original  string
	count     int
	positions []int
	prices    []float64
	titles    map[string]struct{}
	merchants map[string]struct{}
	order     int
}

const (
	unrankedPosition  = 100
	maxTitleRunes     = 100
	defaultPriceScore = 0.5
)

// AnalyzeDomains groups results by normalized domain and returns the candidates
// meeting the thresholds, highest authority first
func AnalyzeDomains(results []model.RankingResult, t Thresholds) []Candidate {
	stats := make(map[string]*domainStats)
	var allPrices []float64

	for _, r := range results {
		domain := NormalizeDomain(r.Domain)
		if domain == "" {
			continue
		}
		st, ok := stats[domain]
		if !ok {
			st = &domainStats{
				original:  r.Domain,
				titles:    make(map[string]struct{}),
				merchants: make(map[string]struct{}),
				order:     len(stats),
			}
			stats[domain] = st
		}
		st.count++
		if r.Position != nil && *r.Position > 0 {
			st.positions = append(st.positions, *r.Position)
		}
		if r.Price != nil && *r.Price > 0 {
			st.prices = append(st.prices, *r.Price)
			allPrices = append(allPrices, *r.Price)
		}
		if r.Title != "" {
			st.titles[truncate(r.Title, maxTitleRunes)] = struct{}{}
		}
		if r.MerchantName != "" {
			st.merchants[r.MerchantName] = struct{}{}
		}
	}

	median := 0.0
	if len(allPrices) > 0 {
		sorted := slices.Clone(allPrices)
		slices.Sort(sorted)
		median = sorted[len(sorted)/2]
	}

	var candidates []Candidate
	for domain, st := range stats {
		if st.count < t.MinAppearances {
			continue
		}

		avgPosition := float64(unrankedPosition)
		if len(st.positions) > 0 {
			avgPosition = meanInt(st.positions)
		}
		avgPrice := 0.0
		if len(st.prices) > 0 {
			avgPrice = mean(st.prices)
		}

		competitiveness := defaultPriceScore
		if len(st.prices) > 0 && len(stats) > 1 && median > 0 {
			competitiveness = math.Max(0, math.Min(1, (median-avgPrice)/median+0.5))
		}

		marketplace := IsMarketplace(domain)
		score := AuthorityScore(st.count, avgPosition, competitiveness, marketplace)
		if score < t.MinAuthorityScore {
			continue
		}

		c := Candidate{
			Domain:               domain,
			OriginalDomain:       st.original,
			Appearances:          st.count,
			AveragePosition:      round(avgPosition, 2),
			PriceCompetitiveness: round(competitiveness, 3),
			AuthorityScore:       round(score, 2),
			IsMarketplace:        marketplace,
			UniqueTitles:         len(st.titles),
			UniqueMerchants:      len(st.merchants),
			SuggestedName:        SuggestName(domain, slices.Sorted(maps.Keys(st.merchants))),
		}
		if avgPrice > 0 {
			p := round(avgPrice, 2)
			c.AveragePrice = &p
		}
		candidates = append(candidates, c)
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		if a.AuthorityScore != b.AuthorityScore {
			if a.AuthorityScore > b.AuthorityScore {
				return -1
			}
			return 1
		}
		return stats[a.Domain].order - stats[b.Domain].order
	})
	return candidates
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanInt(values []int) float64 {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
