package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shaibs3/shopwatch/internal/store"
)

// unranked sorts keywords without a current position after every ranked one
const unranked = 999

type KeywordPosition struct {
	KeywordID           string     `json:"keyword_id"`
	Keyword             string     `json:"keyword"`
	SearchVolume        int        `json:"search_volume"`
	CurrentPosition     *int       `json:"current_position"`
	PreviousPosition    *int       `json:"previous_position"`
	Trend               Trend      `json:"trend"`
	CurrentURL          string     `json:"current_url,omitempty"`
	TotalURLsPositioned int        `json:"total_urls_positioned"`
	LastScraped         *time.Time `json:"last_scraped"`
}

type KeywordPositions struct {
	ProjectID          string            `json:"project_id"`
	ReferenceSite      string            `json:"reference_site"`
	TotalKeywords      int               `json:"total_keywords"`
	PositionedKeywords int               `json:"positioned_keywords"`
	Keywords           []KeywordPosition `json:"keywords"`
}

// KeywordPositions reports, for every keyword of the project, where the
// reference site ranks in the latest scrape compared with the scrape before it.
func (a *Aggregator) KeywordPositions(ctx context.Context, projectID string) (KeywordPositions, error) {
	project, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return KeywordPositions{}, err
	}
	keywords, err := a.store.ListKeywords(ctx, projectID, false)
	if err != nil {
		return KeywordPositions{}, fmt.Errorf("failed to list keywords: %w", err)
	}
	results, err := a.store.ListRankingResults(ctx, store.ResultFilter{ProjectID: projectID})
	if err != nil {
		return KeywordPositions{}, fmt.Errorf("failed to list results: %w", err)
	}

	site := project.ReferenceSite
	scrapes := scrapesByKeyword(results, site)
	urls := make(map[string]map[string]struct{})
	for _, r := range results {
		if r.URL == "" || !isOwn(r, site) {
			continue
		}
		if urls[r.KeywordID] == nil {
			urls[r.KeywordID] = make(map[string]struct{})
		}
		urls[r.KeywordID][r.URL] = struct{}{}
	}

	out := KeywordPositions{
		ProjectID:     projectID,
		ReferenceSite: site,
		TotalKeywords: len(keywords),
		Keywords:      make([]KeywordPosition, 0, len(keywords)),
	}
	for _, k := range keywords {
		obs := scrapes[k.ID]
		current, previous := latestPair(obs)
		kp := KeywordPosition{
			KeywordID:           k.ID,
			Keyword:             k.Keyword,
			SearchVolume:        volume(k.SearchVolume),
			CurrentPosition:     current,
			PreviousPosition:    previous,
			Trend:               ClassifyTrend(current, previous),
			TotalURLsPositioned: len(urls[k.ID]),
		}
		if len(obs) > 0 && obs[0].own != nil {
			kp.CurrentURL = obs[0].own.URL
		}
		// last time the reference site ranked, not the last scrape of the keyword
		for _, o := range obs {
			if o.own != nil {
				last := o.scrapedAt
				kp.LastScraped = &last
				break
			}
		}
		if current != nil {
			out.PositionedKeywords++
		}
		out.Keywords = append(out.Keywords, kp)
	}

	slices.SortStableFunc(out.Keywords, func(a, b KeywordPosition) int {
		return cmp.Compare(rank(a.CurrentPosition), rank(b.CurrentPosition))
	})
	return out, nil
}

func rank(p *int) int {
	if p == nil {
		return unranked
	}
	return *p
}
