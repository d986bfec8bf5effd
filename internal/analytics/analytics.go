// Package analytics computes competitive-intelligence metrics from persisted
// ranking results: dashboard figures, share of voice and keyword positions.
package analytics

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shaibs3/shopwatch/internal/cache"
	"github.com/shaibs3/shopwatch/internal/competitor"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"go.uber.org/zap"
)

// ErrNotImplemented is returned by analytics views that have no defined aggregation
var ErrNotImplemented = errors.New("analytics view not implemented")

// Store is the read side the aggregator needs
type Store interface {
	GetProject(ctx context.Context, id string) (model.Project, error)
	ListKeywords(ctx context.Context, projectID string, activeOnly bool) ([]model.Keyword, error)
	ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error)
	ListRankingResults(ctx context.Context, filter store.ResultFilter) ([]model.RankingResult, error)
	LastScrapedAt(ctx context.Context, projectID string) (time.Time, error)
}

// Aggregator answers analytics queries. It only reads and may run while
// ingestion is writing.
type Aggregator struct {
	store  Store
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// New builds an aggregator. c may be nil to disable caching.
func New(s Store, c cache.Cache, logger *zap.Logger) *Aggregator {
	if c == nil {
		c = cache.Nop{}
	}
	return &Aggregator{
		store:  s,
		cache:  c,
		logger: logger.Named("analytics"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func isOwn(r model.RankingResult, site string) bool {
	return competitor.Matches(r.Domain, site)
}

// observation is one scrape of one keyword with the best own listing in it
type observation struct {
	scrapedAt time.Time
	own       *model.RankingResult
}

// scrapesByKeyword groups results into per-keyword scrapes, newest first.
// results must be ordered by scraped_at descending, then position ascending.
func scrapesByKeyword(results []model.RankingResult, site string) map[string][]observation {
	out := make(map[string][]observation)
	for i := range results {
		r := &results[i]
		obs := out[r.KeywordID]
		if len(obs) == 0 || !obs[len(obs)-1].scrapedAt.Equal(r.ScrapedAt) {
			obs = append(obs, observation{scrapedAt: r.ScrapedAt})
		}
		last := &obs[len(obs)-1]
		if last.own == nil && r.Position != nil && isOwn(*r, site) {
			last.own = r
		}
		out[r.KeywordID] = obs
	}
	return out
}

func (o observation) position() *int {
	if o.own == nil {
		return nil
	}
	return o.own.Position
}

// latestPair returns the own positions of the two most recent scrapes
func latestPair(obs []observation) (current, previous *int) {
	if len(obs) > 0 {
		current = obs[0].position()
	}
	if len(obs) > 1 {
		previous = obs[1].position()
	}
	return current, previous
}

func averagePosition(results []model.RankingResult) *float64 {
	sum, n := 0, 0
	for _, r := range results {
		if r.Position != nil {
			sum += *r.Position
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := round(float64(sum)/float64(n), 2)
	return &avg
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
