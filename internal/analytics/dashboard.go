package analytics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shaibs3/shopwatch/internal/cache"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultDashboardDays = 7

	opportunityMin   = 11
	opportunityMax   = 20
	topLimit         = 5
	recentChangesMax = 3
	recentWindow     = 48 * time.Hour
)

type DashboardMetrics struct {
	TotalKeywords      int        `json:"total_keywords"`
	TotalCompetitors   int        `json:"total_competitors"`
	AveragePosition    *float64   `json:"average_position"`
	ShareOfVoice       float64    `json:"share_of_voice"`
	VisibilityScore    float64    `json:"visibility_score"`
	TotalOpportunities int        `json:"total_opportunities"`
	LastScrapeDate     *time.Time `json:"last_scrape_date"`
}

type TopKeyword struct {
	KeywordID    string `json:"keyword_id"`
	Keyword      string `json:"keyword"`
	Position     int    `json:"position"`
	SearchVolume *int   `json:"search_volume"`
	Trend        Trend  `json:"trend"`
}

type TopCompetitor struct {
	CompetitorID    string   `json:"competitor_id"`
	Name            string   `json:"name"`
	Domain          string   `json:"domain"`
	Appearances     int      `json:"appearances"`
	ShareOfVoice    float64  `json:"share_of_voice"`
	AveragePosition *float64 `json:"avg_position"`
}

// PositionChange is an own-domain move between the two latest scrapes of a keyword.
// Delta is positive when the position improved.
type PositionChange struct {
	KeywordID string    `json:"keyword_id"`
	Keyword   string    `json:"keyword"`
	Previous  int       `json:"previous_position"`
	Current   int       `json:"current_position"`
	Delta     int       `json:"delta"`
	Trend     Trend     `json:"trend"`
	Date      time.Time `json:"date"`
}

type Dashboard struct {
	ProjectID      string           `json:"project_id"`
	ProjectName    string           `json:"project_name"`
	ReferenceSite  string           `json:"reference_site,omitempty"`
	PeriodStart    time.Time        `json:"period_start"`
	PeriodEnd      time.Time        `json:"period_end"`
	Metrics        DashboardMetrics `json:"metrics"`
	TopKeywords    []TopKeyword     `json:"top_keywords"`
	TopCompetitors []TopCompetitor  `json:"top_competitors"`
	RecentChanges  []PositionChange `json:"recent_changes"`
}

// Dashboard computes the project overview over the trailing days window.
// days <= 0 selects DefaultDashboardDays.
func (a *Aggregator) Dashboard(ctx context.Context, projectID string, days int) (Dashboard, error) {
	if days <= 0 {
		days = DefaultDashboardDays
	}
	key := cache.NewKey("dashboard", projectID, map[string]any{"days": days})
	var d Dashboard
	if a.cache.Get(ctx, key, &d) {
		return d, nil
	}

	now := a.now()
	d, err := a.dashboard(ctx, projectID, days, now)
	if err != nil {
		return Dashboard{}, err
	}
	a.cache.Set(ctx, key, d, cache.TTLFor(now, now))
	return d, nil
}

func (a *Aggregator) dashboard(ctx context.Context, projectID string, days int, now time.Time) (Dashboard, error) {
	project, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return Dashboard{}, err
	}
	keywords, err := a.store.ListKeywords(ctx, projectID, false)
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to list keywords: %w", err)
	}
	competitors, err := a.store.ListCompetitors(ctx, projectID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to list competitors: %w", err)
	}

	start := now.Add(-time.Duration(days) * 24 * time.Hour)
	window, err := a.store.ListRankingResults(ctx, store.ResultFilter{ProjectID: projectID, From: start, To: now})
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to list results: %w", err)
	}
	recent, err := a.store.ListRankingResults(ctx, store.ResultFilter{ProjectID: projectID, From: now.Add(-recentWindow), To: now})
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to list recent results: %w", err)
	}

	activeKeywords := 0
	keywordByID := make(map[string]model.Keyword, len(keywords))
	for _, k := range keywords {
		keywordByID[k.ID] = k
		if k.IsActive {
			activeKeywords++
		}
	}

	d := Dashboard{
		ProjectID:     project.ID,
		ProjectName:   project.Name,
		ReferenceSite: project.ReferenceSite,
		PeriodStart:   start,
		PeriodEnd:     now,
		Metrics:       a.metrics(window, project.ReferenceSite, activeKeywords, len(competitors)),
	}

	last, err := a.store.LastScrapedAt(ctx, projectID)
	switch {
	case err == nil:
		d.Metrics.LastScrapeDate = &last
	case !errors.Is(err, store.ErrNotFound):
		// a missing metric must not fail the dashboard
		a.logger.Warn("failed to read last scrape date", zap.String("project_id", projectID), zap.Error(err))
	}

	d.TopKeywords = topKeywords(window, project.ReferenceSite, keywordByID)
	d.TopCompetitors = topCompetitors(window, competitors)
	d.RecentChanges = recentChanges(recent, project.ReferenceSite, keywordByID)
	return d, nil
}

func (a *Aggregator) metrics(window []model.RankingResult, site string, activeKeywords, competitors int) DashboardMetrics {
	m := DashboardMetrics{TotalKeywords: activeKeywords, TotalCompetitors: competitors}

	var own []model.RankingResult
	ownAll, withDomain := 0, 0
	for _, r := range window {
		if r.Position != nil && *r.Position >= opportunityMin && *r.Position <= opportunityMax {
			m.TotalOpportunities++
		}
		if r.Domain == "" {
			continue
		}
		withDomain++
		if isOwn(r, site) {
			ownAll++
			if r.Position != nil {
				own = append(own, r)
			}
		}
	}

	m.AveragePosition = averagePosition(own)
	m.ShareOfVoice = round(percent(ownAll, withDomain), 2)
	if m.AveragePosition != nil {
		positionScore := max(0, 100-*m.AveragePosition*5)
		m.VisibilityScore = round(min(100, positionScore*float64(len(own))/float64(max(activeKeywords, 1))), 2)
	}
	return m
}

func topKeywords(window []model.RankingResult, site string, keywords map[string]model.Keyword) []TopKeyword {
	best := make(map[string]int)
	for _, r := range window {
		if r.Position == nil || !isOwn(r, site) {
			continue
		}
		if p, ok := best[r.KeywordID]; !ok || *r.Position < p {
			best[r.KeywordID] = *r.Position
		}
	}
	scrapes := scrapesByKeyword(window, site)

	out := make([]TopKeyword, 0, len(best))
	for id, position := range best {
		k := keywords[id]
		out = append(out, TopKeyword{
			KeywordID:    id,
			Keyword:      k.Keyword,
			Position:     position,
			SearchVolume: k.SearchVolume,
			Trend:        ClassifyTrend(latestPair(scrapes[id])),
		})
	}
	slices.SortFunc(out, func(a, b TopKeyword) int {
		if c := cmp.Compare(volume(b.SearchVolume), volume(a.SearchVolume)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.Keyword, b.Keyword)
	})
	return out[:min(len(out), topLimit)]
}

func volume(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func topCompetitors(window []model.RankingResult, competitors []model.Competitor) []TopCompetitor {
	byCompetitor := make(map[string][]model.RankingResult)
	for _, r := range window {
		if r.CompetitorID != "" {
			byCompetitor[r.CompetitorID] = append(byCompetitor[r.CompetitorID], r)
		}
	}

	out := make([]TopCompetitor, 0, len(byCompetitor))
	for _, c := range competitors {
		results, ok := byCompetitor[c.ID]
		if !ok {
			continue
		}
		out = append(out, TopCompetitor{
			CompetitorID:    c.ID,
			Name:            c.DisplayName(),
			Domain:          c.Domain,
			Appearances:     len(results),
			ShareOfVoice:    round(percent(len(results), len(window)), 2),
			AveragePosition: averagePosition(results),
		})
	}
	slices.SortFunc(out, func(a, b TopCompetitor) int {
		if c := cmp.Compare(b.Appearances, a.Appearances); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out[:min(len(out), topLimit)]
}

func recentChanges(recent []model.RankingResult, site string, keywords map[string]model.Keyword) []PositionChange {
	out := make([]PositionChange, 0)
	for id, obs := range scrapesByKeyword(recent, site) {
		current, previous := latestPair(obs)
		if current == nil || previous == nil || *current == *previous {
			continue
		}
		out = append(out, PositionChange{
			KeywordID: id,
			Keyword:   keywords[id].Keyword,
			Previous:  *previous,
			Current:   *current,
			Delta:     *previous - *current,
			Trend:     ClassifyTrend(current, previous),
			Date:      obs[0].scrapedAt,
		})
	}
	slices.SortFunc(out, func(a, b PositionChange) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Keyword, b.Keyword)
	})
	return out[:min(len(out), recentChangesMax)]
}
