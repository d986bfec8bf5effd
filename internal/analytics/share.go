package analytics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shaibs3/shopwatch/internal/cache"
	"github.com/shaibs3/shopwatch/internal/competitor"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
)

const DefaultSharePeriod = 30 * 24 * time.Hour

var ErrInvalidPeriod = errors.New("period end is before its start")

// Period bounds a query, inclusive. A zero End means now and a zero Start
// means DefaultSharePeriod before End.
type Period struct {
	Start time.Time
	End   time.Time
}

type ShareOfVoiceItem struct {
	Domain          string   `json:"domain"`
	MerchantName    string   `json:"merchant_name"`
	CompetitorID    string   `json:"competitor_id,omitempty"`
	CompetitorName  string   `json:"competitor_name"`
	Appearances     int      `json:"appearances"`
	SharePercentage float64  `json:"share_percentage"`
	AveragePosition *float64 `json:"average_position"`
}

type ShareOfVoice struct {
	ProjectID        string             `json:"project_id"`
	PeriodStart      time.Time          `json:"period_start"`
	PeriodEnd        time.Time          `json:"period_end"`
	TotalAppearances int                `json:"total_appearances"`
	Items            []ShareOfVoiceItem `json:"competitors"`
}

// ShareOfVoice splits the appearances of the period between (domain, merchant)
// pairs. Results without a domain are left out of both sides of the ratio, so
// the percentages of a non-empty period add up to 100.
func (a *Aggregator) ShareOfVoice(ctx context.Context, projectID string, period Period) (ShareOfVoice, error) {
	now := a.now()
	resolved := period
	if resolved.End.IsZero() {
		resolved.End = now
	}
	if resolved.Start.IsZero() {
		resolved.Start = resolved.End.Add(-DefaultSharePeriod)
	}
	if resolved.End.Before(resolved.Start) {
		return ShareOfVoice{}, ErrInvalidPeriod
	}

	// a defaulted bound is keyed as empty so the entry survives until invalidation or expiry
	key := cache.NewKey("share-of-voice", projectID, map[string]any{
		"start": formatBound(period.Start),
		"end":   formatBound(period.End),
	})
	var sov ShareOfVoice
	if a.cache.Get(ctx, key, &sov) {
		return sov, nil
	}

	sov, err := a.shareOfVoice(ctx, projectID, resolved)
	if err != nil {
		return ShareOfVoice{}, err
	}
	a.cache.Set(ctx, key, sov, cache.TTLFor(resolved.End, now))
	return sov, nil
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type shareGroup struct {
	domain   string
	merchant string
}

func (a *Aggregator) shareOfVoice(ctx context.Context, projectID string, period Period) (ShareOfVoice, error) {
	if _, err := a.store.GetProject(ctx, projectID); err != nil {
		return ShareOfVoice{}, err
	}
	results, err := a.store.ListRankingResults(ctx, store.ResultFilter{
		ProjectID:      projectID,
		From:           period.Start,
		To:             period.End,
		OnlyWithDomain: true,
	})
	if err != nil {
		return ShareOfVoice{}, fmt.Errorf("failed to list results: %w", err)
	}
	competitors, err := a.store.ListCompetitors(ctx, projectID)
	if err != nil {
		return ShareOfVoice{}, fmt.Errorf("failed to list competitors: %w", err)
	}
	byDomain := make(map[string]model.Competitor, len(competitors))
	for _, c := range competitors {
		byDomain[competitor.NormalizeDomain(c.Domain)] = c
	}

	groups := make(map[shareGroup][]model.RankingResult)
	for _, r := range results {
		g := shareGroup{domain: r.Domain, merchant: r.MerchantName}
		groups[g] = append(groups[g], r)
	}

	items := make([]ShareOfVoiceItem, 0, len(groups))
	for g, rs := range groups {
		item := ShareOfVoiceItem{
			Domain:          g.domain,
			MerchantName:    g.merchant,
			CompetitorName:  cmp.Or(g.merchant, g.domain),
			Appearances:     len(rs),
			SharePercentage: percent(len(rs), len(results)),
			AveragePosition: averagePosition(rs),
		}
		if c, ok := byDomain[competitor.NormalizeDomain(g.domain)]; ok {
			item.CompetitorID = c.ID
			item.CompetitorName = c.DisplayName()
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b ShareOfVoiceItem) int {
		if c := cmp.Compare(b.Appearances, a.Appearances); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Domain, b.Domain); c != 0 {
			return c
		}
		return cmp.Compare(a.MerchantName, b.MerchantName)
	})

	return ShareOfVoice{
		ProjectID:        projectID,
		PeriodStart:      period.Start,
		PeriodEnd:        period.End,
		TotalAppearances: len(results),
		Items:            items,
	}, nil
}
