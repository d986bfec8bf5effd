package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shaibs3/shopwatch/internal/cache"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *store.MemoryStore
	agg        *Aggregator
	project    model.Project
	keywords   map[string]model.Keyword
	competitor model.Competitor
}

func intPtr(v int) *int { return &v }

func newFixture(t *testing.T, c cache.Cache) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := model.Project{Name: "Example", IsActive: true, ReferenceSite: "example.fr"}
	require.NoError(t, s.CreateProject(ctx, &p))

	f := &fixture{store: s, project: p, keywords: map[string]model.Keyword{}}
	for i, def := range []struct {
		text   string
		volume *int
		active bool
	}{
		{"chaise", intPtr(500), true},
		{"table", intPtr(1000), true},
		{"lampe", nil, true},
		{"tapis", nil, false},
	} {
		k := model.Keyword{
			ProjectID:    p.ID,
			Keyword:      def.text,
			Location:     "France",
			Language:     "fr",
			SearchVolume: def.volume,
			IsActive:     def.active,
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateKeyword(ctx, &k))
		f.keywords[def.text] = k
	}
	f.competitor = model.Competitor{ProjectID: p.ID, Name: "Rival", Domain: "rival.fr"}
	require.NoError(t, s.CreateCompetitor(ctx, &f.competitor))

	f.agg = New(s, c, zap.NewNop())
	f.agg.now = func() time.Time { return now }
	return f
}

func (f *fixture) fact(keyword string, at time.Time, domain string, position int) model.RankingResult {
	r := model.RankingResult{
		ProjectID: f.project.ID,
		KeywordID: f.keywords[keyword].ID,
		ScrapedAt: at,
		Position:  intPtr(position),
		Domain:    domain,
	}
	switch domain {
	case "example.fr":
		r.MerchantName = "Example"
		r.URL = "https://example.fr/" + keyword
	case "rival.fr":
		r.MerchantName = "Rival"
		r.URL = "https://rival.fr/" + keyword
		r.CompetitorID = f.competitor.ID
	}
	return r
}

func (f *fixture) insert(t *testing.T, results ...model.RankingResult) {
	t.Helper()
	require.NoError(t, f.store.InsertRankingResults(context.Background(), results, nil))
}

// seed inserts two scrapes of "chaise", one of "table" and an old one of "lampe"
func (f *fixture) seed(t *testing.T) {
	scrapeA := now.Add(-30 * time.Hour)
	scrapeB := now.Add(-2 * time.Hour)
	chaiseA := f.fact("chaise", scrapeA, "example.fr", 5)
	chaiseA.URL = "https://example.fr/chaise-a"
	f.insert(t,
		chaiseA,
		f.fact("chaise", scrapeA, "rival.fr", 1),
		f.fact("chaise", scrapeB, "example.fr", 3),
		f.fact("chaise", scrapeB, "rival.fr", 2),
		f.fact("chaise", scrapeB, "", 4),
		f.fact("table", scrapeB, "rival.fr", 1),
		f.fact("table", scrapeB, "example.fr", 12),
		f.fact("lampe", now.Add(-10*24*time.Hour), "example.fr", 1),
	)
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name     string
		current  *int
		previous *int
		want     Trend
	}{
		{"improved", intPtr(3), intPtr(5), TrendUp},
		{"declined", intPtr(5), intPtr(3), TrendDown},
		{"unchanged", intPtr(5), intPtr(5), TrendStable},
		{"first sighting", intPtr(5), nil, TrendNew},
		{"dropped out", nil, intPtr(5), TrendLost},
		{"never ranked", nil, nil, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTrend(tt.current, tt.previous))
		})
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	d, err := f.agg.Dashboard(context.Background(), f.project.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, "Example", d.ProjectName)
	assert.Equal(t, now.Add(-7*24*time.Hour), d.PeriodStart)
	m := d.Metrics
	assert.Equal(t, 3, m.TotalKeywords)
	assert.Equal(t, 1, m.TotalCompetitors)
	require.NotNil(t, m.AveragePosition)
	assert.InDelta(t, 6.67, *m.AveragePosition, 0.001)
	assert.InDelta(t, 50.0, m.ShareOfVoice, 0.001)
	assert.InDelta(t, 66.65, m.VisibilityScore, 0.001)
	assert.Equal(t, 1, m.TotalOpportunities)
	require.NotNil(t, m.LastScrapeDate)
	assert.Equal(t, now.Add(-2*time.Hour), *m.LastScrapeDate)

	require.Len(t, d.TopKeywords, 2)
	assert.Equal(t, "table", d.TopKeywords[0].Keyword)
	assert.Equal(t, 12, d.TopKeywords[0].Position)
	assert.Equal(t, TrendNew, d.TopKeywords[0].Trend)
	assert.Equal(t, "chaise", d.TopKeywords[1].Keyword)
	assert.Equal(t, 3, d.TopKeywords[1].Position)
	assert.Equal(t, TrendUp, d.TopKeywords[1].Trend)

	require.Len(t, d.TopCompetitors, 1)
	tc := d.TopCompetitors[0]
	assert.Equal(t, "Rival", tc.Name)
	assert.Equal(t, 3, tc.Appearances)
	assert.InDelta(t, 42.86, tc.ShareOfVoice, 0.001)
	require.NotNil(t, tc.AveragePosition)
	assert.InDelta(t, 1.33, *tc.AveragePosition, 0.001)

	require.Len(t, d.RecentChanges, 1)
	change := d.RecentChanges[0]
	assert.Equal(t, "chaise", change.Keyword)
	assert.Equal(t, 5, change.Previous)
	assert.Equal(t, 3, change.Current)
	assert.Equal(t, 2, change.Delta)
	assert.Equal(t, TrendUp, change.Trend)
	assert.Equal(t, now.Add(-2*time.Hour), change.Date)
}

func TestDashboard_NoData(t *testing.T) {
	f := newFixture(t, nil)

	d, err := f.agg.Dashboard(context.Background(), f.project.ID, 7)
	require.NoError(t, err)
	assert.Nil(t, d.Metrics.AveragePosition)
	assert.Zero(t, d.Metrics.VisibilityScore)
	assert.Zero(t, d.Metrics.ShareOfVoice)
	assert.Nil(t, d.Metrics.LastScrapeDate)
	assert.Empty(t, d.TopKeywords)
	assert.Empty(t, d.TopCompetitors)
	assert.Empty(t, d.RecentChanges)
}

func TestDashboard_UnknownProject(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.agg.Dashboard(context.Background(), "missing", 7)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDashboard_Cached(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	f := newFixture(t, rc)
	f.seed(t)
	ctx := context.Background()

	first, err := f.agg.Dashboard(ctx, f.project.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Metrics.TotalOpportunities)

	f.insert(t, f.fact("chaise", now.Add(-time.Hour), "rival.fr", 15))
	cached, err := f.agg.Dashboard(ctx, f.project.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Metrics.TotalOpportunities)

	require.NoError(t, rc.InvalidateProject(ctx, f.project.ID))
	fresh, err := f.agg.Dashboard(ctx, f.project.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Metrics.TotalOpportunities)
}

func TestShareOfVoice_DefaultPeriod(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	sov, err := f.agg.ShareOfVoice(context.Background(), f.project.ID, Period{})
	require.NoError(t, err)
	assert.Equal(t, now, sov.PeriodEnd)
	assert.Equal(t, now.Add(-DefaultSharePeriod), sov.PeriodStart)
	assert.Equal(t, 7, sov.TotalAppearances)
	require.Len(t, sov.Items, 2)

	assert.Equal(t, "example.fr", sov.Items[0].Domain)
	assert.Equal(t, 4, sov.Items[0].Appearances)
	assert.Empty(t, sov.Items[0].CompetitorID)
	assert.Equal(t, "Example", sov.Items[0].CompetitorName)

	assert.Equal(t, "rival.fr", sov.Items[1].Domain)
	assert.Equal(t, f.competitor.ID, sov.Items[1].CompetitorID)
	require.NotNil(t, sov.Items[1].AveragePosition)
	assert.InDelta(t, 1.33, *sov.Items[1].AveragePosition, 0.001)

	total := 0.0
	for _, item := range sov.Items {
		total += item.SharePercentage
	}
	assert.InDelta(t, 100.0, total, 1e-9)
}

func TestShareOfVoice_ExplicitPeriod(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	sov, err := f.agg.ShareOfVoice(ctx, f.project.ID, Period{Start: now.Add(-72 * time.Hour), End: now})
	require.NoError(t, err)
	assert.Equal(t, 6, sov.TotalAppearances)
	require.Len(t, sov.Items, 2)
	assert.Equal(t, "example.fr", sov.Items[0].Domain)
	assert.InDelta(t, 50.0, sov.Items[0].SharePercentage, 1e-9)
	assert.InDelta(t, 50.0, sov.Items[1].SharePercentage, 1e-9)

	empty, err := f.agg.ShareOfVoice(ctx, f.project.ID, Period{Start: now.Add(-400 * 24 * time.Hour), End: now.Add(-300 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalAppearances)
	assert.Empty(t, empty.Items)

	_, err = f.agg.ShareOfVoice(ctx, f.project.ID, Period{Start: now, End: now.Add(-time.Hour)})
	require.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestKeywordPositions(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	// the newest lampe scrape no longer lists the reference site
	f.insert(t, f.fact("lampe", now.Add(-time.Hour), "rival.fr", 1))
	// tapis was scraped but the reference site never ranked
	f.insert(t, f.fact("tapis", now.Add(-time.Hour), "rival.fr", 2))

	kp, err := f.agg.KeywordPositions(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "example.fr", kp.ReferenceSite)
	assert.Equal(t, 4, kp.TotalKeywords)
	assert.Equal(t, 2, kp.PositionedKeywords)
	require.Len(t, kp.Keywords, 4)

	chaise := kp.Keywords[0]
	assert.Equal(t, "chaise", chaise.Keyword)
	assert.Equal(t, 500, chaise.SearchVolume)
	assert.Equal(t, 3, *chaise.CurrentPosition)
	assert.Equal(t, 5, *chaise.PreviousPosition)
	assert.Equal(t, TrendUp, chaise.Trend)
	assert.Equal(t, "https://example.fr/chaise", chaise.CurrentURL)
	assert.Equal(t, 2, chaise.TotalURLsPositioned)
	assert.Equal(t, now.Add(-2*time.Hour), *chaise.LastScraped)

	table := kp.Keywords[1]
	assert.Equal(t, "table", table.Keyword)
	assert.Equal(t, 12, *table.CurrentPosition)
	assert.Equal(t, now.Add(-2*time.Hour), *table.LastScraped)
	assert.Nil(t, table.PreviousPosition)
	assert.Equal(t, TrendNew, table.Trend)

	lampe := kp.Keywords[2]
	assert.Equal(t, "lampe", lampe.Keyword)
	assert.Nil(t, lampe.CurrentPosition)
	assert.Equal(t, 1, *lampe.PreviousPosition)
	assert.Equal(t, TrendLost, lampe.Trend)
	assert.Empty(t, lampe.CurrentURL)
	assert.Equal(t, 1, lampe.TotalURLsPositioned)
	// the newer scrape without the reference site does not move it
	assert.Equal(t, now.Add(-10*24*time.Hour), *lampe.LastScraped)

	tapis := kp.Keywords[3]
	assert.Equal(t, "tapis", tapis.Keyword)
	assert.Equal(t, TrendStable, tapis.Trend)
	assert.Nil(t, tapis.LastScraped)
	assert.Zero(t, tapis.TotalURLsPositioned)
}

func TestAnalysisStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	status, err := f.agg.AnalysisStatus(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNeverScraped, status.Status)
	assert.Nil(t, status.LastScrape)

	f.seed(t)
	status, err = f.agg.AnalysisStatus(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, now.Add(-2*time.Hour), *status.LastScrape)
	assert.Equal(t, 5, status.ResultsCount)

	_, err = f.agg.AnalysisStatus(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
