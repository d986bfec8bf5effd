package competitor

import (
	"context"
	"testing"
	"time"

	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store    *store.MemoryStore
	resolver *Resolver
	project  model.Project
	keyword  model.Keyword
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	p := model.Project{Name: "Shop", IsActive: true, ReferenceSite: "example.fr"}
	require.NoError(t, s.CreateProject(ctx, &p))
	k := model.Keyword{ProjectID: p.ID, Keyword: "chaise", Location: "France", Language: "fr", IsActive: true}
	require.NoError(t, s.CreateKeyword(ctx, &k))
	return fixture{
		store:    s,
		resolver: NewResolver(s, zap.NewNop(), telemetry.NewNoop()),
		project:  p,
		keyword:  k,
	}
}

func (f fixture) insert(t *testing.T, results ...model.RankingResult) {
	t.Helper()
	for i := range results {
		results[i].ProjectID = f.project.ID
		results[i].KeywordID = f.keyword.ID
		results[i].ScrapedAt = time.Now().UTC()
	}
	require.NoError(t, f.store.InsertRankingResults(context.Background(), results, nil))
}

func TestResolver_DetectNewAndBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	known := model.Competitor{ProjectID: f.project.ID, Name: "Known", Domain: "known.fr"}
	require.NoError(t, f.store.CreateCompetitor(ctx, &known))

	f.insert(t,
		result("www.known.fr", 1, 10, "Known"),
		result("known.fr", 2, 10, "Known"),
		result("shop.rival.fr", 3, 12, "Rival"),
		result("rival.fr", 4, 12, "Rival"),
		result("rare.fr", 5, 12, "Rare"),
	)

	candidates, err := f.resolver.NewCandidates(ctx, f.project.ID, Thresholds{MinAppearances: 2, MinAuthorityScore: 20})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "rival.fr", candidates[0].Domain)

	detection, err := f.resolver.DetectNew(ctx, f.project.ID, Thresholds{MinAppearances: 2, MinAuthorityScore: 20}, true)
	require.NoError(t, err)
	require.Len(t, detection.Created, 1)
	rival := detection.Created[0]
	assert.Equal(t, "Rival", rival.Name)
	assert.Equal(t, "rival.fr", rival.Domain)

	updated, err := f.resolver.BackfillAssociations(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, updated)

	unattributed, err := f.store.ListRankingResults(ctx, store.ResultFilter{ProjectID: f.project.ID, OnlyUnattributed: true})
	require.NoError(t, err)
	require.Len(t, unattributed, 1)
	assert.Equal(t, "rare.fr", unattributed[0].Domain)

	// a second pass has nothing left to do
	updated, err = f.resolver.BackfillAssociations(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Zero(t, updated)
	detection, err = f.resolver.DetectNew(ctx, f.project.ID, Thresholds{MinAppearances: 2, MinAuthorityScore: 20}, true)
	require.NoError(t, err)
	assert.Empty(t, detection.Created)
}

func TestResolver_DetectWithoutAutoCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, result("rival.fr", 1, 0, "Rival"), result("rival.fr", 2, 0, "Rival"))

	detection, err := f.resolver.DetectNew(ctx, f.project.ID, Thresholds{MinAppearances: 2, MinAuthorityScore: 0}, false)
	require.NoError(t, err)
	assert.Len(t, detection.Candidates, 1)
	assert.Empty(t, detection.Created)

	competitors, err := f.store.ListCompetitors(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, competitors)
}

func TestResolver_CreateFromCandidateRecoversConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := model.Competitor{ProjectID: f.project.ID, Name: "Rival SAS", Domain: "rival.fr"}
	require.NoError(t, f.store.CreateCompetitor(ctx, &existing))

	got, err := f.resolver.CreateFromCandidate(ctx, f.project.ID, Candidate{Domain: "www.rival.fr", SuggestedName: "Rival"})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
}

func TestDomainMap_Resolve(t *testing.T) {
	m := DomainMap{"rival.fr": "c1"}
	assert.Equal(t, "c1", m.Resolve("www.rival.fr"))
	assert.Equal(t, "c1", m.Resolve("m.rival.fr"))
	assert.Empty(t, m.Resolve("other.fr"))
}
