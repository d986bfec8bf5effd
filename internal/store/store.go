package store

import (
	"context"
	"time"

	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store/shared"
)

// Re-export shared types for convenience
type DbType = shared.DbType
type StoreConfig = shared.StoreConfig
type ResultFilter = shared.ResultFilter

const (
	DbTypePostgres = shared.DbTypePostgres
	DbTypeMemory   = shared.DbTypeMemory
)

var (
	ErrNotFound = shared.ErrNotFound
	ErrConflict = shared.ErrConflict
)

// ProjectStore persists projects. Deleting a project cascades to its keywords,
// competitors and ranking results.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (model.Project, error)
	ListProjects(ctx context.Context, activeOnly bool) ([]model.Project, error)
	UpdateProject(ctx context.Context, p model.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// KeywordStore persists keywords. (project, keyword, location) is unique.
type KeywordStore interface {
	CreateKeyword(ctx context.Context, k *model.Keyword) error
	GetKeyword(ctx context.Context, id string) (model.Keyword, error)
	ListKeywords(ctx context.Context, projectID string, activeOnly bool) ([]model.Keyword, error)
}

// CompetitorStore persists competitors. (project, domain) is unique.
type CompetitorStore interface {
	CreateCompetitor(ctx context.Context, c *model.Competitor) error
	GetCompetitor(ctx context.Context, id string) (model.Competitor, error)
	ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error)
	// DeleteCompetitor removes the competitor and clears the reference on its ranking results
	DeleteCompetitor(ctx context.Context, projectID, id string) error
}

// UniqueURLStore persists the global canonical URL registry
type UniqueURLStore interface {
	GetUniqueURL(ctx context.Context, id string) (model.UniqueURL, error)
	GetUniqueURLByURL(ctx context.Context, url string) (model.UniqueURL, error)
	// InsertUniqueURL returns ErrConflict when the canonical URL already exists
	InsertUniqueURL(ctx context.Context, u *model.UniqueURL) error
	// FillProductData attaches data and marks the row completed only if it has no
	// product data yet. It reports whether the row was changed.
	FillProductData(ctx context.Context, id string, data model.ProductData, scrapedAt time.Time) (bool, error)
	// TransitionUniqueURL moves a row to status `to` if its current status is one
	// of `from`, and returns ErrConflict otherwise. A nil data keeps the payload.
	TransitionUniqueURL(ctx context.Context, id string, from []model.ScrapeStatus, to model.ScrapeStatus, lastScraped *time.Time, data model.ProductData) error
	// ListUniqueURLsForScrape returns rows in one of statuses whose last scrape is
	// unset or before olderThan, oldest first.
	ListUniqueURLsForScrape(ctx context.Context, statuses []model.ScrapeStatus, olderThan time.Time, limit int) ([]model.UniqueURL, error)
	CountUniqueURLs(ctx context.Context) (int, error)
}

// ResultStore persists ranking results and their URL mappings
type ResultStore interface {
	// InsertRankingResults writes results and mappings atomically
	InsertRankingResults(ctx context.Context, results []model.RankingResult, mappings []model.SerpURLMapping) error
	ListRankingResults(ctx context.Context, filter ResultFilter) ([]model.RankingResult, error)
	ListURLMappings(ctx context.Context, resultIDs []string) ([]model.SerpURLMapping, error)
	// SetResultCompetitors assigns competitor ids (result id -> competitor id) to
	// results that have none and share the competitor's project. It returns the
	// number of results updated.
	SetResultCompetitors(ctx context.Context, assignments map[string]string) (int, error)
	// LastScrapedAt returns the most recent scrape time of a project, or ErrNotFound
	LastScrapedAt(ctx context.Context, projectID string) (time.Time, error)
}

// Store is the persistence collaborator used by every component
type Store interface {
	ProjectStore
	KeywordStore
	CompetitorStore
	UniqueURLStore
	ResultStore
	// Migrate creates the schema where the backend has one
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
