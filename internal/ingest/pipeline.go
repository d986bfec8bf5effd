// Package ingest turns provider listings into persisted, attributed ranking results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shaibs3/shopwatch/internal/competitor"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/provider"
	"github.com/shaibs3/shopwatch/internal/registry"
	"github.com/shaibs3/shopwatch/internal/store"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrProjectInactive  = errors.New("project is not active")
	ErrNoActiveKeywords = errors.New("project has no active keywords")
)

// Options tune one ingestion pass
type Options struct {
	MaxConcurrent int
	RequestDelay  time.Duration
	Detection     competitor.Thresholds
	AutoCreate    bool
}

// CacheInvalidator drops cached analytics of a project
type CacheInvalidator interface {
	InvalidateProject(ctx context.Context, projectID string) error
}

// KeywordError is the failure of one keyword within a pass
type KeywordError struct {
	KeywordID string
	Keyword   string
	Err       error
}

func (e *KeywordError) Error() string {
	return fmt.Sprintf("keyword %q: %v", e.Keyword, e.Err)
}

func (e *KeywordError) Unwrap() error { return e.Err }

// KeywordReport summarizes one keyword of a pass
type KeywordReport struct {
	KeywordID  string `json:"keyword_id"`
	Keyword    string `json:"keyword"`
	Listings   int    `json:"listings"`
	Results    int    `json:"results"`
	UniqueURLs int    `json:"unique_urls"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes a project pass
type Report struct {
	ProjectID           string                 `json:"project_id"`
	StartedAt           time.Time              `json:"started_at"`
	FinishedAt          time.Time              `json:"finished_at"`
	KeywordsProcessed   int                    `json:"keywords_processed"`
	ResultsSaved        int                    `json:"results_saved"`
	Keywords            []KeywordReport        `json:"keywords"`
	Failures            []*KeywordError        `json:"-"`
	NewCompetitors      []competitor.Candidate `json:"new_competitors"`
	CompetitorsCreated  int                    `json:"competitors_created"`
	AssociationsUpdated int                    `json:"associations_updated"`
}

// Pipeline ingests the keywords of a project
type Pipeline struct {
	store       store.Store
	fetcher     provider.Fetcher
	registry    *registry.Registry
	resolver    *competitor.Resolver
	cache       CacheInvalidator
	logger      *zap.Logger
	instruments *telemetry.Instruments
	opts        Options
	now         func() time.Time
}

// New builds a pipeline. cache may be nil.
func New(s store.Store, fetcher provider.Fetcher, reg *registry.Registry, resolver *competitor.Resolver,
	cache CacheInvalidator, opts Options, logger *zap.Logger, tel *telemetry.Telemetry) *Pipeline {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Pipeline{
		store:       s,
		fetcher:     fetcher,
		registry:    reg,
		resolver:    resolver,
		cache:       cache,
		logger:      logger.Named("ingest"),
		instruments: tel.Instruments,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// IngestProject runs every active keyword of the project through the provider
// with bounded concurrency, then detects new competitors and backfills
// attributions once for the whole pass. A failing keyword is reported and does
// not stop its siblings.
func (p *Pipeline) IngestProject(ctx context.Context, projectID string) (Report, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return Report{}, err
	}
	if !project.IsActive {
		return Report{}, fmt.Errorf("%s: %w", projectID, ErrProjectInactive)
	}
	keywords, err := p.store.ListKeywords(ctx, projectID, true)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list keywords: %w", err)
	}
	if len(keywords) == 0 {
		return Report{}, fmt.Errorf("%s: %w", projectID, ErrNoActiveKeywords)
	}
	domains, err := p.resolver.DomainMap(ctx, projectID)
	if err != nil {
		return Report{}, err
	}

	report := Report{ProjectID: projectID, StartedAt: p.now()}
	maxConcurrent := min(len(keywords), p.opts.MaxConcurrent)
	p.logger.Info("starting project ingestion",
		zap.String("project_id", projectID),
		zap.Int("keywords", len(keywords)),
		zap.Int("max_concurrent", maxConcurrent),
		zap.Duration("request_delay", p.opts.RequestDelay))

	limit := rate.Inf
	if p.opts.RequestDelay > 0 {
		limit = rate.Every(p.opts.RequestDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	reports := make([]KeywordReport, len(keywords))
	failures := make([]*KeywordError, len(keywords))
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, kw := range keywords {
		g.Go(func() error {
			kr, err := p.ingestWithPacing(ctx, limiter, project, kw, domains)
			if err != nil {
				failures[i] = &KeywordError{KeywordID: kw.ID, Keyword: kw.Keyword, Err: err}
				kr.Error = err.Error()
				p.instruments.KeywordFailures.Add(ctx, 1)
				p.logger.Warn("keyword ingestion failed",
					zap.String("project_id", projectID),
					zap.String("keyword", kw.Keyword),
					zap.Error(err))
			}
			reports[i] = kr
			return nil
		})
	}
	_ = g.Wait()

	report.Keywords = reports
	for i, kr := range reports {
		if failures[i] != nil {
			report.Failures = append(report.Failures, failures[i])
			continue
		}
		report.KeywordsProcessed++
		report.ResultsSaved += kr.Results
	}

	if err := p.afterPass(ctx, projectID, &report); err != nil {
		report.FinishedAt = p.now()
		return report, err
	}

	report.FinishedAt = p.now()
	p.logger.Info("project ingestion finished",
		zap.String("project_id", projectID),
		zap.Int("keywords_processed", report.KeywordsProcessed),
		zap.Int("keywords_failed", len(report.Failures)),
		zap.Int("results_saved", report.ResultsSaved),
		zap.Int("competitors_created", report.CompetitorsCreated),
		zap.Int("associations_updated", report.AssociationsUpdated),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// afterPass runs the project-level steps that must not race across keywords
func (p *Pipeline) afterPass(ctx context.Context, projectID string, report *Report) error {
	detection, err := p.resolver.DetectNew(ctx, projectID, p.opts.Detection, p.opts.AutoCreate)
	if err != nil {
		return fmt.Errorf("competitor detection failed: %w", err)
	}
	report.NewCompetitors = detection.Candidates
	report.CompetitorsCreated = len(detection.Created)

	updated, err := p.resolver.BackfillAssociations(ctx, projectID)
	if err != nil {
		return fmt.Errorf("association backfill failed: %w", err)
	}
	report.AssociationsUpdated = updated

	if p.cache != nil {
		if err := p.cache.InvalidateProject(ctx, projectID); err != nil {
			p.logger.Warn("failed to invalidate cache", zap.String("project_id", projectID), zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) ingestWithPacing(ctx context.Context, limiter *rate.Limiter, project model.Project, kw model.Keyword, domains competitor.DomainMap) (KeywordReport, error) {
	if err := limiter.Wait(ctx); err != nil {
		return KeywordReport{KeywordID: kw.ID, Keyword: kw.Keyword}, err
	}
	return p.IngestKeyword(ctx, project, kw, domains)
}

// IngestKeyword fetches, deduplicates and persists the listings of one keyword.
// Positions are 1-based in provider order after dropping listings without a URL.
func (p *Pipeline) IngestKeyword(ctx context.Context, project model.Project, kw model.Keyword, domains competitor.DomainMap) (KeywordReport, error) {
	kr := KeywordReport{KeywordID: kw.ID, Keyword: kw.Keyword}

	listings, err := p.fetcher.FetchListings(ctx, kw.Keyword, kw.Location, kw.Language)
	if err != nil {
		return kr, fmt.Errorf("failed to fetch listings: %w", err)
	}
	kr.Listings = len(listings)

	items, err := p.registry.Deduplicate(ctx, listings)
	if err != nil {
		return kr, fmt.Errorf("failed to deduplicate listings: %w", err)
	}

	scrapedAt := p.now()
	results := make([]model.RankingResult, 0, len(items))
	mappings := make([]model.SerpURLMapping, 0, len(items))
	uniques := make(map[string]struct{}, len(items))
	for i, item := range items {
		r := buildResult(project.ID, kw.ID, item, i+1, scrapedAt)
		r.CompetitorID = domains.Resolve(item.Domain)
		results = append(results, r)
		mappings = append(mappings, model.SerpURLMapping{
			SerpResultID: r.ID,
			UniqueURLID:  item.UniqueURLID,
			Position:     r.Position,
			Title:        r.Title,
			Description:  r.Description,
			CreatedAt:    scrapedAt,
		})
		uniques[item.UniqueURLID] = struct{}{}
	}

	if err := p.store.InsertRankingResults(ctx, results, mappings); err != nil {
		return kr, fmt.Errorf("failed to save ranking results: %w", err)
	}

	kr.Results = len(results)
	kr.UniqueURLs = len(uniques)
	p.instruments.ListingsIngested.Add(ctx, int64(len(results)),
		metric.WithAttributes(attribute.String("project_id", project.ID)))
	p.logger.Debug("keyword ingested",
		zap.String("keyword", kw.Keyword),
		zap.Int("listings", kr.Listings),
		zap.Int("results", kr.Results),
		zap.Int("unique_urls", kr.UniqueURLs))
	return kr, nil
}

func buildResult(projectID, keywordID string, item registry.Item, position int, scrapedAt time.Time) model.RankingResult {
	l := item.Listing
	pos := position
	r := model.RankingResult{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		KeywordID:        keywordID,
		ScrapedAt:        scrapedAt,
		Position:         &pos,
		URL:              item.CanonicalURL,
		Domain:           item.Domain,
		Title:            l.Title,
		Description:      l.Description,
		Availability:     l.Availability,
		StockStatus:      l.StockStatus,
		ImageURL:         l.ImageURL,
		AdditionalImages: l.Images,
		RawData:          l.Raw,
	}
	if l.Price != nil {
		r.Price = l.Price.Current
		r.Currency = l.Price.Currency
		r.PriceOriginal = l.Price.Regular
		if l.Price.DiscountPercentage != nil {
			d := int(math.Round(*l.Price.DiscountPercentage))
			r.DiscountPercentage = &d
		}
	}
	if l.Merchant != nil {
		r.MerchantName = l.Merchant.Name
		r.MerchantURL = l.Merchant.URL
	}
	if l.Rating != nil {
		r.Rating = l.Rating.Value
		r.ReviewsCount = l.Rating.ReviewsCount
	}
	return r
}
