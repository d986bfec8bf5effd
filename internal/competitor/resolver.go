package competitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"go.uber.org/zap"
)

// Store is the persistence the resolver needs
type Store interface {
	store.CompetitorStore
	store.ResultStore
}

// Resolver attributes ranking results to competitors and discovers new ones
type Resolver struct {
	store       Store
	logger      *zap.Logger
	instruments *telemetry.Instruments
}

func NewResolver(s Store, logger *zap.Logger, tel *telemetry.Telemetry) *Resolver {
	return &Resolver{
		store:       s,
		logger:      logger.Named("competitor"),
		instruments: tel.Instruments,
	}
}

// DomainMap is a normalized domain to competitor id lookup
type DomainMap map[string]string

// Resolve returns the competitor id for domain, or "" when unknown
func (m DomainMap) Resolve(domain string) string {
	return m[NormalizeDomain(domain)]
}

func (r *Resolver) DomainMap(ctx context.Context, projectID string) (DomainMap, error) {
	competitors, err := r.store.ListCompetitors(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitors: %w", err)
	}
	m := make(DomainMap, len(competitors))
	for _, c := range competitors {
		if d := NormalizeDomain(c.Domain); d != "" {
			m[d] = c.ID
		}
	}
	return m, nil
}

// Candidates analyzes every ranking result of the project
func (r *Resolver) Candidates(ctx context.Context, projectID string, t Thresholds) ([]Candidate, error) {
	results, err := r.store.ListRankingResults(ctx, store.ResultFilter{ProjectID: projectID, OnlyWithDomain: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list ranking results: %w", err)
	}
	candidates := AnalyzeDomains(results, t)
	r.logger.Info("domain analysis finished",
		zap.String("project_id", projectID),
		zap.Int("results", len(results)),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

// NewCandidates returns candidates whose domain is not yet a competitor of the project
func (r *Resolver) NewCandidates(ctx context.Context, projectID string, t Thresholds) ([]Candidate, error) {
	known, err := r.DomainMap(ctx, projectID)
	if err != nil {
		return nil, err
	}
	candidates, err := r.Candidates(ctx, projectID, t)
	if err != nil {
		return nil, err
	}
	fresh := candidates[:0]
	for _, c := range candidates {
		if _, ok := known[NormalizeDomain(c.Domain)]; !ok {
			fresh = append(fresh, c)
		}
	}
	return fresh, nil
}

// Detection is the outcome of one detection run
type Detection struct {
	Candidates []Candidate        `json:"candidates"`
	Created    []model.Competitor `json:"created"`
}

// DetectNew finds new candidates and, when autoCreate is set, persists them
func (r *Resolver) DetectNew(ctx context.Context, projectID string, t Thresholds, autoCreate bool) (Detection, error) {
	candidates, err := r.NewCandidates(ctx, projectID, t)
	if err != nil {
		return Detection{}, err
	}
	out := Detection{Candidates: candidates}
	if !autoCreate {
		return out, nil
	}
	for _, c := range candidates {
		created, err := r.CreateFromCandidate(ctx, projectID, c)
		if err != nil {
			return out, err
		}
		out.Created = append(out.Created, created)
	}
	r.logger.Info("competitor detection finished",
		zap.String("project_id", projectID),
		zap.Int("new", len(candidates)),
		zap.Int("created", len(out.Created)))
	return out, nil
}

// CreateFromCandidate persists a candidate. If the domain was created
// concurrently the existing competitor is returned.
func (r *Resolver) CreateFromCandidate(ctx context.Context, projectID string, c Candidate) (model.Competitor, error) {
	comp := model.Competitor{
		ProjectID: projectID,
		Name:      c.SuggestedName,
		Domain:    NormalizeDomain(c.Domain),
		BrandName: c.SuggestedName,
	}
	err := r.store.CreateCompetitor(ctx, &comp)
	if err == nil {
		r.instruments.CompetitorsCreated.Add(ctx, 1)
		r.logger.Info("competitor created",
			zap.String("project_id", projectID),
			zap.String("name", comp.Name),
			zap.String("domain", comp.Domain))
		return comp, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return model.Competitor{}, fmt.Errorf("failed to create competitor %s: %w", comp.Domain, err)
	}

	existing, err := r.store.ListCompetitors(ctx, projectID)
	if err != nil {
		return model.Competitor{}, err
	}
	for _, e := range existing {
		if NormalizeDomain(e.Domain) == comp.Domain {
			return e, nil
		}
	}
	return model.Competitor{}, fmt.Errorf("competitor %s conflicted but was not found: %w", comp.Domain, store.ErrNotFound)
}

// BackfillAssociations attributes every unattributed result of the project whose
// domain matches a known competitor. It returns the number of results updated.
func (r *Resolver) BackfillAssociations(ctx context.Context, projectID string) (int, error) {
	domains, err := r.DomainMap(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if len(domains) == 0 {
		return 0, nil
	}
	results, err := r.store.ListRankingResults(ctx, store.ResultFilter{
		ProjectID:        projectID,
		OnlyWithDomain:   true,
		OnlyUnattributed: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list unattributed results: %w", err)
	}

	assignments := make(map[string]string)
	for _, res := range results {
		if id := domains.Resolve(res.Domain); id != "" {
			assignments[res.ID] = id
		}
	}
	if len(assignments) == 0 {
		return 0, nil
	}
	updated, err := r.store.SetResultCompetitors(ctx, assignments)
	if err != nil {
		return 0, fmt.Errorf("failed to update associations: %w", err)
	}
	r.logger.Info("competitor associations updated",
		zap.String("project_id", projectID),
		zap.Int("updated", updated))
	return updated, nil
}
