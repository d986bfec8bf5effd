// Package project manages projects and the keywords and competitors they own.
package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaibs3/shopwatch/internal/canonical"
	"github.com/shaibs3/shopwatch/internal/competitor"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"go.uber.org/zap"
)

// Store is the persistence the service needs
type Store interface {
	store.ProjectStore
	store.KeywordStore
	store.CompetitorStore
}

// Backfiller attributes existing results once a competitor is known
type Backfiller interface {
	BackfillAssociations(ctx context.Context, projectID string) (int, error)
}

type Service struct {
	store      Store
	backfiller Backfiller
	logger     *zap.Logger
}

func NewService(s Store, backfiller Backfiller, logger *zap.Logger) *Service {
	return &Service{store: s, backfiller: backfiller, logger: logger.Named("project")}
}

func (s *Service) CreateProject(ctx context.Context, in model.ProjectInput) (model.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := model.Validate(in); err != nil {
		return model.Project{}, err
	}
	p := model.Project{
		Name:          in.Name,
		Description:   in.Description,
		ReferenceSite: competitor.NormalizeDomain(in.ReferenceSite),
		IsActive:      in.IsActive == nil || *in.IsActive,
	}
	if err := s.store.CreateProject(ctx, &p); err != nil {
		return model.Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	s.logger.Info("project created", zap.String("project_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context, activeOnly bool) ([]model.Project, error) {
	return s.store.ListProjects(ctx, activeOnly)
}

func (s *Service) GetProject(ctx context.Context, id string) (model.Project, error) {
	return s.store.GetProject(ctx, id)
}

// UpdateProject applies the non-nil fields of in
func (s *Service) UpdateProject(ctx context.Context, id string, in model.ProjectUpdate) (model.Project, error) {
	if err := model.Validate(in); err != nil {
		return model.Project{}, err
	}
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return model.Project{}, err
	}
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.ReferenceSite != nil {
		p.ReferenceSite = competitor.NormalizeDomain(*in.ReferenceSite)
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return model.Project{}, fmt.Errorf("failed to update project: %w", err)
	}
	return s.store.GetProject(ctx, id)
}

// DeleteProject removes the project with its keywords, competitors and results
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.logger.Info("project deleted", zap.String("project_id", id))
	return nil
}

// SkippedKeyword is a keyword of a bulk request that was not created
type SkippedKeyword struct {
	Keyword  string `json:"keyword"`
	Location string `json:"location"`
	Reason   string `json:"reason"`
}

type KeywordsResult struct {
	Created []model.Keyword  `json:"created"`
	Skipped []SkippedKeyword `json:"skipped"`
}

// AddKeywords creates every keyword of the request that the project does not
// already track for the same location. Duplicates are reported, not rejected.
func (s *Service) AddKeywords(ctx context.Context, projectID string, in model.BulkKeywordsInput) (KeywordsResult, error) {
	for i := range in.Keywords {
		in.Keywords[i].Normalize()
	}
	if err := model.Validate(in); err != nil {
		return KeywordsResult{}, err
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return KeywordsResult{}, err
	}
	existing, err := s.store.ListKeywords(ctx, projectID, false)
	if err != nil {
		return KeywordsResult{}, fmt.Errorf("failed to list keywords: %w", err)
	}

	type keywordKey struct{ keyword, location string }
	seen := make(map[keywordKey]struct{}, len(existing)+len(in.Keywords))
	for _, k := range existing {
		seen[keywordKey{k.Keyword, k.Location}] = struct{}{}
	}

	result := KeywordsResult{Created: []model.Keyword{}, Skipped: []SkippedKeyword{}}
	for _, ki := range in.Keywords {
		key := keywordKey{ki.Keyword, ki.Location}
		if _, dup := seen[key]; dup {
			result.Skipped = append(result.Skipped, SkippedKeyword{Keyword: ki.Keyword, Location: ki.Location, Reason: "duplicate"})
			continue
		}
		seen[key] = struct{}{}

		k := model.Keyword{
			ProjectID:    projectID,
			Keyword:      ki.Keyword,
			Location:     ki.Location,
			Language:     ki.Language,
			SearchVolume: ki.SearchVolume,
			IsActive:     true,
		}
		err := s.store.CreateKeyword(ctx, &k)
		if errors.Is(err, store.ErrConflict) {
			// created concurrently by another request
			result.Skipped = append(result.Skipped, SkippedKeyword{Keyword: ki.Keyword, Location: ki.Location, Reason: "duplicate"})
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to create keyword %q: %w", ki.Keyword, err)
		}
		result.Created = append(result.Created, k)
	}

	s.logger.Info("keywords added",
		zap.String("project_id", projectID),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

func (s *Service) ListKeywords(ctx context.Context, projectID string) ([]model.Keyword, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListKeywords(ctx, projectID, false)
}

// NormalizeCompetitorDomain accepts a bare domain or a URL and returns the
// normalized domain competitors are keyed by
func NormalizeCompetitorDomain(raw string) string {
	return competitor.NormalizeDomain(canonical.Domain(raw))
}

// AddCompetitor registers a competitor and attributes the project's existing
// results on its domain. A domain already registered is a conflict.
func (s *Service) AddCompetitor(ctx context.Context, projectID string, in model.CompetitorInput) (model.Competitor, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := model.Validate(in); err != nil {
		return model.Competitor{}, err
	}
	domain := NormalizeCompetitorDomain(in.Domain)
	if domain == "" {
		return model.Competitor{}, &model.ValidationError{Fields: map[string]string{"CompetitorInput.Domain": "not a valid domain"}}
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return model.Competitor{}, err
	}

	c := model.Competitor{
		ProjectID:   projectID,
		Name:        in.Name,
		Domain:      domain,
		BrandName:   strings.TrimSpace(in.BrandName),
		IsMainBrand: in.IsMainBrand,
	}
	if err := s.store.CreateCompetitor(ctx, &c); err != nil {
		return model.Competitor{}, fmt.Errorf("failed to create competitor %s: %w", domain, err)
	}
	s.logger.Info("competitor added", zap.String("project_id", projectID), zap.String("domain", domain))

	if s.backfiller != nil {
		if _, err := s.backfiller.BackfillAssociations(ctx, projectID); err != nil {
			s.logger.Warn("association backfill failed", zap.String("project_id", projectID), zap.Error(err))
		}
	}
	return c, nil
}

func (s *Service) ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListCompetitors(ctx, projectID)
}

func (s *Service) DeleteCompetitor(ctx context.Context, projectID, competitorID string) error {
	return s.store.DeleteCompetitor(ctx, projectID, competitorID)
}
