package project

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by the seed command
type SeedFile struct {
	Projects []SeedProject `yaml:"projects"`
}

type SeedProject struct {
	Name          string           `yaml:"name"`
	Description   string           `yaml:"description"`
	ReferenceSite string           `yaml:"reference_site"`
	Keywords      []SeedKeyword    `yaml:"keywords"`
	Competitors   []SeedCompetitor `yaml:"competitors"`
}

type SeedKeyword struct {
	Keyword      string `yaml:"keyword"`
	Location     string `yaml:"location"`
	Language     string `yaml:"language"`
	SearchVolume *int   `yaml:"search_volume"`
}

type SeedCompetitor struct {
	Name        string `yaml:"name"`
	Domain      string `yaml:"domain"`
	BrandName   string `yaml:"brand_name"`
	IsMainBrand bool   `yaml:"is_main_brand"`
}

// SeedReport counts what a seed run created
type SeedReport struct {
	ProjectsCreated    int
	KeywordsCreated    int
	CompetitorsCreated int
}

// LoadSeed decodes a seed document, rejecting unknown keys
func LoadSeed(r io.Reader) (SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f SeedFile
	if err := dec.Decode(&f); err != nil {
		return SeedFile{}, fmt.Errorf("failed to decode seed file: %w", err)
	}
	return f, nil
}

// Seed creates the projects of f. A project whose name already exists is
// reused, and keywords or competitors it already has are skipped, so seeding
// twice is harmless.
func (s *Service) Seed(ctx context.Context, f SeedFile) (SeedReport, error) {
	var report SeedReport
	existing, err := s.store.ListProjects(ctx, false)
	if err != nil {
		return report, fmt.Errorf("failed to list projects: %w", err)
	}
	byName := make(map[string]model.Project, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}

	for _, sp := range f.Projects {
		p, ok := byName[sp.Name]
		if !ok {
			p, err = s.CreateProject(ctx, model.ProjectInput{
				Name:          sp.Name,
				Description:   sp.Description,
				ReferenceSite: sp.ReferenceSite,
			})
			if err != nil {
				return report, fmt.Errorf("project %q: %w", sp.Name, err)
			}
			byName[p.Name] = p
			report.ProjectsCreated++
		}

		if len(sp.Keywords) > 0 {
			in := model.BulkKeywordsInput{Keywords: make([]model.KeywordInput, 0, len(sp.Keywords))}
			for _, k := range sp.Keywords {
				in.Keywords = append(in.Keywords, model.KeywordInput(k))
			}
			res, err := s.AddKeywords(ctx, p.ID, in)
			if err != nil {
				return report, fmt.Errorf("project %q keywords: %w", sp.Name, err)
			}
			report.KeywordsCreated += len(res.Created)
		}

		for _, c := range sp.Competitors {
			_, err := s.AddCompetitor(ctx, p.ID, model.CompetitorInput(c))
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			if err != nil {
				return report, fmt.Errorf("project %q competitor %s: %w", sp.Name, c.Domain, err)
			}
			report.CompetitorsCreated++
		}
	}

	s.logger.Info("seed applied",
		zap.Int("projects_created", report.ProjectsCreated),
		zap.Int("keywords_created", report.KeywordsCreated),
		zap.Int("competitors_created", report.CompetitorsCreated))
	return report, nil
}
