package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaibs3/shopwatch/internal/store"
)

const (
	StatusCompleted    = "completed"
	StatusNeverScraped = "never_scraped"
)

type AnalysisStatus struct {
	ProjectID    string     `json:"project_id"`
	Status       string     `json:"status"`
	LastScrape   *time.Time `json:"last_scrape,omitempty"`
	ResultsCount int        `json:"results_count"`
}

// AnalysisStatus reports the last ingestion of the project and how many
// results were scraped on that UTC day
func (a *Aggregator) AnalysisStatus(ctx context.Context, projectID string) (AnalysisStatus, error) {
	if _, err := a.store.GetProject(ctx, projectID); err != nil {
		return AnalysisStatus{}, err
	}
	status := AnalysisStatus{ProjectID: projectID, Status: StatusNeverScraped}

	last, err := a.store.LastScrapedAt(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return AnalysisStatus{}, fmt.Errorf("failed to read last scrape: %w", err)
	}

	day := last.UTC().Truncate(24 * time.Hour)
	results, err := a.store.ListRankingResults(ctx, store.ResultFilter{
		ProjectID: projectID,
		From:      day,
		To:        day.Add(24*time.Hour - time.Nanosecond),
	})
	if err != nil {
		return AnalysisStatus{}, fmt.Errorf("failed to count results: %w", err)
	}

	status.Status = StatusCompleted
	status.LastScrape = &last
	status.ResultsCount = len(results)
	return status, nil
}
