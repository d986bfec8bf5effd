package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"go.uber.org/zap"
)

var scrapeQueue = []model.ScrapeStatus{model.ScrapeStatusPending, model.ScrapeStatusFailed}

// NeedingScrape lists pending or failed rows never scraped or last scraped more
// than maxAge ago
func (r *Registry) NeedingScrape(ctx context.Context, limit int, maxAge time.Duration) ([]model.UniqueURL, error) {
	return r.store.ListUniqueURLsForScrape(ctx, scrapeQueue, r.now().Add(-maxAge), limit)
}

// MarkCompleted attaches freshly scraped data to a pending row
func (r *Registry) MarkCompleted(ctx context.Context, id string, data model.ProductData) error {
	now := r.now()
	if data == nil {
		data = model.ProductData{}
	}
	return r.transition(ctx, id, []model.ScrapeStatus{model.ScrapeStatusPending}, model.ScrapeStatusCompleted, &now, data)
}

// MarkFailed records a scrape error on a pending row under the "error" key
func (r *Registry) MarkFailed(ctx context.Context, id string, errMsg string) error {
	u, err := r.store.GetUniqueURL(ctx, id)
	if err != nil {
		return err
	}
	data := maps.Clone(u.ProductData)
	if data == nil {
		data = model.ProductData{}
	}
	data["error"] = errMsg
	now := r.now()
	return r.transition(ctx, id, []model.ScrapeStatus{model.ScrapeStatusPending}, model.ScrapeStatusFailed, &now, data)
}

// ResetForRetry moves a failed row back to pending once its last attempt is
// older than maxAge
func (r *Registry) ResetForRetry(ctx context.Context, id string, maxAge time.Duration) error {
	u, err := r.store.GetUniqueURL(ctx, id)
	if err != nil {
		return err
	}
	if u.ScrapingStatus != model.ScrapeStatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, u.ScrapingStatus)
	}
	if u.LastScraped != nil && u.LastScraped.After(r.now().Add(-maxAge)) {
		return fmt.Errorf("%w: %s failed too recently", ErrInvalidTransition, id)
	}
	return r.transition(ctx, id, []model.ScrapeStatus{model.ScrapeStatusFailed}, model.ScrapeStatusPending, nil, nil)
}

// Reset explicitly reopens a completed or failed row for scraping
func (r *Registry) Reset(ctx context.Context, id string) error {
	from := []model.ScrapeStatus{model.ScrapeStatusCompleted, model.ScrapeStatusFailed}
	return r.transition(ctx, id, from, model.ScrapeStatusPending, nil, nil)
}

func (r *Registry) transition(ctx context.Context, id string, from []model.ScrapeStatus, to model.ScrapeStatus, at *time.Time, data model.ProductData) error {
	err := r.store.TransitionUniqueURL(ctx, id, from, to, at, data)
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, id, to)
	}
	if err != nil {
		return err
	}
	r.logger.Debug("scrape status changed", zap.String("id", id), zap.String("status", string(to)))
	return nil
}
