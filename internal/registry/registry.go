// Package registry maps canonical URLs to the global UniqueURL records and
// drives their scrape lifecycle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/shaibs3/shopwatch/internal/canonical"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"go.uber.org/zap"
)

var (
	// ErrEmptyURL is returned when a URL canonicalizes to nothing
	ErrEmptyURL = errors.New("empty url")
	// ErrInvalidTransition is returned when a scrape status change is not allowed
	ErrInvalidTransition = errors.New("invalid scrape status transition")
)

type Registry struct {
	store       store.UniqueURLStore
	logger      *zap.Logger
	instruments *telemetry.Instruments
	now         func() time.Time
}

func New(s store.UniqueURLStore, logger *zap.Logger, tel *telemetry.Telemetry) *Registry {
	return &Registry{
		store:       s,
		logger:      logger.Named("registry"),
		instruments: tel.Instruments,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the UniqueURL for rawURL, creating it on first sighting.
// An existing row without product data is filled with data exactly once. A
// concurrent insert of the same canonical URL is resolved by re-reading the row.
func (r *Registry) GetOrCreate(ctx context.Context, rawURL string, data model.ProductData) (model.UniqueURL, error) {
	canon := canonical.Canonicalize(rawURL)
	if canon.URL == "" {
		return model.UniqueURL{}, ErrEmptyURL
	}

	existing, err := r.store.GetUniqueURLByURL(ctx, canon.URL)
	switch {
	case err == nil:
		return r.merge(ctx, existing, data)
	case !errors.Is(err, store.ErrNotFound):
		return model.UniqueURL{}, fmt.Errorf("failed to look up %s: %w", canon.URL, err)
	}

	u := model.UniqueURL{
		URL:            canon.URL,
		Domain:         canon.Domain,
		ScrapingStatus: model.ScrapeStatusPending,
	}
	if len(data) > 0 {
		now := r.now()
		u.ScrapingStatus = model.ScrapeStatusCompleted
		u.LastScraped = &now
		u.ProductData = maps.Clone(data)
	}

	err = r.store.InsertUniqueURL(ctx, &u)
	if err == nil {
		r.instruments.UniqueURLsCreated.Add(ctx, 1)
		return u, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return model.UniqueURL{}, fmt.Errorf("failed to create %s: %w", canon.URL, err)
	}

	r.instruments.RegistryConflicts.Add(ctx, 1)
	r.logger.Debug("concurrent first sighting, re-reading", zap.String("url", canon.URL))
	existing, err = r.store.GetUniqueURLByURL(ctx, canon.URL)
	if err != nil {
		return model.UniqueURL{}, fmt.Errorf("failed to re-read %s after conflict: %w", canon.URL, err)
	}
	return r.merge(ctx, existing, data)
}

func (r *Registry) merge(ctx context.Context, existing model.UniqueURL, data model.ProductData) (model.UniqueURL, error) {
	if len(existing.ProductData) > 0 || len(data) == 0 {
		return existing, nil
	}
	if _, err := r.store.FillProductData(ctx, existing.ID, data, r.now()); err != nil {
		return model.UniqueURL{}, fmt.Errorf("failed to attach product data to %s: %w", existing.URL, err)
	}
	// re-read either way: another writer may have filled it first
	return r.store.GetUniqueURL(ctx, existing.ID)
}

// Item is one listing annotated with its registry identity
type Item struct {
	Listing      model.Listing
	UniqueURLID  string
	CanonicalURL string
	Domain       string
}

// Deduplicate resolves every listing with a URL against the registry, in input
// order. A canonical URL repeated within the batch reuses the identifier
// resolved for its first occurrence.
func (r *Registry) Deduplicate(ctx context.Context, listings []model.Listing) ([]Item, error) {
	seen := make(map[string]model.UniqueURL, len(listings))
	items := make([]Item, 0, len(listings))
	now := r.now()

	for _, l := range listings {
		canon := canonical.Canonicalize(l.URL)
		if canon.URL == "" {
			r.logger.Debug("skipping listing without url", zap.String("title", l.Title))
			continue
		}
		if canon.Domain == "" {
			r.logger.Warn("listing url could not be parsed, keeping it without a domain",
				zap.String("url", l.URL),
				zap.String("title", l.Title))
		}

		u, ok := seen[canon.URL]
		if !ok {
			var err error
			u, err = r.GetOrCreate(ctx, l.URL, l.ProductData(now))
			if err != nil {
				return nil, err
			}
			seen[canon.URL] = u
		}

		items = append(items, Item{
			Listing:      l,
			UniqueURLID:  u.ID,
			CanonicalURL: canon.URL,
			Domain:       canon.Domain,
		})
	}
	return items, nil
}
