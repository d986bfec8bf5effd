// Package pagefetch visits product pages of registered unique URLs and records
// the outcome on each row.
package pagefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxRedirects = 10
	maxBodySize  = 1 << 20
	userAgent    = "shopwatch-page-fetcher/1.0"
)

var errTooManyRedirects = errors.New("too many redirects")

// Registry is the part of the unique-URL registry the fetcher drives
type Registry interface {
	NeedingScrape(ctx context.Context, limit int, maxAge time.Duration) ([]model.UniqueURL, error)
	MarkCompleted(ctx context.Context, id string, data model.ProductData) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	ResetForRetry(ctx context.Context, id string, maxAge time.Duration) error
}

type Options struct {
	Concurrency int
	Timeout     time.Duration
	MaxAge      time.Duration
}

// Summary counts the outcomes of one run
type Summary struct {
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Fetcher struct {
	registry     Registry
	client       *http.Client
	opts         Options
	logger       *zap.Logger
	instruments  *telemetry.Instruments
	allowPrivate bool
}

func New(reg Registry, opts Options, logger *zap.Logger, tel *telemetry.Telemetry) *Fetcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	f := &Fetcher{
		registry:    reg,
		opts:        opts,
		logger:      logger.Named("pagefetch"),
		instruments: tel.Instruments,
	}
	f.client = f.newClient()
	return f
}

func (f *Fetcher) newClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !f.allowPrivate {
		dialer.Control = dialControl
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Timeout:   f.opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return validateURL(req.URL.String(), f.allowPrivate)
		},
	}
}

// Run fetches up to limit rows needing a scrape. Failed rows are first moved
// back to pending. A failing page is recorded on its row and never aborts the run.
func (f *Fetcher) Run(ctx context.Context, limit int) (Summary, error) {
	rows, err := f.registry.NeedingScrape(ctx, limit, f.opts.MaxAge)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list urls needing scrape: %w", err)
	}
	f.logger.Info("starting page fetch run",
		zap.Int("urls", len(rows)),
		zap.Int("concurrency", f.opts.Concurrency))

	var completed, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for _, row := range rows {
		g.Go(func() error {
			outcome, err := f.process(gctx, row)
			if err != nil {
				// context cancellation stops the run, anything else is per row
				if gctx.Err() != nil {
					return err
				}
				f.logger.Warn("failed to record page outcome", zap.String("url", row.URL), zap.Error(err))
				skipped.Add(1)
				return nil
			}
			switch outcome {
			case model.ScrapeStatusCompleted:
				completed.Add(1)
			case model.ScrapeStatusFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	summary := Summary{
		Attempted: len(rows),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	f.logger.Info("page fetch run finished",
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary, err
}

func (f *Fetcher) process(ctx context.Context, row model.UniqueURL) (model.ScrapeStatus, error) {
	if row.ScrapingStatus == model.ScrapeStatusFailed {
		if err := f.registry.ResetForRetry(ctx, row.ID, f.opts.MaxAge); err != nil {
			return "", err
		}
	}

	data, err := f.Fetch(ctx, row.URL)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.instruments.PagesFetched.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		f.logger.Debug("page fetch failed", zap.String("url", row.URL), zap.Error(err))
		if merr := f.registry.MarkFailed(ctx, row.ID, err.Error()); merr != nil {
			return "", merr
		}
		return model.ScrapeStatusFailed, nil
	}

	f.instruments.PagesFetched.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	if err := f.registry.MarkCompleted(ctx, row.ID, data); err != nil {
		return "", err
	}
	return model.ScrapeStatusCompleted, nil
}

// Fetch downloads one page and extracts its product data
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (model.ProductData, error) {
	if err := validateURL(rawURL, f.allowPrivate); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := extract(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	data["status_code"] = resp.StatusCode
	data["final_url"] = resp.Request.URL.String()
	data["scraped_at"] = time.Now().UTC().Format(time.RFC3339)
	return data, nil
}
