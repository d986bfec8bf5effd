package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	shoppingEndpoint = "serp/google/shopping/live/advanced"
	taskOK           = 20000
	maxErrorBody     = 500
	defaultRetryWait = 60 * time.Second
)

// alternateURLFields are tried in order when an item has no "url"
var alternateURLFields = []string{"link", "click_url", "href", "product_url", "shopping_url", "buy_url"}

// Config configures the HTTP client
type Config struct {
	BaseURL    string
	Login      string
	Password   string
	Timeout    time.Duration
	MaxResults int
	SearchHost string
}

// Client calls the live Google Shopping endpoint with basic auth
type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
	attempts   uint
	retryDelay time.Duration
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 100
	}
	if cfg.SearchHost == "" {
		cfg.SearchHost = "google.fr"
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SerpProvider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && !apiErr.Temporary())
		},
	})
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         cb,
		logger:     logger.Named("provider"),
		attempts:   3,
		retryDelay: 2 * time.Second,
	}
}

type taskRequest struct {
	Keyword         string `json:"keyword"`
	LocationName    string `json:"location_name"`
	LanguageName    string `json:"language_name"`
	Device          string `json:"device"`
	OS              string `json:"os"`
	SearchDomain    string `json:"se_domain"`
	Depth           int    `json:"depth"`
	IncludeSerpInfo bool   `json:"include_serp_info"`
	Tag             string `json:"tag"`
}

type apiResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
		Result        []struct {
			TotalCount int               `json:"total_count"`
			Items      []json.RawMessage `json:"items"`
		} `json:"result"`
	} `json:"tasks"`
}

// FetchListings returns the shopping listings for keyword. Transport errors,
// 5xx responses and rate limits are retried with exponential backoff.
func (c *Client) FetchListings(ctx context.Context, keyword, location, language string) ([]model.Listing, error) {
	var listings []model.Listing
	err := retry.Do(
		func() error {
			res, err := c.cb.Execute(func() (interface{}, error) {
				return c.fetch(ctx, keyword, location, language)
			})
			if err != nil {
				return err
			}
			listings = res.([]model.Listing)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying provider call",
				zap.String("keyword", keyword),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return listings, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gobreaker.ErrOpenState) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func (c *Client) fetch(ctx context.Context, keyword, location, language string) ([]model.Listing, error) {
	body, err := json.Marshal([]taskRequest{{
		Keyword:         keyword,
		LocationName:    location,
		LanguageName:    language,
		Device:          "desktop",
		OS:              "windows",
		SearchDomain:    c.cfg.SearchHost,
		Depth:           c.cfg.MaxResults,
		IncludeSerpInfo: true,
		Tag:             "shopwatch_" + time.Now().UTC().Format("20060102_150405"),
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + shoppingEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Login, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "shopwatch/1.0")

	c.logger.Debug("requesting shopping results", zap.String("keyword", keyword), zap.String("location", location))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "invalid JSON response: " + err.Error()}
	}
	if len(decoded.Tasks) == 0 {
		return nil, &APIError{StatusCode: decoded.StatusCode, Message: "response has no tasks"}
	}
	task := decoded.Tasks[0]
	if task.StatusCode != taskOK {
		return nil, &APIError{StatusCode: task.StatusCode, Message: task.StatusMessage}
	}
	if len(task.Result) == 0 {
		c.logger.Warn("no shopping results", zap.String("keyword", keyword))
		return nil, nil
	}

	listings := c.collect(task.Result[0].Items, keyword)
	c.logger.Info("shopping results fetched",
		zap.String("keyword", keyword),
		zap.Int("listings", len(listings)),
		zap.Int("total_count", task.Result[0].TotalCount))
	return listings, nil
}

// collect flattens container items (those carrying their own "items") and
// decodes every product in provider order
func (c *Client) collect(items []json.RawMessage, keyword string) []model.Listing {
	var out []model.Listing
	for _, raw := range items {
		var container struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(raw, &container); err == nil && len(container.Items) > 0 {
			out = append(out, c.collect(container.Items, keyword)...)
			continue
		}
		l, ok := c.decode(raw, keyword)
		if ok {
			out = append(out, l)
		}
	}
	return out
}

func (c *Client) decode(raw json.RawMessage, keyword string) (model.Listing, bool) {
	l, problems, err := model.DecodeListing(raw)
	if err != nil {
		c.logger.Warn("skipping malformed listing", zap.String("keyword", keyword), zap.Error(err))
		return model.Listing{}, false
	}
	for _, p := range problems {
		c.logger.Warn("dropping malformed listing field", zap.String("keyword", keyword), zap.Error(p))
	}

	var extra map[string]any
	_ = json.Unmarshal(raw, &extra)
	if l.URL == "" {
		for _, field := range alternateURLFields {
			if s, ok := extra[field].(string); ok && s != "" {
				l.URL = s
				break
			}
		}
	}
	if l.Merchant == nil {
		if seller, ok := extra["seller"].(string); ok && seller != "" {
			l.Merchant = &model.Merchant{Name: seller}
		}
	}
	return l, true
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryWait
}
