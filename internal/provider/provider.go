// Package provider fetches shopping listings from the search-results API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaibs3/shopwatch/internal/model"
)

// Fetcher returns the shopping listings for one keyword in provider order
type Fetcher interface {
	FetchListings(ctx context.Context, keyword, location, language string) ([]model.Listing, error)
}

// ErrRateLimited is matched by every RateLimitError
var ErrRateLimited = errors.New("rate limited by provider")

// RateLimitError is returned on HTTP 429
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by provider, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// APIError is a non-success HTTP status or task status from the provider
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode >= 500 && e.StatusCode < 600:
		return true
	case e.StatusCode >= 50000:
		return true
	}
	return false
}
