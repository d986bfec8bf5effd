package shared

import (
	"errors"
	"time"
)

// DbType identifies a store backend
type DbType string

const (
	DbTypePostgres DbType = "postgres"
	DbTypeMemory   DbType = "memory"
)

func (t DbType) String() string {
	return string(t)
}

// IsValid reports whether the backend is supported
func (t DbType) IsValid() bool {
	switch t {
	case DbTypePostgres, DbTypeMemory:
		return true
	}
	return false
}

// StoreConfig is the JSON configuration accepted by the store factory
type StoreConfig struct {
	DbType       DbType                 `json:"db_type"`
	ExtraDetails map[string]interface{} `json:"extra_details"`
}

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a uniqueness constraint
	ErrConflict = errors.New("conflict")
)

// ResultFilter selects ranking results. Zero values leave a dimension unfiltered.
// Results are ordered by scraped_at descending, then position ascending.
type ResultFilter struct {
	ProjectID        string
	KeywordID        string
	Domain           string
	From             time.Time
	To               time.Time
	OnlyPositioned   bool
	OnlyWithDomain   bool
	OnlyUnattributed bool
}

// Matches applies the filter to fields already loaded in memory
func (f ResultFilter) Matches(projectID, keywordID, domain, competitorID string, positioned bool, scrapedAt time.Time) bool {
	if f.ProjectID != "" && projectID != f.ProjectID {
		return false
	}
	if f.KeywordID != "" && keywordID != f.KeywordID {
		return false
	}
	if f.Domain != "" && domain != f.Domain {
		return false
	}
	if f.OnlyWithDomain && domain == "" {
		return false
	}
	if f.OnlyPositioned && !positioned {
		return false
	}
	if f.OnlyUnattributed && competitorID != "" {
		return false
	}
	if !f.From.IsZero() && scrapedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && scrapedAt.After(f.To) {
		return false
	}
	return true
}
