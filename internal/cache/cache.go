// Package cache stores computed analytics responses so repeated dashboard and
// share-of-voice reads skip the aggregation.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	keyPrefix = "shopwatch"

	// RecentTTL applies to periods ending within the last day
	RecentTTL = 30 * time.Minute
	// HistoricalTTL applies to periods that ended earlier
	HistoricalTTL = 2 * time.Hour
)

// Cache is a best-effort response cache. A failing backend behaves as a miss.
type Cache interface {
	Get(ctx context.Context, key Key, dst any) bool
	Set(ctx context.Context, key Key, value any, ttl time.Duration)
	InvalidateProject(ctx context.Context, projectID string) error
	Close() error
}

// Key identifies one cached response. ProjectID scopes invalidation.
type Key struct {
	Name      string
	ProjectID string
	Hash      string
}

// NewKey hashes params, which must be JSON encodable. The project id is part
// of the hashed parameters.
func NewKey(name, projectID string, params map[string]any) Key {
	all := make(map[string]any, len(params)+1)
	for k, v := range params {
		all[k] = v
	}
	all["project_id"] = projectID
	// map keys are encoded in sorted order
	encoded, _ := json.Marshal(all)
	sum := md5.Sum(encoded)
	return Key{Name: name, ProjectID: projectID, Hash: hex.EncodeToString(sum[:])}
}

func (k Key) String() string {
	return keyPrefix + ":" + k.Name + ":" + k.Hash
}

func projectIndexKey(projectID string) string {
	return keyPrefix + ":index:" + projectID
}

// TTLFor picks the lifetime of a response covering a period ending at periodEnd
func TTLFor(periodEnd, now time.Time) time.Duration {
	if now.Sub(periodEnd) <= 24*time.Hour {
		return RecentTTL
	}
	return HistoricalTTL
}

// Nop never stores anything
type Nop struct{}

func (Nop) Get(context.Context, Key, any) bool { return false }
func (Nop) Set(context.Context, Key, any, time.Duration) {}
func (Nop) InvalidateProject(context.Context, string) error { return nil }
func (Nop) Close() error { return nil }
