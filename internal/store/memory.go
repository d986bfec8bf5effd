package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaibs3/shopwatch/internal/model"
)

// MemoryStore is a Store kept entirely in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	projects    map[string]model.Project
	keywords    map[string]model.Keyword
	competitors map[string]model.Competitor
	urls        map[string]model.UniqueURL
	urlIndex    map[string]string
	results     map[string]model.RankingResult
	mappings    map[string][]model.SerpURLMapping
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[string]model.Project),
		keywords:    make(map[string]model.Keyword),
		competitors: make(map[string]model.Competitor),
		urls:        make(map[string]model.UniqueURL),
		urlIndex:    make(map[string]string),
		results:     make(map[string]model.RankingResult),
		mappings:    make(map[string][]model.SerpURLMapping),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateProject(ctx context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrConflict)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.UpdatedAt = p.CreatedAt
	m.projects[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return model.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) ListProjects(ctx context.Context, activeOnly bool) ([]model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b model.Project) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *MemoryStore) UpdateProject(ctx context.Context, p model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = m.now()
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	delete(m.projects, id)
	maps.DeleteFunc(m.keywords, func(_ string, k model.Keyword) bool { return k.ProjectID == id })
	maps.DeleteFunc(m.competitors, func(_ string, c model.Competitor) bool { return c.ProjectID == id })
	for rid, r := range m.results {
		if r.ProjectID == id {
			delete(m.results, rid)
			delete(m.mappings, rid)
		}
	}
	return nil
}

func (m *MemoryStore) CreateKeyword(ctx context.Context, k *model.Keyword) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[k.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", k.ProjectID, ErrNotFound)
	}
	for _, existing := range m.keywords {
		if existing.ProjectID == k.ProjectID && existing.Keyword == k.Keyword && existing.Location == k.Location {
			return fmt.Errorf("keyword %q in %s: %w", k.Keyword, k.Location, ErrConflict)
		}
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = m.now()
	}
	m.keywords[k.ID] = *k
	return nil
}

func (m *MemoryStore) GetKeyword(ctx context.Context, id string) (model.Keyword, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keywords[id]
	if !ok {
		return model.Keyword{}, fmt.Errorf("keyword %s: %w", id, ErrNotFound)
	}
	return k, nil
}

func (m *MemoryStore) ListKeywords(ctx context.Context, projectID string, activeOnly bool) ([]model.Keyword, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Keyword
	for _, k := range m.keywords {
		if k.ProjectID != projectID || (activeOnly && !k.IsActive) {
			continue
		}
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b model.Keyword) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.Keyword, b.Keyword))
	})
	return out, nil
}

func (m *MemoryStore) CreateCompetitor(ctx context.Context, c *model.Competitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[c.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", c.ProjectID, ErrNotFound)
	}
	for _, existing := range m.competitors {
		if existing.ProjectID == c.ProjectID && existing.Domain == c.Domain {
			return fmt.Errorf("competitor %s: %w", c.Domain, ErrConflict)
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.competitors[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCompetitor(ctx context.Context, id string) (model.Competitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.competitors[id]
	if !ok {
		return model.Competitor{}, fmt.Errorf("competitor %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *MemoryStore) ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Competitor
	for _, c := range m.competitors {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b model.Competitor) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.Domain, b.Domain))
	})
	return out, nil
}

func (m *MemoryStore) DeleteCompetitor(ctx context.Context, projectID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.competitors[id]
	if !ok || c.ProjectID != projectID {
		return fmt.Errorf("competitor %s: %w", id, ErrNotFound)
	}
	delete(m.competitors, id)
	for rid, r := range m.results {
		if r.CompetitorID == id {
			r.CompetitorID = ""
			m.results[rid] = r
		}
	}
	return nil
}

func cloneURL(u model.UniqueURL) model.UniqueURL {
	u.ProductData = maps.Clone(u.ProductData)
	if u.LastScraped != nil {
		t := *u.LastScraped
		u.LastScraped = &t
	}
	return u
}

func (m *MemoryStore) GetUniqueURL(ctx context.Context, id string) (model.UniqueURL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.urls[id]
	if !ok {
		return model.UniqueURL{}, fmt.Errorf("unique url %s: %w", id, ErrNotFound)
	}
	return cloneURL(u), nil
}

func (m *MemoryStore) GetUniqueURLByURL(ctx context.Context, url string) (model.UniqueURL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.urlIndex[url]
	if !ok {
		return model.UniqueURL{}, fmt.Errorf("unique url %q: %w", url, ErrNotFound)
	}
	return cloneURL(m.urls[id]), nil
}

func (m *MemoryStore) InsertUniqueURL(ctx context.Context, u *model.UniqueURL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.urlIndex[u.URL]; ok {
		return fmt.Errorf("unique url %q: %w", u.URL, ErrConflict)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.urls[u.ID] = cloneURL(*u)
	m.urlIndex[u.URL] = u.ID
	return nil
}

func (m *MemoryStore) FillProductData(ctx context.Context, id string, data model.ProductData, scrapedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.urls[id]
	if !ok {
		return false, fmt.Errorf("unique url %s: %w", id, ErrNotFound)
	}
	if len(u.ProductData) > 0 {
		return false, nil
	}
	u.ProductData = maps.Clone(data)
	u.ScrapingStatus = model.ScrapeStatusCompleted
	u.LastScraped = &scrapedAt
	m.urls[id] = u
	return true, nil
}

func (m *MemoryStore) TransitionUniqueURL(ctx context.Context, id string, from []model.ScrapeStatus, to model.ScrapeStatus, lastScraped *time.Time, data model.ProductData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.urls[id]
	if !ok {
		return fmt.Errorf("unique url %s: %w", id, ErrNotFound)
	}
	if !slices.Contains(from, u.ScrapingStatus) {
		return fmt.Errorf("unique url %s is %s: %w", id, u.ScrapingStatus, ErrConflict)
	}
	u.ScrapingStatus = to
	if lastScraped != nil {
		t := *lastScraped
		u.LastScraped = &t
	}
	if data != nil {
		u.ProductData = maps.Clone(data)
	}
	m.urls[id] = u
	return nil
}

func (m *MemoryStore) ListUniqueURLsForScrape(ctx context.Context, statuses []model.ScrapeStatus, olderThan time.Time, limit int) ([]model.UniqueURL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.UniqueURL
	for _, u := range m.urls {
		if !slices.Contains(statuses, u.ScrapingStatus) {
			continue
		}
		if u.LastScraped != nil && !u.LastScraped.Before(olderThan) {
			continue
		}
		out = append(out, cloneURL(u))
	}
	slices.SortFunc(out, func(a, b model.UniqueURL) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.URL, b.URL))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountUniqueURLs(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.urls), nil
}

func (m *MemoryStore) InsertRankingResults(ctx context.Context, results []model.RankingResult, mappings []model.SerpURLMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make(map[string]bool, len(results))
	for i := range results {
		r := &results[i]
		if _, ok := m.projects[r.ProjectID]; !ok {
			return fmt.Errorf("project %s: %w", r.ProjectID, ErrNotFound)
		}
		if _, ok := m.keywords[r.KeywordID]; !ok {
			return fmt.Errorf("keyword %s: %w", r.KeywordID, ErrNotFound)
		}
		if r.CompetitorID != "" {
			c, ok := m.competitors[r.CompetitorID]
			if !ok || c.ProjectID != r.ProjectID {
				return fmt.Errorf("competitor %s not in project %s: %w", r.CompetitorID, r.ProjectID, ErrNotFound)
			}
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, ok := m.results[r.ID]; ok || batch[r.ID] {
			return fmt.Errorf("ranking result %s: %w", r.ID, ErrConflict)
		}
		batch[r.ID] = true
	}
	for _, mp := range mappings {
		if !batch[mp.SerpResultID] {
			return fmt.Errorf("mapping references unknown result %s: %w", mp.SerpResultID, ErrNotFound)
		}
		if _, ok := m.urls[mp.UniqueURLID]; !ok {
			return fmt.Errorf("unique url %s: %w", mp.UniqueURLID, ErrNotFound)
		}
	}

	for _, r := range results {
		r.AdditionalImages = slices.Clone(r.AdditionalImages)
		m.results[r.ID] = r
	}
	now := m.now()
	for _, mp := range mappings {
		if mp.CreatedAt.IsZero() {
			mp.CreatedAt = now
		}
		m.mappings[mp.SerpResultID] = append(m.mappings[mp.SerpResultID], mp)
	}
	return nil
}

func (m *MemoryStore) ListRankingResults(ctx context.Context, filter ResultFilter) ([]model.RankingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.RankingResult
	for _, r := range m.results {
		if filter.Matches(r.ProjectID, r.KeywordID, r.Domain, r.CompetitorID, r.Position != nil, r.ScrapedAt) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, compareResults)
	return out, nil
}

// compareResults orders by scraped_at descending, then position ascending with unset positions last
func compareResults(a, b model.RankingResult) int {
	if c := b.ScrapedAt.Compare(a.ScrapedAt); c != 0 {
		return c
	}
	switch {
	case a.Position == nil && b.Position == nil:
	case a.Position == nil:
		return 1
	case b.Position == nil:
		return -1
	default:
		if c := cmp.Compare(*a.Position, *b.Position); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func (m *MemoryStore) ListURLMappings(ctx context.Context, resultIDs []string) ([]model.SerpURLMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.SerpURLMapping
	for _, id := range resultIDs {
		out = append(out, m.mappings[id]...)
	}
	return out, nil
}

func (m *MemoryStore) SetResultCompetitors(ctx context.Context, assignments map[string]string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := 0
	for rid, cid := range assignments {
		r, ok := m.results[rid]
		if !ok || r.CompetitorID != "" {
			continue
		}
		c, ok := m.competitors[cid]
		if !ok || c.ProjectID != r.ProjectID {
			continue
		}
		r.CompetitorID = cid
		m.results[rid] = r
		updated++
	}
	return updated, nil
}

func (m *MemoryStore) LastScrapedAt(ctx context.Context, projectID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	for _, r := range m.results {
		if r.ProjectID == projectID && r.ScrapedAt.After(last) {
			last = r.ScrapedAt
		}
	}
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("no results for project %s: %w", projectID, ErrNotFound)
	}
	return last, nil
}
