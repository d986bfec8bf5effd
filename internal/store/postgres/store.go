package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/store/shared"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store is a Postgres-backed store. Every round trip runs through a circuit
// breaker and is retried on transient failures.
type Store struct {
	db         *sql.DB
	logger     *zap.Logger
	cb         *gobreaker.CircuitBreaker
	retryDelay time.Duration
	now        func() time.Time
}

// NewStore opens a connection from config. Set extra_details.auto_migrate to
// create the schema on startup.
func NewStore(config shared.StoreConfig, logger *zap.Logger) (*Store, error) {
	pgLogger := logger.Named("postgres")

	connStr, ok := config.ExtraDetails["conn_str"].(string)
	if !ok || connStr == "" {
		return nil, fmt.Errorf("conn_str is required for Postgres store")
	}
	pgLogger.Info("initializing Postgres store")

	dbConn, err := sql.Open("postgres", connStr)
	if err != nil {
		pgLogger.Error("failed to open Postgres connection", zap.Error(err))
		return nil, fmt.Errorf("failed to open Postgres connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		pgLogger.Error("failed to ping Postgres", zap.Error(err))
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	if migrate, _ := config.ExtraDetails["auto_migrate"].(bool); migrate {
		if err := Migrate(ctx, dbConn); err != nil {
			_ = dbConn.Close()
			return nil, err
		}
		pgLogger.Info("schema migrated")
	}

	pgLogger.Info("Postgres store initialized successfully")
	return New(dbConn, pgLogger), nil
}

// New wraps an open connection
func New(db *sql.DB, logger *zap.Logger) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PostgresDB",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrConflict)
		},
	})
	return &Store{
		db:         db,
		logger:     logger,
		cb:         cb,
		retryDelay: 100 * time.Millisecond,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// run executes fn through the circuit breaker, retrying transient errors
func (s *Store) run(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		func() error {
			_, err := s.cb.Execute(func() (interface{}, error) {
				return nil, mapError(fn())
			})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(s.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying "+op, zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return shared.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", shared.ErrConflict, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", shared.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

// isTransient reports whether a failed round trip is worth retrying
func isTransient(err error) bool {
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrConflict) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	return true
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// jsonParam encodes v for a jsonb parameter. lib/pq sends []byte as bytea, so the
// document goes over the wire as text.
func jsonParam(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case model.ProductData:
		if t == nil {
			return nil, nil
		}
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return string(b), nil
}

// Projects

const projectColumns = `id, name, description, is_active, reference_site, created_at, updated_at`

func scanProject(row scanner) (model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.ReferenceSite, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.UpdatedAt = p.CreatedAt
	return s.run(ctx, "CreateProject", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.Name, p.Description, p.IsActive, p.ReferenceSite, p.CreatedAt, p.UpdatedAt)
		return err
	})
}

func (s *Store) GetProject(ctx context.Context, id string) (model.Project, error) {
	var p model.Project
	err := s.run(ctx, "GetProject", func() error {
		var err error
		p, err = scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return model.Project{}, fmt.Errorf("project %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, activeOnly bool) ([]model.Project, error) {
	var out []model.Project
	err := s.run(ctx, "ListProjects", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE ($1 = false OR is_active) ORDER BY created_at, id`, activeOnly)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			p, err := scanProject(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) UpdateProject(ctx context.Context, p model.Project) error {
	return s.run(ctx, "UpdateProject", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE projects SET name = $2, description = $3, is_active = $4, reference_site = $5, updated_at = $6 WHERE id = $1`,
			p.ID, p.Name, p.Description, p.IsActive, p.ReferenceSite, s.now())
		return expectRow(res, err)
	})
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.run(ctx, "DeleteProject", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
		return expectRow(res, err)
	})
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Keywords

const keywordColumns = `id, project_id, keyword, location, language, search_volume, is_active, created_at`

func scanKeyword(row scanner) (model.Keyword, error) {
	var k model.Keyword
	var volume sql.NullInt64
	if err := row.Scan(&k.ID, &k.ProjectID, &k.Keyword, &k.Location, &k.Language, &volume, &k.IsActive, &k.CreatedAt); err != nil {
		return model.Keyword{}, err
	}
	if volume.Valid {
		v := int(volume.Int64)
		k.SearchVolume = &v
	}
	return k, nil
}

func (s *Store) CreateKeyword(ctx context.Context, k *model.Keyword) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = s.now()
	}
	return s.run(ctx, "CreateKeyword", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO keywords (`+keywordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			k.ID, k.ProjectID, k.Keyword, k.Location, k.Language, nullInt(k.SearchVolume), k.IsActive, k.CreatedAt)
		return err
	})
}

func (s *Store) GetKeyword(ctx context.Context, id string) (model.Keyword, error) {
	var k model.Keyword
	err := s.run(ctx, "GetKeyword", func() error {
		var err error
		k, err = scanKeyword(s.db.QueryRowContext(ctx, `SELECT `+keywordColumns+` FROM keywords WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return model.Keyword{}, fmt.Errorf("keyword %s: %w", id, err)
	}
	return k, nil
}

func (s *Store) ListKeywords(ctx context.Context, projectID string, activeOnly bool) ([]model.Keyword, error) {
	var out []model.Keyword
	err := s.run(ctx, "ListKeywords", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+keywordColumns+` FROM keywords WHERE project_id = $1 AND ($2 = false OR is_active) ORDER BY created_at, keyword`,
			projectID, activeOnly)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			k, err := scanKeyword(rows)
			if err != nil {
				return err
			}
			out = append(out, k)
		}
		return rows.Err()
	})
	return out, err
}

// Competitors

const competitorColumns = `id, project_id, name, domain, brand_name, is_main_brand, created_at`

func scanCompetitor(row scanner) (model.Competitor, error) {
	var c model.Competitor
	err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Domain, &c.BrandName, &c.IsMainBrand, &c.CreatedAt)
	return c, err
}

func (s *Store) CreateCompetitor(ctx context.Context, c *model.Competitor) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	return s.run(ctx, "CreateCompetitor", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO competitors (`+competitorColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.ProjectID, c.Name, c.Domain, c.BrandName, c.IsMainBrand, c.CreatedAt)
		return err
	})
}

func (s *Store) GetCompetitor(ctx context.Context, id string) (model.Competitor, error) {
	var c model.Competitor
	err := s.run(ctx, "GetCompetitor", func() error {
		var err error
		c, err = scanCompetitor(s.db.QueryRowContext(ctx, `SELECT `+competitorColumns+` FROM competitors WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return model.Competitor{}, fmt.Errorf("competitor %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error) {
	var out []model.Competitor
	err := s.run(ctx, "ListCompetitors", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+competitorColumns+` FROM competitors WHERE project_id = $1 ORDER BY created_at, domain`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			c, err := scanCompetitor(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteCompetitor relies on the ON DELETE SET NULL foreign key to detach results
func (s *Store) DeleteCompetitor(ctx context.Context, projectID, id string) error {
	return s.run(ctx, "DeleteCompetitor", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM competitors WHERE id = $1 AND project_id = $2`, id, projectID)
		return expectRow(res, err)
	})
}

// Unique URLs

const uniqueURLColumns = `id, url, domain, scraping_status, last_scraped, product_data, created_at`

func scanUniqueURL(row scanner) (model.UniqueURL, error) {
	var u model.UniqueURL
	var status string
	var last sql.NullTime
	var data []byte
	if err := row.Scan(&u.ID, &u.URL, &u.Domain, &status, &last, &data, &u.CreatedAt); err != nil {
		return model.UniqueURL{}, err
	}
	u.ScrapingStatus = model.ScrapeStatus(status)
	if last.Valid {
		t := last.Time
		u.LastScraped = &t
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &u.ProductData); err != nil {
			return model.UniqueURL{}, fmt.Errorf("failed to decode product data: %w", err)
		}
	}
	return u, nil
}

func (s *Store) GetUniqueURL(ctx context.Context, id string) (model.UniqueURL, error) {
	var u model.UniqueURL
	err := s.run(ctx, "GetUniqueURL", func() error {
		var err error
		u, err = scanUniqueURL(s.db.QueryRowContext(ctx, `SELECT `+uniqueURLColumns+` FROM unique_urls WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return model.UniqueURL{}, fmt.Errorf("unique url %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) GetUniqueURLByURL(ctx context.Context, url string) (model.UniqueURL, error) {
	var u model.UniqueURL
	err := s.run(ctx, "GetUniqueURLByURL", func() error {
		var err error
		u, err = scanUniqueURL(s.db.QueryRowContext(ctx, `SELECT `+uniqueURLColumns+` FROM unique_urls WHERE url = $1`, url))
		return err
	})
	if err != nil {
		return model.UniqueURL{}, fmt.Errorf("unique url %q: %w", url, err)
	}
	return u, nil
}

func (s *Store) InsertUniqueURL(ctx context.Context, u *model.UniqueURL) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	data, err := jsonParam(u.ProductData)
	if err != nil {
		return err
	}
	return s.run(ctx, "InsertUniqueURL", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO unique_urls (`+uniqueURLColumns+`) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
			u.ID, u.URL, u.Domain, string(u.ScrapingStatus), u.LastScraped, data, u.CreatedAt)
		return err
	})
}

func (s *Store) FillProductData(ctx context.Context, id string, data model.ProductData, scrapedAt time.Time) (bool, error) {
	payload, err := jsonParam(data)
	if err != nil {
		return false, err
	}
	var changed bool
	err = s.run(ctx, "FillProductData", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE unique_urls SET product_data = $2::jsonb, scraping_status = $3, last_scraped = $4
			 WHERE id = $1 AND (product_data IS NULL OR product_data = '{}'::jsonb)`,
			id, payload, string(model.ScrapeStatusCompleted), scrapedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			changed = true
			return nil
		}
		return s.exists(ctx, id)
	})
	return changed, err
}

func (s *Store) exists(ctx context.Context, id string) error {
	var found bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM unique_urls WHERE id = $1)`, id).Scan(&found); err != nil {
		return err
	}
	if !found {
		return shared.ErrNotFound
	}
	return nil
}

func statusStrings(statuses []model.ScrapeStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func (s *Store) TransitionUniqueURL(ctx context.Context, id string, from []model.ScrapeStatus, to model.ScrapeStatus, lastScraped *time.Time, data model.ProductData) error {
	payload, err := jsonParam(data)
	if err != nil {
		return err
	}
	return s.run(ctx, "TransitionUniqueURL", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE unique_urls SET scraping_status = $2,
			        last_scraped = COALESCE($3::timestamptz, last_scraped),
			        product_data = COALESCE($4::jsonb, product_data)
			 WHERE id = $1 AND scraping_status = ANY($5)`,
			id, string(to), lastScraped, payload, pq.Array(statusStrings(from)))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := s.exists(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("unique url %s not in %v: %w", id, from, shared.ErrConflict)
	})
}

func (s *Store) ListUniqueURLsForScrape(ctx context.Context, statuses []model.ScrapeStatus, olderThan time.Time, limit int) ([]model.UniqueURL, error) {
	var out []model.UniqueURL
	err := s.run(ctx, "ListUniqueURLsForScrape", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+uniqueURLColumns+` FROM unique_urls
			 WHERE scraping_status = ANY($1) AND (last_scraped IS NULL OR last_scraped < $2)
			 ORDER BY created_at, url LIMIT $3`,
			pq.Array(statusStrings(statuses)), olderThan, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			u, err := scanUniqueURL(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) CountUniqueURLs(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, "CountUniqueURLs", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unique_urls`).Scan(&n)
	})
	return n, err
}

// Ranking results

const resultColumns = `id, project_id, keyword_id, competitor_id, scraped_at, position, url, domain, title, description,
	price, currency, price_original, discount_percentage, availability, stock_status, merchant_name, merchant_url,
	rating, reviews_count, image_url, additional_images, raw_data`

func resultArgs(r model.RankingResult) ([]any, error) {
	raw, err := jsonParam(r.RawData)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.ProjectID, r.KeywordID, nullString(r.CompetitorID), r.ScrapedAt, nullInt(r.Position), r.URL,
		nullString(r.Domain), r.Title, r.Description, nullFloat(r.Price), r.Currency, nullFloat(r.PriceOriginal),
		nullInt(r.DiscountPercentage), r.Availability, r.StockStatus, r.MerchantName, r.MerchantURL,
		nullFloat(r.Rating), nullInt(r.ReviewsCount), r.ImageURL, pq.Array(r.AdditionalImages), raw,
	}, nil
}

func scanResult(row scanner) (model.RankingResult, error) {
	var (
		r                            model.RankingResult
		competitorID, domain         sql.NullString
		position, discount, reviews  sql.NullInt64
		price, priceOriginal, rating sql.NullFloat64
		images                       pq.StringArray
		raw                          []byte
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.KeywordID, &competitorID, &r.ScrapedAt, &position, &r.URL, &domain,
		&r.Title, &r.Description, &price, &r.Currency, &priceOriginal, &discount, &r.Availability, &r.StockStatus,
		&r.MerchantName, &r.MerchantURL, &rating, &reviews, &r.ImageURL, &images, &raw)
	if err != nil {
		return model.RankingResult{}, err
	}
	r.CompetitorID = competitorID.String
	r.Domain = domain.String
	r.Position = intFrom(position)
	r.DiscountPercentage = intFrom(discount)
	r.ReviewsCount = intFrom(reviews)
	r.Price = floatFrom(price)
	r.PriceOriginal = floatFrom(priceOriginal)
	r.Rating = floatFrom(rating)
	r.AdditionalImages = images
	if len(raw) > 0 {
		r.RawData = json.RawMessage(raw)
	}
	return r, nil
}

func intFrom(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatFrom(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// InsertRankingResults writes all results and mappings in one transaction using
// multi-row inserts
func (s *Store) InsertRankingResults(ctx context.Context, results []model.RankingResult, mappings []model.SerpURLMapping) error {
	if len(results) == 0 {
		return nil
	}
	resultRows := make([][]any, 0, len(results))
	for i := range results {
		if results[i].ID == "" {
			results[i].ID = uuid.NewString()
		}
		args, err := resultArgs(results[i])
		if err != nil {
			return err
		}
		resultRows = append(resultRows, args)
	}
	now := s.now()
	mappingRows := make([][]any, 0, len(mappings))
	for _, m := range mappings {
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		mappingRows = append(mappingRows, []any{m.SerpResultID, m.UniqueURLID, nullInt(m.Position), m.Title, m.Description, created})
	}

	return s.run(ctx, "InsertRankingResults", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := bulkInsert(ctx, tx, "serp_results", resultColumns, resultRows); err != nil {
			return fmt.Errorf("failed to insert ranking results: %w", err)
		}
		if len(mappingRows) > 0 {
			cols := `serp_result_id, unique_url_id, position, title, description, created_at`
			if err := bulkInsert(ctx, tx, "serp_url_mappings", cols, mappingRows); err != nil {
				return fmt.Errorf("failed to insert url mappings: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func bulkInsert(ctx context.Context, tx *sql.Tx, table, columns string, rows [][]any) error {
	valueStrings := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(rows[0]))
	n := 1
	for _, row := range rows {
		placeholders := make([]string, len(row))
		for i := range row {
			placeholders[i] = fmt.Sprintf("$%d", n)
			n++
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		args = append(args, row...)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, columns, strings.Join(valueStrings, ", "))
	_, err := tx.ExecContext(ctx, stmt, args...)
	return err
}

func (s *Store) ListRankingResults(ctx context.Context, filter shared.ResultFilter) ([]model.RankingResult, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProjectID != "" {
		add("project_id = $%d", filter.ProjectID)
	}
	if filter.KeywordID != "" {
		add("keyword_id = $%d", filter.KeywordID)
	}
	if filter.Domain != "" {
		add("domain = $%d", filter.Domain)
	}
	if !filter.From.IsZero() {
		add("scraped_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("scraped_at <= $%d", filter.To)
	}
	if filter.OnlyPositioned {
		where = append(where, "position IS NOT NULL")
	}
	if filter.OnlyWithDomain {
		where = append(where, "domain IS NOT NULL")
	}
	if filter.OnlyUnattributed {
		where = append(where, "competitor_id IS NULL")
	}

	query := `SELECT ` + resultColumns + ` FROM serp_results`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scraped_at DESC, position ASC NULLS LAST, id`

	var out []model.RankingResult
	err := s.run(ctx, "ListRankingResults", func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			r, err := scanResult(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) ListURLMappings(ctx context.Context, resultIDs []string) ([]model.SerpURLMapping, error) {
	if len(resultIDs) == 0 {
		return nil, nil
	}
	var out []model.SerpURLMapping
	err := s.run(ctx, "ListURLMappings", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT serp_result_id, unique_url_id, position, title, description, created_at
			 FROM serp_url_mappings WHERE serp_result_id = ANY($1)`, pq.Array(resultIDs))
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var m model.SerpURLMapping
			var position sql.NullInt64
			if err := rows.Scan(&m.SerpResultID, &m.UniqueURLID, &position, &m.Title, &m.Description, &m.CreatedAt); err != nil {
				return err
			}
			m.Position = intFrom(position)
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// SetResultCompetitors joins on competitors so a reference never crosses projects
func (s *Store) SetResultCompetitors(ctx context.Context, assignments map[string]string) (int, error) {
	byCompetitor := make(map[string][]string)
	for resultID, competitorID := range assignments {
		byCompetitor[competitorID] = append(byCompetitor[competitorID], resultID)
	}
	competitorIDs := make([]string, 0, len(byCompetitor))
	for id := range byCompetitor {
		competitorIDs = append(competitorIDs, id)
	}
	sort.Strings(competitorIDs)

	var updated int
	err := s.run(ctx, "SetResultCompetitors", func() error {
		updated = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, competitorID := range competitorIDs {
			resultIDs := byCompetitor[competitorID]
			sort.Strings(resultIDs)
			res, err := tx.ExecContext(ctx,
				`UPDATE serp_results r SET competitor_id = c.id FROM competitors c
				 WHERE c.id = $1 AND r.project_id = c.project_id AND r.id = ANY($2) AND r.competitor_id IS NULL`,
				competitorID, pq.Array(resultIDs))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			updated += int(n)
		}
		return tx.Commit()
	})
	return updated, err
}

func (s *Store) LastScrapedAt(ctx context.Context, projectID string) (time.Time, error) {
	var last sql.NullTime
	err := s.run(ctx, "LastScrapedAt", func() error {
		return s.db.QueryRowContext(ctx, `SELECT MAX(scraped_at) FROM serp_results WHERE project_id = $1`, projectID).Scan(&last)
	})
	if err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, fmt.Errorf("no results for project %s: %w", projectID, shared.ErrNotFound)
	}
	return last.Time, nil
}
