package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shaibs3/shopwatch/internal/analytics"
	"github.com/shaibs3/shopwatch/internal/competitor"
	"github.com/shaibs3/shopwatch/internal/ingest"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/project"
	"github.com/shaibs3/shopwatch/internal/store"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubIngester struct {
	report ingest.Report
	err    error
	calls  int
}

func (s *stubIngester) IngestProject(_ context.Context, projectID string) (ingest.Report, error) {
	s.calls++
	s.report.ProjectID = projectID
	return s.report, s.err
}

type countingInvalidator struct{ projects []string }

func (c *countingInvalidator) InvalidateProject(_ context.Context, projectID string) error {
	c.projects = append(c.projects, projectID)
	return nil
}

type testServer struct {
	router      *mux.Router
	store       *store.MemoryStore
	ingester    *stubIngester
	invalidator *countingInvalidator
}

func newTestServer(t *testing.T, withIngester bool) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	resolver := competitor.NewResolver(s, zap.NewNop(), telemetry.NewNoop())
	svc := project.NewService(s, resolver, zap.NewNop())
	agg := analytics.New(s, nil, zap.NewNop())
	ts := &testServer{router: mux.NewRouter(), store: s, invalidator: &countingInvalidator{}}

	var ing Ingester
	if withIngester {
		ts.ingester = &stubIngester{}
		ing = ts.ingester
	}
	thresholds := competitor.Thresholds{MinAppearances: 2, MinAuthorityScore: 0}
	for _, h := range []interface {
		RegisterRoutes(*mux.Router, *zap.Logger)
	}{
		NewProjectHandler(svc, resolver, ing, agg, ts.invalidator, thresholds),
		NewAnalyticsHandler(agg),
		NewHealthHandler(s),
	} {
		h.RegisterRoutes(ts.router, zap.NewNop())
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createProject(t *testing.T) model.Project {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/projects", map[string]any{"name": "Mobilier", "reference_site": "www.example.fr"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p model.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestProjectHandler_CRUD(t *testing.T) {
	ts := newTestServer(t, true)
	p := ts.createProject(t)
	assert.Equal(t, "example.fr", p.ReferenceSite)
	assert.True(t, p.IsActive)

	w := ts.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPut, "/projects/"+p.ID, map[string]any{"description": "chaises"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "chaises", updated.Description)
	assert.Equal(t, "Mobilier", updated.Name)

	w = ts.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/projects/"+p.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/projects/"+p.ID, nil).Code)
	assert.Equal(t, []string{p.ID, p.ID}, ts.invalidator.projects)
}

func TestProjectHandler_RequestErrors(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodPost, "/projects", map[string]any{"description": "no name"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Fields, "name")

	w = ts.do(t, http.MethodPost, "/projects", `{"name":"x","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/projects", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/projects/missing", nil).Code)
}

func TestProjectHandler_Keywords(t *testing.T) {
	ts := newTestServer(t, true)
	p := ts.createProject(t)

	body := map[string]any{"keywords": []map[string]any{
		{"keyword": "chaise bois"},
		{"keyword": "chaise bois"},
		{"keyword": "table", "search_volume": 1000},
	}}
	w := ts.do(t, http.MethodPost, "/projects/"+p.ID+"/keywords", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res project.KeywordsResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Created, 2)
	assert.Len(t, res.Skipped, 1)

	w = ts.do(t, http.MethodGet, "/projects/"+p.ID+"/keywords", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var keywords []model.Keyword
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keywords))
	require.Len(t, keywords, 2)
	assert.Equal(t, "France", keywords[0].Location)

	w = ts.do(t, http.MethodPost, "/projects/"+p.ID+"/keywords", map[string]any{"keywords": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestProjectHandler_Competitors(t *testing.T) {
	ts := newTestServer(t, true)
	p := ts.createProject(t)

	w := ts.do(t, http.MethodPost, "/projects/"+p.ID+"/competitors",
		map[string]any{"name": "Rival", "domain": "https://www.rival.fr/boutique"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c model.Competitor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "rival.fr", c.Domain)

	w = ts.do(t, http.MethodPost, "/projects/"+p.ID+"/competitors", map[string]any{"name": "Rival bis", "domain": "rival.fr"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/projects/"+p.ID+"/competitors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Competitor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = ts.do(t, http.MethodDelete, "/projects/"+p.ID+"/competitors/"+c.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodDelete, "/projects/"+p.ID+"/competitors/"+c.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProjectHandler_DetectCompetitors(t *testing.T) {
	ts := newTestServer(t, true)
	p := ts.createProject(t)
	ctx := context.Background()

	kw := model.Keyword{ProjectID: p.ID, Keyword: "chaise", Location: "France", Language: "fr", IsActive: true}
	require.NoError(t, ts.store.CreateKeyword(ctx, &kw))
	at := time.Now().UTC().Add(-time.Hour)
	for i, domain := range []string{"rival.fr", "shop.rival.fr", "example.fr"} {
		pos := i + 1
		require.NoError(t, ts.store.InsertRankingResults(ctx, []model.RankingResult{{
			ProjectID: p.ID, KeywordID: kw.ID, ScrapedAt: at, Position: &pos,
			URL: "https://" + domain + "/p", Domain: domain,
		}}, nil))
	}

	w := ts.do(t, http.MethodGet, "/projects/"+p.ID+"/competitors/candidates", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cands struct {
		Candidates []competitor.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cands))
	require.Len(t, cands.Candidates, 1)
	assert.Equal(t, "rival.fr", cands.Candidates[0].Domain)

	w = ts.do(t, http.MethodPost, "/projects/"+p.ID+"/competitors/detect", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var det struct {
		Created             []model.Competitor `json:"created"`
		AssociationsUpdated int                `json:"associations_updated"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &det))
	require.Len(t, det.Created, 1)
	assert.Equal(t, 2, det.AssociationsUpdated)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/projects/missing/competitors/detect", nil).Code)
}

func TestProjectHandler_Analyze(t *testing.T) {
	ts := newTestServer(t, true)
	p := ts.createProject(t)

	w := ts.do(t, http.MethodPost, "/projects/"+p.ID+"/analyze", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report ingest.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, p.ID, report.ProjectID)

	ts.ingester.err = ingest.ErrProjectInactive
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/projects/"+p.ID+"/analyze", nil).Code)
	ts.ingester.err = ingest.ErrNoActiveKeywords
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, "/projects/"+p.ID+"/analyze", nil).Code)
	ts.ingester.err = errors.New("provider down")
	assert.Equal(t, http.StatusInternalServerError, ts.do(t, http.MethodPost, "/projects/"+p.ID+"/analyze", nil).Code)
	assert.Equal(t, 4, ts.ingester.calls)
}

func TestProjectHandler_AnalyzeWithoutProvider(t *testing.T) {
	ts := newTestServer(t, false)
	p := ts.createProject(t)

	w := ts.do(t, http.MethodPost, "/projects/"+p.ID+"/analyze", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProjectHandler_AnalysisStatus(t *testing.T) {
	ts := newTestServer(t, true)
	p := ts.createProject(t)

	w := ts.do(t, http.MethodGet, "/projects/"+p.ID+"/analysis-status", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status analytics.AnalysisStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, analytics.StatusNeverScraped, status.Status)
	assert.Nil(t, status.LastScrape)
}

func TestAnalyticsHandler(t *testing.T) {
	ts := newTestServer(t, true)
	p := ts.createProject(t)

	w := ts.do(t, http.MethodGet, "/analytics/"+p.ID+"/dashboard?days=14", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, bad := range []string{"0", "abc", "366"} {
		w = ts.do(t, http.MethodGet, "/analytics/"+p.ID+"/dashboard?days="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}

	w = ts.do(t, http.MethodGet, "/analytics/"+p.ID+"/share-of-voice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/analytics/"+p.ID+"/share-of-voice?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/analytics/"+p.ID+"/share-of-voice?start=2026-03-10T00:00:00Z&end=2026-03-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/analytics/"+p.ID+"/keywords-positions", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, view := range []string{"position-matrix", "trends", "competitors"} {
		w = ts.do(t, http.MethodGet, "/analytics/"+p.ID+"/"+view, nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code, view)
	}

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/analytics/missing/dashboard", nil).Code)
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t, true)
	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","store":"ok"}`, w.Body.String())
}
