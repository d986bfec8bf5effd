package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shaibs3/shopwatch/internal/analytics"
	"github.com/shaibs3/shopwatch/internal/competitor"
	"github.com/shaibs3/shopwatch/internal/ingest"
	"github.com/shaibs3/shopwatch/internal/model"
	"github.com/shaibs3/shopwatch/internal/project"
	"go.uber.org/zap"
)

// CompetitorDetector finds and persists new competitors from ranking results
type CompetitorDetector interface {
	NewCandidates(ctx context.Context, projectID string, t competitor.Thresholds) ([]competitor.Candidate, error)
	DetectNew(ctx context.Context, projectID string, t competitor.Thresholds, autoCreate bool) (competitor.Detection, error)
	BackfillAssociations(ctx context.Context, projectID string) (int, error)
}

// Ingester runs an ingestion pass over a project
type Ingester interface {
	IngestProject(ctx context.Context, projectID string) (ingest.Report, error)
}

// StatusReader reports the last ingestion of a project
type StatusReader interface {
	AnalysisStatus(ctx context.Context, projectID string) (analytics.AnalysisStatus, error)
}

// ProjectHandler serves project management, competitor detection and ingestion
type ProjectHandler struct {
	projects    *project.Service
	detector    CompetitorDetector
	ingester    Ingester
	status      StatusReader
	invalidator ingest.CacheInvalidator
	thresholds  competitor.Thresholds
	logger      *zap.Logger
}

// NewProjectHandler builds the handler. ingester may be nil when no search
// provider is configured; invalidator may be nil when caching is off.
func NewProjectHandler(projects *project.Service, detector CompetitorDetector, ingester Ingester, status StatusReader,
	invalidator ingest.CacheInvalidator, thresholds competitor.Thresholds) *ProjectHandler {
	return &ProjectHandler{
		projects:    projects,
		detector:    detector,
		ingester:    ingester,
		status:      status,
		invalidator: invalidator,
		thresholds:  thresholds,
		logger:      zap.NewNop(),
	}
}

func (h *ProjectHandler) RegisterRoutes(router *mux.Router, logger *zap.Logger) {
	h.logger = logger.Named("projects")
	router.HandleFunc("/projects", h.handleCreateProject).Methods(http.MethodPost)
	router.HandleFunc("/projects", h.handleListProjects).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id}", h.handleGetProject).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id}", h.handleUpdateProject).Methods(http.MethodPut)
	router.HandleFunc("/projects/{id}", h.handleDeleteProject).Methods(http.MethodDelete)
	router.HandleFunc("/projects/{id}/keywords", h.handleListKeywords).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id}/keywords", h.handleAddKeywords).Methods(http.MethodPost)
	router.HandleFunc("/projects/{id}/competitors", h.handleListCompetitors).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id}/competitors", h.handleAddCompetitor).Methods(http.MethodPost)
	router.HandleFunc("/projects/{id}/competitors/candidates", h.handleCandidates).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id}/competitors/detect", h.handleDetect).Methods(http.MethodPost)
	router.HandleFunc("/projects/{id}/competitors/{competitorId}", h.handleDeleteCompetitor).Methods(http.MethodDelete)
	router.HandleFunc("/projects/{id}/analyze", h.handleAnalyze).Methods(http.MethodPost)
	router.HandleFunc("/projects/{id}/analysis-status", h.handleAnalysisStatus).Methods(http.MethodGet)
}

func (h *ProjectHandler) invalidate(ctx context.Context, projectID string) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.InvalidateProject(ctx, projectID); err != nil {
		h.logger.Warn("failed to invalidate cache", zap.String("project_id", projectID), zap.Error(err))
	}
}

func (h *ProjectHandler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in model.ProjectInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	p, err := h.projects.CreateProject(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProjectHandler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	projects, err := h.projects.ListProjects(r.Context(), activeOnly)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.GetProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProjectHandler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in model.ProjectUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	p, err := h.projects.UpdateProject(r.Context(), id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, p)
}

func (h *ProjectHandler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.projects.DeleteProject(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.invalidate(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := h.projects.ListKeywords(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if keywords == nil {
		keywords = []model.Keyword{}
	}
	writeJSON(w, http.StatusOK, keywords)
}

func (h *ProjectHandler) handleAddKeywords(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in model.BulkKeywordsInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.projects.AddKeywords(r.Context(), id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusCreated, res)
}

func (h *ProjectHandler) handleListCompetitors(w http.ResponseWriter, r *http.Request) {
	competitors, err := h.projects.ListCompetitors(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if competitors == nil {
		competitors = []model.Competitor{}
	}
	writeJSON(w, http.StatusOK, competitors)
}

func (h *ProjectHandler) handleAddCompetitor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in model.CompetitorInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.projects.AddCompetitor(r.Context(), id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusCreated, c)
}

func (h *ProjectHandler) handleDeleteCompetitor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.projects.DeleteCompetitor(r.Context(), vars["id"], vars["competitorId"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.invalidate(r.Context(), vars["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.projects.GetProject(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	candidates, err := h.detector.NewCandidates(r.Context(), id, h.thresholds)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if candidates == nil {
		candidates = []competitor.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": id,
		"candidates": candidates,
	})
}

func (h *ProjectHandler) handleDetect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.projects.GetProject(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	detection, err := h.detector.DetectNew(r.Context(), id, h.thresholds, true)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	updated, err := h.detector.BackfillAssociations(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":           id,
		"candidates":           len(detection.Candidates),
		"created":              detection.Created,
		"associations_updated": updated,
	})
}

func (h *ProjectHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "search provider is not configured"})
		return
	}
	report, err := h.ingester.IngestProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ProjectHandler) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.AnalysisStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
