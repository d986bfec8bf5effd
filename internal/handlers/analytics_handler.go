package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shaibs3/shopwatch/internal/analytics"
	"go.uber.org/zap"
)

const maxDashboardDays = 365

// AnalyticsHandler serves the read-only analytics views of a project
type AnalyticsHandler struct {
	aggregator *analytics.Aggregator
	logger     *zap.Logger
}

func NewAnalyticsHandler(aggregator *analytics.Aggregator) *AnalyticsHandler {
	return &AnalyticsHandler{aggregator: aggregator, logger: zap.NewNop()}
}

func (h *AnalyticsHandler) RegisterRoutes(router *mux.Router, logger *zap.Logger) {
	h.logger = logger.Named("analytics")
	router.HandleFunc("/analytics/{id}/dashboard", h.handleDashboard).Methods(http.MethodGet)
	router.HandleFunc("/analytics/{id}/share-of-voice", h.handleShareOfVoice).Methods(http.MethodGet)
	router.HandleFunc("/analytics/{id}/keywords-positions", h.handleKeywordPositions).Methods(http.MethodGet)
	for _, view := range []string{"position-matrix", "trends", "competitors"} {
		router.HandleFunc("/analytics/{id}/"+view, h.handleNotImplemented).Methods(http.MethodGet)
	}
}

func (h *AnalyticsHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	days := analytics.DefaultDashboardDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDashboardDays {
			writeError(w, h.logger, fmt.Errorf("%w: days must be between 1 and %d", errBadRequest, maxDashboardDays))
			return
		}
		days = n
	}
	d, err := h.aggregator.Dashboard(r.Context(), mux.Vars(r)["id"], days)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *AnalyticsHandler) handleShareOfVoice(w http.ResponseWriter, r *http.Request) {
	var period analytics.Period
	for name, dst := range map[string]*time.Time{"start": &period.Start, "end": &period.End} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, h.logger, fmt.Errorf("%w: %s must be RFC3339", errBadRequest, name))
			return
		}
		*dst = t.UTC()
	}
	sov, err := h.aggregator.ShareOfVoice(r.Context(), mux.Vars(r)["id"], period)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sov)
}

func (h *AnalyticsHandler) handleKeywordPositions(w http.ResponseWriter, r *http.Request) {
	kp, err := h.aggregator.KeywordPositions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, kp)
}

func (h *AnalyticsHandler) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	writeError(w, h.logger, analytics.ErrNotImplemented)
}
