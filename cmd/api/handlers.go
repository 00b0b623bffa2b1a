package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/WessleyAI/wessley-pricing/engine/app"
	"github.com/WessleyAI/wessley-pricing/engine/catalog"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/freshness"
	"github.com/WessleyAI/wessley-pricing/engine/research"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
	"github.com/WessleyAI/wessley-pricing/pkg/mid"
)

const maxBody = 1 << 20

type server struct {
	researcher research.Researcher
	bulk       *research.Coordinator
	jobs       *research.Jobs
	cache      *freshness.Cache
	catalog    catalog.Catalog
	health     func(context.Context) (map[string]string, error)
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func newServer(a *app.App, log *slog.Logger) *server {
	return &server{
		researcher: a.Orchestrator,
		bulk:       a.Bulk,
		jobs:       a.Jobs,
		cache:      a.Cache,
		catalog:    a.Catalog,
		health:     a.Health,
		metrics:    a.Metrics,
		log:        log,
	}
}

func (s *server) routes(corsOrigin string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mid.RequestID(),
		mid.Recover(s.log),
		mid.Logger(s.log),
		mid.Metrics(s.metrics),
		mid.CORS(corsOrigin),
		mid.OTel("wessley-pricing"),
	)

	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/research", func(r chi.Router) {
		r.Post("/bulk", s.handleBulk)
		r.Get("/bulk/{jobID}", s.handleJob)
		r.Delete("/bulk/{jobID}", s.handleCancel)
		r.Post("/{itemID}", s.handleResearch)
	})
	r.Get("/api/history/{itemID}", s.handleHistory)
	r.Post("/api/items/{itemID}/sync-price", s.handleSyncPrice)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sources, err := s.health(r.Context())
	if err != nil {
		s.log.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error(), "sources": sources})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sources": sources})
}

// handleResearch researches one item. An empty body resolves the item
// through the catalog.
func (s *server) handleResearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.writeError(w, r, domain.NewValidationError("body", "", err))
		return
	}

	var q domain.ItemQuery
	if len(bytes.TrimSpace(body)) == 0 {
		if q, err = s.catalog.Item(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if err := json.Unmarshal(body, &q); err != nil {
		s.writeError(w, r, domain.NewValidationError("body", "", err))
		return
	}
	q.ItemID = id

	rec, err := s.researcher.Research(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.MarketAnalysis)
}

type bulkBody struct {
	domain.BulkRequest
	Async bool `json:"async"`
}

func (s *server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil {
		s.writeError(w, r, domain.NewValidationError("body", "", err))
		return
	}

	if body.Async {
		id, err := s.jobs.Start(body.BulkRequest)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
		return
	}

	report, err := s.bulk.Run(r.Context(), body.BulkRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleJob(w http.ResponseWriter, r *http.Request) {
	report, ok := s.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		s.writeError(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if !s.jobs.Cancel(id) {
		s.writeError(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "cancelling"})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, domain.NewValidationError("limit", v, domain.ErrStructural))
			return
		}
		limit = n
	}
	recs, err := s.cache.History(r.Context(), chi.URLParam(r, "itemID"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.ResearchRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleSyncPrice pushes the newest analysis of an item to the catalog.
func (s *server) handleSyncPrice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	recs, err := s.cache.History(r.Context(), id, 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(recs) == 0 {
		s.writeError(w, r, domain.ErrNotFound)
		return
	}
	a := recs[0].MarketAnalysis
	if err := s.catalog.SyncPrice(r.Context(), id, a); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"itemId":           id,
		"recommendedPrice": a.RecommendedPrice,
		"confidence":       a.Confidence,
		"recordId":         recs[0].ID,
	})
}

var kindStatus = map[string]int{
	domain.KindNoData:     http.StatusUnprocessableEntity,
	domain.KindStructural: http.StatusBadRequest,
	domain.KindNotFound:   http.StatusNotFound,
	domain.KindCancelled:  http.StatusServiceUnavailable,
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrNoData):
		msg = domain.ErrNoData.Error()
	case status == http.StatusInternalServerError:
		s.log.Error("request failed", "error", err, "path", r.URL.Path, "request_id", mid.GetRequestID(r.Context()))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
