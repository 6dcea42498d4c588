package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/watch-and-recover/internal/tracing"
)

// Router exposes metrics and the latest run over HTTP
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/state", s.handleState).Methods("GET")
	router.HandleFunc("/runs/last", s.handleLastRun).Methods("GET")
	router.HandleFunc("/failures", s.handleFailures).Methods("GET")

	if s.config.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(s.config.Tracer))
	}
	if s.auth != nil {
		router.Use(s.auth.Middleware)
	}
	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	last, lastErr := s.Last()
	total, failed := s.Stats()

	body := map[string]interface{}{
		"status":      "healthy",
		"total_runs":  total,
		"failed_runs": failed,
	}
	if last != nil {
		body["last_run"] = last.EndTime.Unix()
	}
	if lastErr != nil {
		body["status"] = "unhealthy"
		body["error"] = lastErr.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	last, _ := s.Last()
	if last == nil || last.State == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, last.State)
}

func (s *Service) handleLastRun(w http.ResponseWriter, r *http.Request) {
	last, _ := s.Last()
	if last == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Service) handleFailures(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.history.Recent(limit))
}
