package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/deploylog"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/monitor"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/negroni/v3"
)

var logger = log.WithField("package", "dashboard")

const (
	DEFAULT_PORT         = 3001
	DEFAULT_REPORT_LIMIT = 20
	RECENT_ALERTS        = 10
)

// Server exposes deployment history and monitoring reports as JSON
type Server struct {
	store     deploylog.Store
	reportDir string
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
}

// NewServer creates a new dashboard server
func NewServer(store deploylog.Store, reportDir string) *Server {
	s := &Server{
		store:     store,
		reportDir: reportDir,
		registry:  prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "dashboard",
			Name:      "requests_total",
			Help:      "Dashboard API requests by route and status code.",
		}, []string{"route", "code"}),
	}
	s.registry.MustRegister(s.requests, newHistoryCollector(store))
	return s
}

// Handler builds the routed and instrumented handler
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/deployments", s.deployments).Methods(http.MethodGet)
	router.HandleFunc("/api/monitoring", s.monitoring).Methods(http.MethodGet)
	router.HandleFunc("/api/summary", s.summary).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	rec := negroni.NewRecovery()
	rec.PrintStack = false

	n := negroni.New(rec, s.requestLogger())
	n.UseHandler(router)
	return n
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() negroni.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		start := time.Now()
		next(w, r)

		status := http.StatusOK
		if rw, ok := w.(negroni.ResponseWriter); ok && rw.Status() != 0 {
			status = rw.Status()
		}
		route := r.URL.Path
		if m := mux.CurrentRoute(r); m != nil {
			if tmpl, err := m.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   status,
			"duration": time.Since(start).String(),
		}).Debug("Request served")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func intParam(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *Server) deployments(w http.ResponseWriter, r *http.Request) {
	filter := models.ListFilter{
		Group: r.URL.Query().Get("group"),
		Kind:  models.RecordKind(r.URL.Query().Get("type")),
		Limit: intParam(r, "limit", 0),
	}
	switch filter.Kind {
	case "", models.RECORD_KIND_DEPLOYMENT, models.RECORD_KIND_ROLLBACK:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type must be deployment or rollback"})
		return
	}

	entries, err := s.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		if flat, err := Flatten(e); err == nil {
			out = append(out, flat)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) monitoring(w http.ResponseWriter, r *http.Request) {
	docs, err := monitor.ReadReports(s.reportDir, intParam(r, "limit", DEFAULT_REPORT_LIMIT))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []models.MonitoringReportDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context(), models.ListFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	docs, err := monitor.ReadReports(s.reportDir, intParam(r, "limit", DEFAULT_REPORT_LIMIT))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, Summarize(entries, docs))
}

// Flatten renders an entry as the record's own fields plus "type"
func Flatten(e models.LogEntry) (map[string]interface{}, error) {
	data, err := json.Marshal(e.Record())
	if err != nil {
		return nil, err
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	flat["type"] = e.Kind
	return flat, nil
}
