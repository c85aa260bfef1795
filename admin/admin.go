// Package admin serves the operational HTTP API: health probes,
// pipeline status, Prometheus metrics, runtime threshold and whitelist
// management, and a view of recently raised alerts. It is an operator
// surface, not a dashboard; every endpoint speaks plain JSON.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/config"
	"vigil/correlate"
	"vigil/detect"
	"vigil/logger"
	"vigil/mitigate"
	"vigil/version"
	"vigil/whitelist"
)

// StatusSource reports pipeline state. The detect engine satisfies it.
type StatusSource interface {
	Stats() detect.Stats
}

// AlertSource lists recently raised alerts, newest first. The
// correlator satisfies it.
type AlertSource interface {
	RecentAlerts(limit int) []correlate.Alert
}

type Options struct {
	Addr       string
	Engine     StatusSource
	Alerts     AlertSource
	Thresholds *config.ThresholdStore
	Whitelist  *whitelist.Filter
	Decider    *mitigate.Decider
	// Gatherer backs GET /metrics. Defaults to the default registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	opts    Options
	router  *chi.Mux
	httpSrv *http.Server
	started time.Time
}

func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("admin: status source is required")
	case opts.Alerts == nil:
		return nil, errors.New("admin: alert source is required")
	case opts.Thresholds == nil:
		return nil, errors.New("admin: threshold store is required")
	case opts.Whitelist == nil:
		return nil, errors.New("admin: whitelist filter is required")
	case opts.Decider == nil:
		return nil, errors.New("admin: mitigation decider is required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:    opts,
		router:  chi.NewRouter(),
		started: time.Now().UTC(),
	}
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	s.router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	s.router.Get("/status", s.getStatus)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	s.router.Get("/config/thresholds", s.getThresholds)
	s.router.Put("/config/thresholds", s.putThresholds)
	s.router.Get("/config/mitigation", s.getMitigation)
	s.router.Put("/config/mitigation", s.putMitigation)

	s.router.Get("/whitelist", s.getWhitelist)
	s.router.Post("/whitelist", s.postWhitelist)
	s.router.Delete("/whitelist", s.deleteWhitelist)

	s.router.Get("/alerts/recent", s.getRecentAlerts)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving on the configured address. It returns once the
// listener goroutine is launched; listen errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Admin API listening on %s", s.opts.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Admin API failed: %v", err)
		}
	}()
}

func (s *Server) Close(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type statusResponse struct {
	Version           string       `json:"version"`
	UptimeSeconds     int64        `json:"uptime_seconds"`
	MitigationEnabled bool         `json:"mitigation_enabled"`
	WhitelistEntries  int          `json:"whitelist_entries"`
	Pipeline          detect.Stats `json:"pipeline"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Version:           version.Version,
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		MitigationEnabled: s.opts.Decider.Enabled(),
		WhitelistEntries:  s.opts.Whitelist.Len(),
		Pipeline:          s.opts.Engine.Stats(),
	})
}

func (s *Server) getThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Thresholds.Load())
}

// putThresholds swaps the full threshold snapshot. A rejected update
// leaves the previous snapshot in effect and reports why.
func (s *Server) putThresholds(w http.ResponseWriter, r *http.Request) {
	next := s.opts.Thresholds.Load()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid threshold payload: %v", err))
		return
	}
	if err := s.opts.Thresholds.Update(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Infof("Thresholds updated via admin API")
	writeJSON(w, http.StatusOK, s.opts.Thresholds.Load())
}

type mitigationPayload struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) getMitigation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mitigationPayload{Enabled: s.opts.Decider.Enabled()})
}

func (s *Server) putMitigation(w http.ResponseWriter, r *http.Request) {
	var p mitigationPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mitigation payload: %v", err))
		return
	}
	s.opts.Decider.SetEnabled(p.Enabled)
	logger.Infof("Mitigation %s via admin API", map[bool]string{true: "enabled", false: "disabled"}[p.Enabled])
	writeJSON(w, http.StatusOK, mitigationPayload{Enabled: s.opts.Decider.Enabled()})
}

func (s *Server) getWhitelist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Whitelist.Entries())
}

type whitelistPayload struct {
	Kind  whitelist.Kind `json:"kind"`
	Value string         `json:"value"`
}

// postWhitelist adds an entry. Re-adding an existing entry returns the
// original entry unchanged.
func (s *Server) postWhitelist(w http.ResponseWriter, r *http.Request) {
	var p whitelistPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid whitelist payload: %v", err))
		return
	}
	if strings.TrimSpace(p.Value) == "" {
		writeError(w, http.StatusBadRequest, "whitelist value must not be empty")
		return
	}
	var e whitelist.Entry
	switch p.Kind {
	case whitelist.KindProcess:
		e = s.opts.Whitelist.AddProcess(p.Value)
	case whitelist.KindDirectory:
		e = s.opts.Whitelist.AddDirectory(p.Value)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown whitelist kind %q", p.Kind))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// deleteWhitelist removes an entry identified by kind and value query
// parameters. Removing a missing entry still succeeds.
func (s *Server) deleteWhitelist(w http.ResponseWriter, r *http.Request) {
	kind := whitelist.Kind(r.URL.Query().Get("kind"))
	value := r.URL.Query().Get("value")
	if kind != whitelist.KindProcess && kind != whitelist.KindDirectory {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown whitelist kind %q", kind))
		return
	}
	if strings.TrimSpace(value) == "" {
		writeError(w, http.StatusBadRequest, "whitelist value must not be empty")
		return
	}
	removed := s.opts.Whitelist.Remove(kind, value)
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) getRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	alerts := s.opts.Alerts.RecentAlerts(limit)
	if alerts == nil {
		alerts = []correlate.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Admin API response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
