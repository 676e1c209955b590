package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fertiguard/internal/alerts"
	"fertiguard/internal/analysis"
	"fertiguard/internal/anomaly"
	"fertiguard/internal/config"
	"fertiguard/internal/maintenance"
	"fertiguard/internal/model"
	"fertiguard/internal/snapshot"
	"fertiguard/internal/storage"
)

type Server struct {
	cfg       *config.Manager
	store     storage.Store
	alerts    *alerts.Store
	snap      *snapshot.Store
	engine    *anomaly.Engine
	scheduler *maintenance.Scheduler
	runner    *analysis.Runner
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status          string `json:"status"`
	Time            string `json:"time"`
	Version         string `json:"version"`
	SensorsTracked  int    `json:"sensors_tracked"`
	Predictions     any    `json:"predictions"`
	LastAnalysisRun string `json:"last_analysis_run,omitempty"`
}

func Start(ctx context.Context, cfg *config.Manager, store storage.Store, alertsStore *alerts.Store, snap *snapshot.Store, engine *anomaly.Engine, scheduler *maintenance.Scheduler, runner *analysis.Runner, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:       cfg,
		store:     store,
		alerts:    alertsStore,
		snap:      snap,
		engine:    engine,
		scheduler: scheduler,
		runner:    runner,
		logger:    logger,
		version:   version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/alerts/summary", server.handleAlertSummary)
	mux.HandleFunc("/predictions", server.handlePredictions)
	mux.HandleFunc("/maintenance", server.handleMaintenance)
	mux.HandleFunc("/recommendations", server.handleRecommendations)
	mux.HandleFunc("/cost-savings", server.handleCostSavings)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/analysis/run", server.handleAnalysisRun)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	predictions, updatedAt := s.snap.All()
	resp := statusResponse{
		Status:         "ok",
		Time:           time.Now().UTC().Format(time.RFC3339),
		Version:        s.version,
		SensorsTracked: len(s.cfg.Get().Thresholds),
		Predictions:    predictions,
	}
	if !updatedAt.IsZero() {
		resp.LastAnalysisRun = updatedAt.Format(time.RFC3339)
	}
	writeJSON(w, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 100)
	writeJSON(w, s.alerts.List(limit))
}

func (s *Server) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	hours := queryInt(r, "hours", 24)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	summary, err := s.engine.Summary(r.Context(), since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	predictions, err := s.store.LatestPredictions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, predictions)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := model.MaintenanceStatus(r.URL.Query().Get("status"))
	records, err := s.store.MaintenanceRecords(r.Context(), status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sensor := r.URL.Query().Get("sensor")
	if sensor == "" {
		http.Error(w, "sensor query parameter required", http.StatusBadRequest)
		return
	}
	recs, err := s.scheduler.Recommendations(r.Context(), sensor)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleCostSavings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report, err := s.scheduler.CostSavings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sensor := r.URL.Query().Get("sensor")
	if sensor == "" {
		http.Error(w, "sensor query parameter required", http.StatusBadRequest)
		return
	}
	score, err := s.engine.HealthScore(r.Context(), sensor)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"sensor": sensor, "health_score": score})
}

func (s *Server) handleAnalysisRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report := s.runner.Run(r.Context())
	writeJSON(w, report)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
