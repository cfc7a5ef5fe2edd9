package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guru-systems/phi4-mini/internal/logger"
)

const (
	maxAlerts      = 100
	maxPerfHistory = 1000

	slowAnalysis = 60 * time.Second
)

// HealthStatus represents the health status of the system
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     string          `json:"version"`
	Uptime      string          `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Engine      EngineInfo      `json:"engine"`
	Performance PerformanceInfo `json:"performance"`
	Alerts      []Alert         `json:"alerts"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// EngineInfo describes the configured engine. Ready is filled in per request.
type EngineInfo struct {
	Ready          bool   `json:"ready"`
	ModelPath      string `json:"model_path"`
	ExecutorAddr   string `json:"executor_addr"`
	MaxLength      int    `json:"max_length"`
	MaxInputTokens int    `json:"max_input_tokens"`
	NumLayers      int    `json:"num_layers"`
	NumHeads       int    `json:"num_heads"`
	HeadDim        int    `json:"head_dim"`
}

// PerformanceInfo summarises the recent analysis history.
type PerformanceInfo struct {
	Analyses     int       `json:"analyses"`
	Failures     int       `json:"failures"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	P95LatencyMs float64   `json:"p95_latency_ms"`
	ErrorRate    float64   `json:"error_rate"`
	LastAnalysis time.Time `json:"last_analysis"`
}

// Alert represents a system alert
type Alert struct {
	Level      string     `json:"level"`     // info, warning, error, critical
	Component  string     `json:"component"` // engine, executor, sink, system
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// PerfPoint is one completed analysis.
type PerfPoint struct {
	Timestamp time.Time
	Duration  time.Duration
	Failed    bool
}

// Server exposes health, status and Prometheus metrics next to the
// analysis API.
type Server struct {
	engine    Analyzer
	info      EngineInfo
	version   string
	startTime time.Time
	server    *http.Server

	mu           sync.RWMutex
	alerts       []Alert
	perfHistory  []PerfPoint
	lastAnalysis time.Time
}

func NewServer(engine Analyzer, info EngineInfo, version string) *Server {
	return &Server{
		engine:      engine,
		info:        info,
		version:     version,
		startTime:   time.Now(),
		alerts:      make([]Alert, 0),
		perfHistory: make([]PerfPoint, 0),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth) // Kubernetes compatibility
	mux.HandleFunc("/status", s.handleDetailedStatus)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/cognitive", s.handleCognitive)

	mux.HandleFunc("/admin/alerts", s.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", s.handleClearAlerts)
	return mux
}

// Start serves until Stop is called. It returns http.ErrServerClosed after
// a clean shutdown.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	logger.Log.Info("HTTP server starting", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// RecordAnalysis adds one completed request to the performance history.
func (s *Server) RecordAnalysis(duration time.Duration, err error) {
	s.mu.Lock()
	now := time.Now()
	s.lastAnalysis = now
	s.perfHistory = append(s.perfHistory, PerfPoint{Timestamp: now, Duration: duration, Failed: err != nil})
	if len(s.perfHistory) > maxPerfHistory {
		s.perfHistory = s.perfHistory[1:]
	}
	s.mu.Unlock()

	if err != nil {
		s.AddAlert("error", "engine", fmt.Sprintf("Analysis failed: %v", err))
	} else if duration > slowAnalysis {
		s.AddAlert("warning", "engine", fmt.Sprintf("Slow analysis: %.1fs", duration.Seconds()))
	}
}

func (s *Server) AddAlert(level, component, message string) {
	s.mu.Lock()
	s.alerts = append(s.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(s.alerts) > maxAlerts {
		s.alerts = s.alerts[1:]
	}
	s.mu.Unlock()

	logger.Log.Warn("Alert raised", "level", level, "component", component, "message", message)
}

func (s *Server) ResolveAlert(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= 0 && index < len(s.alerts) {
		now := time.Now()
		s.alerts[index].Resolved = true
		s.alerts[index].ResolvedAt = &now
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.healthStatus()

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (s *Server) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healthStatus())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	alerts := make([]Alert, len(s.alerts))
	copy(alerts, s.alerts)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	s.alerts = s.alerts[:0]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "alerts cleared"})
}

// healthStatus is "critical" while the engine is not ready, "degraded" with
// unresolved error alerts, and "healthy" otherwise.
func (s *Server) healthStatus() HealthStatus {
	ready := s.engine != nil && s.engine.IsReady()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := "healthy"
	for _, alert := range s.alerts {
		if alert.Resolved {
			continue
		}
		if alert.Level == "critical" {
			status = "critical"
			break
		}
		if alert.Level == "error" {
			status = "degraded"
		}
	}
	if !ready {
		status = "critical"
	}

	info := s.info
	info.Ready = ready
	alerts := make([]Alert, len(s.alerts))
	copy(alerts, s.alerts)

	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Version:     s.version,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		System:      systemInfo(),
		Engine:      info,
		Performance: s.performanceInfo(),
		Alerts:      alerts,
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}

// performanceInfo must be called with s.mu held.
func (s *Server) performanceInfo() PerformanceInfo {
	info := PerformanceInfo{LastAnalysis: s.lastAnalysis}
	if len(s.perfHistory) == 0 {
		return info
	}

	var total time.Duration
	latencies := make([]float64, 0, len(s.perfHistory))
	for _, p := range s.perfHistory {
		total += p.Duration
		latencies = append(latencies, float64(p.Duration.Nanoseconds())/1e6)
		if p.Failed {
			info.Failures++
		}
	}
	sort.Float64s(latencies)

	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}

	info.Analyses = len(s.perfHistory)
	info.AvgLatencyMs = float64(total.Nanoseconds()) / float64(len(s.perfHistory)) / 1e6
	info.P95LatencyMs = latencies[p95]
	info.ErrorRate = float64(info.Failures) / float64(len(s.perfHistory))
	return info
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debug("Response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
