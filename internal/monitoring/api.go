package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/guru-systems/phi4-mini/internal/analysis"
)

const maxRequestBody = 1 << 20

// Analyzer is the engine surface the API needs.
type Analyzer interface {
	IsReady() bool
	CognitiveAnalysis(ctx context.Context, prompt string) (*analysis.Phi4Analysis, error)
	AnalyzeProject(ctx context.Context, systemPrompt, analysisPrompt string) (*analysis.Report, error)
}

// ProjectRequest is the frontend's project analysis request. Empty prompts
// fall back to the engine defaults.
type ProjectRequest struct {
	SystemPrompt   string `json:"systemPrompt"`
	AnalysisPrompt string `json:"analysisPrompt"`
}

type CognitiveRequest struct {
	Prompt string `json:"prompt"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if s.engine == nil || !s.engine.IsReady() {
		writeError(w, http.StatusServiceUnavailable, "engine not ready")
		return false
	}
	return true
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if !decodeBody(w, r, &req) || !s.ready(w) {
		return
	}

	start := time.Now()
	report, err := s.engine.AnalyzeProject(r.Context(), req.SystemPrompt, req.AnalysisPrompt)
	s.RecordAnalysis(time.Since(start), err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Phi-4 analysis failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCognitive(w http.ResponseWriter, r *http.Request) {
	var req CognitiveRequest
	if !decodeBody(w, r, &req) || !s.ready(w) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	start := time.Now()
	a, err := s.engine.CognitiveAnalysis(r.Context(), req.Prompt)
	s.RecordAnalysis(time.Since(start), err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Phi-4 analysis failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, a)
}
