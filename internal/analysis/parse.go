package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/guru-systems/phi4-mini/internal/logger"
	"github.com/guru-systems/phi4-mini/internal/metrics"
)

// Values used when the model output holds no usable JSON record.
const (
	FallbackConfidence float32 = 0.75
	FallbackPattern            = "text_analysis"
	FallbackInsight            = "Raw text analysis"
	FallbackSuggestion         = "Parse structured output"
)

// Parse paths reported to metrics.
const (
	PathJSON     = "json"
	PathFallback = "fallback"
)

// wireAnalysis mirrors the JSON record the model is prompted to emit.
// Pointers distinguish missing fields from zero values.
type wireAnalysis struct {
	Confidence            *float32      `json:"confidence"`
	MathematicalInsights  *string       `json:"mathematical_insights"`
	ReasoningSteps        *[]string     `json:"reasoning_steps"`
	PatternDetection      *wirePatterns `json:"pattern_detection"`
	ArchitecturalAnalysis *wireArch     `json:"architectural_analysis"`
}

type wirePatterns struct {
	DetectedPatterns *[]string  `json:"detected_patterns"`
	ConfidenceScores *[]float32 `json:"confidence_scores"`
}

type wireArch struct {
	StructureInsights       *[]string `json:"structure_insights"`
	OptimizationSuggestions *[]string `json:"optimization_suggestions"`
}

// Parse never fails. The span from the first '{' to the last '}' is decoded
// and validated as an analysis record; if that is impossible the raw text is
// wrapped into a fallback analysis. raw is always kept in RawResponse.
func Parse(raw string) *Phi4Analysis {
	a, err := parseJSON(raw)
	if err != nil {
		logger.Log.Warn("Structured parse failed, using text fallback", "component", "analysis", "error", err, "raw_length", len(raw))
		a = fallback(raw)
		metrics.RecordAnalysisParse(PathFallback, a.Confidence)
		return a
	}
	metrics.RecordAnalysisParse(PathJSON, a.Confidence)
	return a
}

// ParseStrict is the JSON path alone: it returns an error instead of
// falling back.
func ParseStrict(raw string) (*Phi4Analysis, error) {
	return parseJSON(raw)
}

func parseJSON(raw string) (*Phi4Analysis, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in response")
	}

	var w wireAnalysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	a, err := w.validate()
	if err != nil {
		return nil, err
	}
	a.RawResponse = raw
	return a, nil
}

func (w *wireAnalysis) validate() (*Phi4Analysis, error) {
	switch {
	case w.Confidence == nil:
		return nil, errors.New("missing field confidence")
	case w.MathematicalInsights == nil:
		return nil, errors.New("missing field mathematical_insights")
	case w.ReasoningSteps == nil:
		return nil, errors.New("missing field reasoning_steps")
	case w.PatternDetection == nil:
		return nil, errors.New("missing field pattern_detection")
	case w.PatternDetection.DetectedPatterns == nil:
		return nil, errors.New("missing field pattern_detection.detected_patterns")
	case w.PatternDetection.ConfidenceScores == nil:
		return nil, errors.New("missing field pattern_detection.confidence_scores")
	}

	if !inUnitRange(*w.Confidence) {
		return nil, fmt.Errorf("invalid confidence: %v (must be in [0, 1])", *w.Confidence)
	}
	patterns := *w.PatternDetection.DetectedPatterns
	scores := *w.PatternDetection.ConfidenceScores
	if len(patterns) != len(scores) {
		return nil, fmt.Errorf("pattern_detection: %d patterns but %d scores", len(patterns), len(scores))
	}
	for i, s := range scores {
		if !inUnitRange(s) {
			return nil, fmt.Errorf("invalid confidence_scores[%d]: %v (must be in [0, 1])", i, s)
		}
	}

	a := &Phi4Analysis{
		Confidence:           *w.Confidence,
		MathematicalInsights: *w.MathematicalInsights,
		ReasoningSteps:       *w.ReasoningSteps,
		PatternDetection: PatternDetection{
			DetectedPatterns: patterns,
			ConfidenceScores: scores,
		},
	}

	if arch := w.ArchitecturalAnalysis; arch != nil {
		if arch.StructureInsights == nil || arch.OptimizationSuggestions == nil {
			return nil, errors.New("architectural_analysis: missing structure_insights or optimization_suggestions")
		}
		a.ArchitecturalAnalysis = &ArchitecturalAnalysis{
			StructureInsights:       *arch.StructureInsights,
			OptimizationSuggestions: *arch.OptimizationSuggestions,
		}
	}
	return a, nil
}

func inUnitRange(v float32) bool {
	return v >= 0 && v <= 1
}

func fallback(raw string) *Phi4Analysis {
	a := New(FallbackConfidence, raw)
	a.ReasoningSteps = splitLines(raw)
	a.AddPattern(FallbackPattern, FallbackConfidence)
	a.SetArchitecturalAnalysis(ArchitecturalAnalysis{
		StructureInsights:       []string{FallbackInsight},
		OptimizationSuggestions: []string{FallbackSuggestion},
	})
	a.RawResponse = raw
	return a
}

// splitLines yields one entry per line, blank lines included. A final line
// terminator does not start another line and "\r\n" counts as one.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
