// Package analysis holds the structured result of a cognitive analysis run,
// the parser that produces it from raw model output, and the projections used
// by presentation layers.
package analysis

import (
	"fmt"
	"unicode/utf8"
)

// Phi4Analysis is produced once per generation and treated as read-only
// afterwards. DetectedPatterns and ConfidenceScores always have equal length.
type Phi4Analysis struct {
	Confidence            float32                `json:"confidence"`
	MathematicalInsights  string                 `json:"mathematical_insights"`
	ReasoningSteps        []string               `json:"reasoning_steps"`
	PatternDetection      PatternDetection       `json:"pattern_detection"`
	ArchitecturalAnalysis *ArchitecturalAnalysis `json:"architectural_analysis"`
	RawResponse           string                 `json:"raw_response"`
}

type PatternDetection struct {
	DetectedPatterns []string  `json:"detected_patterns"`
	ConfidenceScores []float32 `json:"confidence_scores"`
}

type ArchitecturalAnalysis struct {
	StructureInsights       []string `json:"structure_insights"`
	OptimizationSuggestions []string `json:"optimization_suggestions"`
}

// ScoredPattern is one (pattern, score) pair.
type ScoredPattern struct {
	Name  string
	Score float32
}

func New(confidence float32, insights string) *Phi4Analysis {
	return &Phi4Analysis{
		Confidence:           confidence,
		MathematicalInsights: insights,
		ReasoningSteps:       []string{},
		PatternDetection:     NewPatternDetection(),
	}
}

func (a *Phi4Analysis) AddReasoningStep(step string) {
	a.ReasoningSteps = append(a.ReasoningSteps, step)
}

// AddPattern appends a pattern and its score together.
func (a *Phi4Analysis) AddPattern(pattern string, confidence float32) {
	a.PatternDetection.AddPattern(pattern, confidence)
}

func (a *Phi4Analysis) SetArchitecturalAnalysis(arch ArchitecturalAnalysis) {
	a.ArchitecturalAnalysis = &arch
}

// BestPattern returns the highest scoring pattern. On ties the later entry
// wins. ok is false when no pattern was detected.
func (a *Phi4Analysis) BestPattern() (best ScoredPattern, ok bool) {
	pd := a.PatternDetection
	for i, name := range pd.DetectedPatterns {
		if i >= len(pd.ConfidenceScores) {
			break
		}
		if !ok || pd.ConfidenceScores[i] >= best.Score {
			best = ScoredPattern{Name: name, Score: pd.ConfidenceScores[i]}
			ok = true
		}
	}
	return best, ok
}

func (a *Phi4Analysis) IsConfident(threshold float32) bool {
	return a.Confidence >= threshold
}

// Summary is a one-line digest with the insights cut to 100 characters.
func (a *Phi4Analysis) Summary() string {
	insights := a.MathematicalInsights
	if utf8.RuneCountInString(insights) > 100 {
		insights = string([]rune(insights)[:100]) + "..."
	}
	return fmt.Sprintf("Confidence: %.2f%% | Patterns: %d | Steps: %d | Insights: %s",
		float64(a.Confidence)*100,
		len(a.PatternDetection.DetectedPatterns),
		len(a.ReasoningSteps),
		insights,
	)
}

func NewPatternDetection() PatternDetection {
	return PatternDetection{DetectedPatterns: []string{}, ConfidenceScores: []float32{}}
}

func (p *PatternDetection) AddPattern(pattern string, confidence float32) {
	p.DetectedPatterns = append(p.DetectedPatterns, pattern)
	p.ConfidenceScores = append(p.ConfidenceScores, confidence)
}

// ConfidentPatterns returns, in order, the pairs scoring at least threshold.
func (p PatternDetection) ConfidentPatterns(threshold float32) []ScoredPattern {
	var out []ScoredPattern
	for i, name := range p.DetectedPatterns {
		if i < len(p.ConfidenceScores) && p.ConfidenceScores[i] >= threshold {
			out = append(out, ScoredPattern{Name: name, Score: p.ConfidenceScores[i]})
		}
	}
	return out
}

func (p PatternDetection) AverageConfidence() float32 {
	if len(p.ConfidenceScores) == 0 {
		return 0
	}
	var sum float32
	for _, s := range p.ConfidenceScores {
		sum += s
	}
	return sum / float32(len(p.ConfidenceScores))
}

func (a *ArchitecturalAnalysis) AddInsight(insight string) {
	a.StructureInsights = append(a.StructureInsights, insight)
}

func (a *ArchitecturalAnalysis) AddSuggestion(suggestion string) {
	a.OptimizationSuggestions = append(a.OptimizationSuggestions, suggestion)
}

func (a *ArchitecturalAnalysis) RecommendationCount() int {
	return len(a.StructureInsights) + len(a.OptimizationSuggestions)
}
