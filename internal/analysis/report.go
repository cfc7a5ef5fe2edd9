package analysis

import (
	"fmt"
	"strings"
)

// Recommendation is derived from one optimization suggestion.
type Recommendation struct {
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
}

// Pattern is derived from one (pattern, score) pair.
type Pattern struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Quality string `json:"quality"`
}

// Opportunity is derived from one structure insight.
type Opportunity struct {
	Area        string `json:"area"`
	Opportunity string `json:"opportunity"`
	Potential   string `json:"potential"`
	Effort      string `json:"effort"`
}

// Insight is derived from one reasoning step.
type Insight struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Report is the project analysis record handed to the frontend.
type Report struct {
	RequestID        string           `json:"requestId,omitempty"`
	DetectedDomain   string           `json:"detectedDomain"`
	DomainConfidence float32          `json:"domainConfidence"`
	Summary          string           `json:"summary"`
	Insights         []Insight        `json:"insights"`
	Recommendations  []Recommendation `json:"recommendations"`
	Patterns         []Pattern        `json:"patterns"`
	Opportunities    []Opportunity    `json:"opportunities"`
	AnalysisDepth    string           `json:"analysisDepth"`
	Confidence       float32          `json:"confidence"`
}

const (
	// GoodPatternThreshold is the score above which a pattern is "good".
	GoodPatternThreshold float32 = 0.7

	recommendationImpact = "Improve project quality and performance"
	missingPatternScore  = 0.5
)

// Recommendations maps each optimization suggestion in order. The first is
// high priority, the rest medium.
func Recommendations(a *Phi4Analysis) []Recommendation {
	out := []Recommendation{}
	if a.ArchitecturalAnalysis == nil {
		return out
	}
	for i, s := range a.ArchitecturalAnalysis.OptimizationSuggestions {
		priority := "medium"
		if i == 0 {
			priority = "high"
		}
		out = append(out, Recommendation{
			Priority:    priority,
			Category:    "Optimization",
			Title:       title(s),
			Description: s,
			Impact:      recommendationImpact,
		})
	}
	return out
}

// Patterns maps each detected pattern with its score in order.
func Patterns(a *Phi4Analysis) []Pattern {
	pd := a.PatternDetection
	out := make([]Pattern, 0, len(pd.DetectedPatterns))
	for i, name := range pd.DetectedPatterns {
		score := float32(missingPatternScore)
		if i < len(pd.ConfidenceScores) {
			score = pd.ConfidenceScores[i]
		}
		quality := "needs attention"
		if score > GoodPatternThreshold {
			quality = "good"
		}
		out = append(out, Pattern{
			Type:    "detected",
			Name:    name,
			Value:   fmt.Sprintf("Confidence: %.0f%%", float64(score)*100),
			Quality: quality,
		})
	}
	return out
}

// Opportunities maps each structure insight in order.
func Opportunities(a *Phi4Analysis) []Opportunity {
	out := []Opportunity{}
	if a.ArchitecturalAnalysis == nil {
		return out
	}
	for _, s := range a.ArchitecturalAnalysis.StructureInsights {
		out = append(out, Opportunity{
			Area:        "Architecture",
			Opportunity: s,
			Potential:   "high",
			Effort:      "medium",
		})
	}
	return out
}

// Insights maps each reasoning step in order.
func Insights(a *Phi4Analysis) []Insight {
	out := make([]Insight, 0, len(a.ReasoningSteps))
	for _, s := range a.ReasoningSteps {
		out = append(out, Insight{
			Category:    "Analysis",
			Title:       title(s),
			Description: s,
			Severity:    "info",
		})
	}
	return out
}

func BuildReport(a *Phi4Analysis) *Report {
	return &Report{
		DetectedDomain:   "code",
		DomainConfidence: a.Confidence,
		Summary:          a.MathematicalInsights,
		Insights:         Insights(a),
		Recommendations:  Recommendations(a),
		Patterns:         Patterns(a),
		Opportunities:    Opportunities(a),
		AnalysisDepth:    "deep",
		Confidence:       a.Confidence,
	}
}

// title is the text before the first '.'.
func title(s string) string {
	before, _, _ := strings.Cut(s, ".")
	return before
}
