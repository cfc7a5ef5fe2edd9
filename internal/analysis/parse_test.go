package analysis

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/guru-systems/phi4-mini/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParse_ExtractsObjectFromProse(t *testing.T) {
	raw := `noise {"confidence":0.9,"mathematical_insights":"x","reasoning_steps":[],"pattern_detection":{"detected_patterns":[],"confidence_scores":[]},"architectural_analysis":null} trailing`

	before := testutil.ToFloat64(metrics.AnalysisParses.WithLabelValues(PathJSON))
	got := Parse(raw)

	want := &Phi4Analysis{
		Confidence:           0.9,
		MathematicalInsights: "x",
		ReasoningSteps:       []string{},
		PatternDetection: PatternDetection{
			DetectedPatterns: []string{},
			ConfidenceScores: []float32{},
		},
		RawResponse: raw,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
	if after := testutil.ToFloat64(metrics.AnalysisParses.WithLabelValues(PathJSON)); after != before+1 {
		t.Errorf("expected json parse counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestParse_FullRecord(t *testing.T) {
	raw := "<|assistant|>\n" + `{
  "confidence": 0.82,
  "mathematical_insights": "Layered design with a clear core.",
  "reasoning_steps": ["Identify modules. Then map them.", "Check coupling"],
  "pattern_detection": {
    "detected_patterns": ["pipeline", "observer"],
    "confidence_scores": [0.91, 0.4]
  },
  "architectural_analysis": {
    "structure_insights": ["Core is isolated"],
    "optimization_suggestions": ["Cache tokenizer output. It is hot.", "Batch writes"]
  }
}` + "\n"

	got := Parse(raw)
	want := &Phi4Analysis{
		Confidence:           0.82,
		MathematicalInsights: "Layered design with a clear core.",
		ReasoningSteps:       []string{"Identify modules. Then map them.", "Check coupling"},
		PatternDetection: PatternDetection{
			DetectedPatterns: []string{"pipeline", "observer"},
			ConfidenceScores: []float32{0.91, 0.4},
		},
		ArchitecturalAnalysis: &ArchitecturalAnalysis{
			StructureInsights:       []string{"Core is isolated"},
			OptimizationSuggestions: []string{"Cache tokenizer output. It is hot.", "Batch writes"},
		},
		RawResponse: raw,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FallbackOnPlainText(t *testing.T) {
	raw := "line one\nline two"

	before := testutil.ToFloat64(metrics.AnalysisParses.WithLabelValues(PathFallback))
	got := Parse(raw)

	want := &Phi4Analysis{
		Confidence:           0.75,
		MathematicalInsights: raw,
		ReasoningSteps:       []string{"line one", "line two"},
		PatternDetection: PatternDetection{
			DetectedPatterns: []string{"text_analysis"},
			ConfidenceScores: []float32{0.75},
		},
		ArchitecturalAnalysis: &ArchitecturalAnalysis{
			StructureInsights:       []string{"Raw text analysis"},
			OptimizationSuggestions: []string{"Parse structured output"},
		},
		RawResponse: raw,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fallback mismatch (-want +got):\n%s", diff)
	}
	if after := testutil.ToFloat64(metrics.AnalysisParses.WithLabelValues(PathFallback)); after != before+1 {
		t.Errorf("expected fallback counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestParse_FallbackOnInvalidRecords(t *testing.T) {
	valid := func(replace, with string) string {
		base := `{"confidence":0.9,"mathematical_insights":"x","reasoning_steps":["a"],"pattern_detection":{"detected_patterns":["p"],"confidence_scores":[0.5]},"architectural_analysis":{"structure_insights":[],"optimization_suggestions":[]}}`
		return strings.Replace(base, replace, with, 1)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"only open brace", "result: {"},
		{"braces reversed", "} then {"},
		{"malformed json", `{"confidence": 0.9,,}`},
		{"two objects", `{"a":1} and {"b":2}`},
		{"missing confidence", valid(`"confidence":0.9,`, "")},
		{"missing insights", valid(`"mathematical_insights":"x",`, "")},
		{"missing steps", valid(`"reasoning_steps":["a"],`, "")},
		{"null steps", valid(`["a"]`, "null")},
		{"missing scores", valid(`,"confidence_scores":[0.5]`, "")},
		{"length mismatch", valid(`[0.5]`, "[0.5,0.6]")},
		{"confidence above one", valid(`"confidence":0.9`, `"confidence":1.5`)},
		{"negative score", valid(`[0.5]`, "[-0.1]")},
		{"wrong type", valid(`"confidence":0.9`, `"confidence":"high"`)},
		{"architecture missing list", valid(`,"optimization_suggestions":[]`, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseStrict(tt.raw); err == nil {
				t.Fatalf("ParseStrict accepted %q", tt.raw)
			}
			got := Parse(tt.raw)
			if got.Confidence != FallbackConfidence {
				t.Errorf("expected fallback confidence, got %v", got.Confidence)
			}
			if got.MathematicalInsights != tt.raw || got.RawResponse != tt.raw {
				t.Errorf("raw text not preserved: %q / %q", got.MathematicalInsights, got.RawResponse)
			}
			if diff := cmp.Diff([]string{FallbackPattern}, got.PatternDetection.DetectedPatterns); diff != "" {
				t.Errorf("patterns (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_ValidVariantsTakeJSONPath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"architecture omitted", `{"confidence":0,"mathematical_insights":"","reasoning_steps":[],"pattern_detection":{"detected_patterns":[],"confidence_scores":[]}}`},
		{"boundary scores", `{"confidence":1,"mathematical_insights":"","reasoning_steps":[],"pattern_detection":{"detected_patterns":["a","b"],"confidence_scores":[0,1]},"architectural_analysis":null}`},
		{"unknown fields ignored", `{"extra":true,"confidence":0.5,"mathematical_insights":"m","reasoning_steps":["s"],"pattern_detection":{"detected_patterns":[],"confidence_scores":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseStrict(tt.raw); err != nil {
				t.Fatalf("ParseStrict failed: %v", err)
			}
		})
	}
}

func TestParse_PatternPairsAlwaysAligned(t *testing.T) {
	inputs := []string{
		"",
		"plain words",
		`{"confidence":0.4,"mathematical_insights":"m","reasoning_steps":[],"pattern_detection":{"detected_patterns":["a","b","c"],"confidence_scores":[0.1,0.2,0.3]}}`,
		`{"confidence":0.4,"mathematical_insights":"m","reasoning_steps":[],"pattern_detection":{"detected_patterns":["a","b"],"confidence_scores":[0.1]}}`,
	}
	for _, raw := range inputs {
		a := Parse(raw)
		if len(a.PatternDetection.DetectedPatterns) != len(a.PatternDetection.ConfidenceScores) {
			t.Errorf("%q: %d patterns, %d scores", raw, len(a.PatternDetection.DetectedPatterns), len(a.PatternDetection.ConfidenceScores))
		}
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"one", []string{"one"}},
		{"one\n", []string{"one"}},
		{"one\n\n", []string{"one", ""}},
		{"\n", []string{""}},
		{"a\n\nb", []string{"a", "", "b"}},
		{"a\r\nb\r\n", []string{"a", "b"}},
		{"a\rb", []string{"a\rb"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, splitLines(tt.in)); diff != "" {
			t.Errorf("splitLines(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}
