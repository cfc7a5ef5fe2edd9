package analysis

import (
	"fmt"
	"strings"
)

// ReasoningType classifies a reasoning step.
type ReasoningType int

const (
	Mathematical ReasoningType = iota
	PatternBased
	Structural
	Causal
	Analogical
)

var reasoningTypeNames = []string{"Mathematical", "PatternBased", "Structural", "Causal", "Analogical"}

func (t ReasoningType) String() string {
	if t < 0 || int(t) >= len(reasoningTypeNames) {
		return fmt.Sprintf("ReasoningType(%d)", int(t))
	}
	return reasoningTypeNames[t]
}

func (t ReasoningType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(reasoningTypeNames) {
		return nil, fmt.Errorf("unknown reasoning type %d", int(t))
	}
	return []byte(reasoningTypeNames[t]), nil
}

func (t *ReasoningType) UnmarshalText(text []byte) error {
	for i, name := range reasoningTypeNames {
		if name == string(text) {
			*t = ReasoningType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown reasoning type %q", text)
}

// ReasoningStep is a reasoning step with metadata.
type ReasoningStep struct {
	Description   string        `json:"description"`
	Confidence    float32       `json:"confidence"`
	ReasoningType ReasoningType `json:"reasoning_type"`
	Evidence      []string      `json:"evidence"`
}

// keyword order matters: the first match decides.
var reasoningKeywords = []struct {
	typ   ReasoningType
	words []string
}{
	{PatternBased, []string{"pattern", "recurring", "repeated"}},
	{Causal, []string{"because", "therefore", "causes", "leads to", "due to"}},
	{Analogical, []string{"similar to", "analogous", "like a", "resembles"}},
	{Structural, []string{"structure", "architecture", "module", "layer", "component", "depend"}},
}

// ClassifyStep guesses the reasoning type of a free-text step from its
// wording. Steps with no recognised cue are Mathematical.
func ClassifyStep(step string) ReasoningType {
	lower := strings.ToLower(step)
	for _, k := range reasoningKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.typ
			}
		}
	}
	return Mathematical
}

// Steps returns the reasoning steps with metadata. Each step inherits the
// analysis confidence; patterns mentioned by name are cited as evidence.
func (a *Phi4Analysis) Steps() []ReasoningStep {
	steps := make([]ReasoningStep, 0, len(a.ReasoningSteps))
	for _, s := range a.ReasoningSteps {
		evidence := []string{}
		lower := strings.ToLower(s)
		for _, p := range a.PatternDetection.DetectedPatterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				evidence = append(evidence, p)
			}
		}
		steps = append(steps, ReasoningStep{
			Description:   s,
			Confidence:    a.Confidence,
			ReasoningType: ClassifyStep(s),
			Evidence:      evidence,
		})
	}
	return steps
}
