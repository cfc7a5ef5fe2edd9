package generate

import (
	"slices"
	"strings"

	"github.com/guru-systems/phi4-mini/internal/logger"
)

const (
	// RepetitionWindow committed tokens are compared as two equal halves.
	RepetitionWindow = 20
	// JSONTailTokens recent tokens are decoded to spot a finished JSON answer.
	JSONTailTokens = 5
)

type StopReason int

const (
	StopNone StopReason = iota
	StopEOS
	StopPadding
	StopRepetition
	StopJSONComplete
	StopMaxTokens
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopEOS:
		return "eos"
	case StopPadding:
		return "padding"
	case StopRepetition:
		return "repetition"
	case StopJSONComplete:
		return "json_complete"
	case StopMaxTokens:
		return "max_tokens"
	default:
		return "unknown"
	}
}

// Stopper decides, before a candidate token is committed, whether the loop
// should end. It never modifies the history it is given.
type Stopper struct {
	EOSTokenID int64
	PadTokenID int64
	tok        Tokenizer
}

func NewStopper(cfg Config, tok Tokenizer) *Stopper {
	return &Stopper{EOSTokenID: cfg.EOSTokenID, PadTokenID: cfg.PadTokenID, tok: tok}
}

// ShouldStop reports whether any stop condition holds.
func (s *Stopper) ShouldStop(next int64, generated []int64) bool {
	return s.Check(next, generated) != StopNone
}

// Check evaluates the stop conditions in order and returns the first that
// holds.
func (s *Stopper) Check(next int64, generated []int64) StopReason {
	if next == s.EOSTokenID {
		return StopEOS
	}
	if next == s.PadTokenID {
		return StopPadding
	}
	if repeatsLastWindow(generated) {
		return StopRepetition
	}
	if s.jsonLooksComplete(generated) {
		return StopJSONComplete
	}
	return StopNone
}

// repeatsLastWindow is true when the last RepetitionWindow committed tokens
// consist of the same half repeated twice.
func repeatsLastWindow(generated []int64) bool {
	if len(generated) < RepetitionWindow {
		return false
	}
	recent := generated[len(generated)-RepetitionWindow:]
	half := RepetitionWindow / 2
	return slices.Equal(recent[:half], recent[half:])
}

func (s *Stopper) jsonLooksComplete(generated []int64) bool {
	if s.tok == nil || len(generated) <= JSONTailTokens {
		return false
	}
	tail := slices.Clone(generated[len(generated)-JSONTailTokens:])
	text, err := s.tok.Decode(tail, false)
	if err != nil {
		logger.Log.Debug("Tail decode failed during stop check", "error", err)
		return false
	}
	return strings.Contains(text, "}") && strings.Contains(text, "\n")
}
