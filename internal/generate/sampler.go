package generate

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// RandomSource yields uniform values in [0, 1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// Sampler turns a logits row into a token id:
//
//	repetition penalty -> temperature -> top-k -> top-p -> softmax -> select
//
// With DoSample false the result depends only on (logits, history, config).
// A Sampler is not safe for concurrent use; the generation loop creates one
// per call.
type Sampler struct {
	Config Config
	rng    RandomSource
}

// NewSampler uses rng for draws. A nil rng is replaced by a math/rand source
// seeded from Config.Seed, or from the clock when the seed is 0.
func NewSampler(cfg Config, rng RandomSource) *Sampler {
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	return &Sampler{Config: cfg, rng: rng}
}

// Sample returns the next token id. logits is not modified.
func (s *Sampler) Sample(logits []float32, history []int64) int64 {
	if len(logits) == 0 {
		return 0
	}
	work := make([]float32, len(logits))
	copy(work, logits)

	ApplyRepetitionPenalty(work, history, s.Config.RepetitionPenalty)
	ApplyTemperature(work, s.Config.Temperature)
	ApplyTopK(work, s.Config.TopK)
	ApplyTopP(work, s.Config.TopP)

	if !s.Config.DoSample {
		return int64(ArgMax(work))
	}
	return int64(s.draw(Softmax(work)))
}

// draw walks the distribution in descending probability order and returns
// the first token whose cumulative mass exceeds a uniform draw. Filtered
// tokens (zero mass) are never returned; if rounding leaves the draw
// unreached, the last positive-mass token in that order wins.
func (s *Sampler) draw(probs []float64) int {
	order := sortedDesc(probs)
	r := s.rng.Float64()

	last := order[0]
	cumulative := 0.0
	for _, idx := range order {
		p := probs[idx]
		if p <= 0 {
			break
		}
		last = idx
		cumulative += p
		if cumulative > r {
			return idx
		}
	}
	return last
}

// ApplyRepetitionPenalty divides the logit of a token once for every time it
// occurs in history, so a token seen n times is divided by penalty^n.
// Out-of-vocabulary ids are skipped. The raw value is divided whatever its
// sign, so a negative logit moves toward zero. That matches the deployed
// model behaviour and is kept as is.
func ApplyRepetitionPenalty(logits []float32, history []int64, penalty float64) {
	if penalty == 1.0 || len(history) == 0 {
		return
	}
	for _, id := range history {
		if id < 0 || id >= int64(len(logits)) {
			continue
		}
		logits[id] = float32(float64(logits[id]) / penalty)
	}
}

// ApplyTemperature divides every logit by temperature, which must be > 0.
func ApplyTemperature(logits []float32, temperature float64) {
	if temperature == 1.0 {
		return
	}
	for i, v := range logits {
		logits[i] = float32(float64(v) / temperature)
	}
}

// ApplyTopK keeps the k highest logits and sets the rest to -Inf. Ties are
// broken by lower index. k <= 0 or k >= len(logits) disables the filter.
func ApplyTopK(logits []float32, k int) {
	if k <= 0 || k >= len(logits) {
		return
	}
	order := make([]int, len(logits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return logits[order[a]] > logits[order[b]]
	})
	for _, idx := range order[k:] {
		logits[idx] = float32(math.Inf(-1))
	}
}

// ApplyTopP keeps the smallest prefix of tokens, by descending probability,
// whose cumulative mass reaches p (the crossing token included) and sets the
// rest to -Inf. p >= 1 disables the filter.
func ApplyTopP(logits []float32, p float64) {
	if p >= 1.0 || len(logits) == 0 {
		return
	}
	probs := Softmax(logits)
	order := sortedDesc(probs)

	cutoff := len(order) - 1
	cumulative := 0.0
	for i, idx := range order {
		cumulative += probs[idx]
		if cumulative >= p {
			cutoff = i
			break
		}
	}
	for _, idx := range order[cutoff+1:] {
		logits[idx] = float32(math.Inf(-1))
	}
}

// Softmax converts logits to probabilities, subtracting the maximum first.
// -Inf entries get probability 0. If every entry is -Inf the result is
// uniform.
func Softmax(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	if len(logits) == 0 {
		return probs
	}
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}
	if math.IsInf(maxLogit, -1) {
		for i := range probs {
			probs[i] = 1 / float64(len(probs))
		}
		return probs
	}

	sum := 0.0
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// ArgMax returns the index of the largest value, the first one on ties.
// NaN values are never selected unless every value is NaN.
func ArgMax(values []float32) int {
	maxIdx := -1
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			continue
		}
		if maxIdx < 0 || v > values[maxIdx] {
			maxIdx = i
		}
	}
	if maxIdx < 0 {
		return 0
	}
	return maxIdx
}

func sortedDesc(probs []float64) []int {
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})
	return order
}
