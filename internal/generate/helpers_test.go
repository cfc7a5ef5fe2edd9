package generate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Token ids of the test vocabulary.
const (
	tokPad   = 0
	tokBOS   = 1
	tokEOS   = 2
	tokA     = 3
	tokB     = 4
	tokC     = 5
	tokOpen  = 6
	tokClose = 7
	tokNL    = 8
	tokSpace = 9
	tokH     = 10
	tokI     = 11
)

var testVocab = []string{"<pad>", "<s>", "</s>", "a", "b", "c", "{", "}", "\n", " ", "h", "i"}

// charTokenizer maps each rune to one vocabulary entry.
type charTokenizer struct {
	decodeErr error
	decodes   int
	mu        sync.Mutex
}

func (t *charTokenizer) Encode(text string, addSpecial bool) ([]int64, error) {
	var ids []int64
	if addSpecial {
		ids = append(ids, tokBOS)
	}
	for _, r := range text {
		found := false
		for id, piece := range testVocab {
			if id > tokEOS && piece == string(r) {
				ids = append(ids, int64(id))
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no token for %q", r)
		}
	}
	return ids, nil
}

func (t *charTokenizer) Decode(ids []int64, skipSpecial bool) (string, error) {
	t.mu.Lock()
	t.decodes++
	t.mu.Unlock()
	if t.decodeErr != nil {
		return "", t.decodeErr
	}
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= int64(len(testVocab)) {
			return "", fmt.Errorf("id %d out of range", id)
		}
		if skipSpecial && id <= tokEOS {
			continue
		}
		sb.WriteString(testVocab[id])
	}
	return sb.String(), nil
}

func testConfig() Config {
	return Config{
		MaxNewTokens:      8,
		Temperature:       1.0,
		TopK:              0,
		TopP:              1.0,
		RepetitionPenalty: 1.0,
		DoSample:          false,
		NumLayers:         2,
		NumHeads:          1,
		HeadDim:           2,
		EOSTokenID:        tokEOS,
		PadTokenID:        tokPad,
	}
}

// scriptedExecutor favours script(step) on the last logits row and grows
// the cache by the number of fed tokens, like a real incremental decoder.
type scriptedExecutor struct {
	cfg    Config
	vocab  int
	script func(step int) int64
	failAt int // -1 disables
	err    error

	mu       sync.Mutex
	steps    int
	pastLens []int
	fed      []int
}

func newScriptedExecutor(cfg Config, script func(step int) int64) *scriptedExecutor {
	return &scriptedExecutor{cfg: cfg, vocab: len(testVocab), script: script, failAt: -1}
}

func (e *scriptedExecutor) Run(ctx context.Context, batch *Batch) (*Output, error) {
	e.mu.Lock()
	step := e.steps
	e.steps++
	e.pastLens = append(e.pastLens, batch.PastKeyValues.SeqLen())
	e.fed = append(e.fed, batch.NewTokens())
	e.mu.Unlock()

	if step == e.failAt {
		return nil, e.err
	}

	n := batch.NewTokens()
	logits := make([]float32, n*e.vocab)
	favoured := e.script(step)
	row := logits[(n-1)*e.vocab:]
	for i := range row {
		row[i] = -1
	}
	row[favoured] = 5

	return &Output{
		Logits:  Tensor{Shape: []int{1, n, e.vocab}, Data: logits},
		Present: growCache(batch.PastKeyValues, n, e.cfg),
	}, nil
}

func growCache(past KVCache, n int, cfg Config) KVCache {
	seq := past.SeqLen() + n
	out := make(KVCache, cfg.NumLayers)
	size := cfg.NumHeads * seq * cfg.HeadDim
	for i := range out {
		out[i] = LayerCache{
			Key:   Tensor{Shape: []int{1, cfg.NumHeads, seq, cfg.HeadDim}, Data: make([]float32, size)},
			Value: Tensor{Shape: []int{1, cfg.NumHeads, seq, cfg.HeadDim}, Data: make([]float32, size)},
		}
	}
	return out
}

// fixedRand always returns the same draw.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }
