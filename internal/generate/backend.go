package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/guru-systems/phi4-mini/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// Tokenizer maps between text and token ids. Implementations must be
// deterministic.
type Tokenizer interface {
	Encode(text string, addSpecialTokens bool) ([]int64, error)
	Decode(ids []int64, skipSpecialTokens bool) (string, error)
}

// Executor runs one forward pass of the model.
type Executor interface {
	Run(ctx context.Context, batch *Batch) (*Output, error)
}

// Output is what an executor returns for one step. Present replaces the
// caller's cache.
type Output struct {
	Logits  Tensor // [1, step_tokens, vocab]
	Present KVCache
}

// LastLogits returns the logits row for the last input position, which
// predicts the next token. The row aliases the output buffer.
func (o *Output) LastLogits() ([]float32, error) {
	if o == nil {
		return nil, fmt.Errorf("nil executor output")
	}
	shape := o.Logits.Shape
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("%s: expected shape [1, seq, vocab], got %v", LogitsName, shape)
	}
	seq, vocab := shape[1], shape[2]
	if seq < 1 || vocab < 1 {
		return nil, fmt.Errorf("%s: empty shape %v", LogitsName, shape)
	}
	if len(o.Logits.Data) != seq*vocab {
		return nil, fmt.Errorf("%s: shape %v needs %d elements, got %d", LogitsName, shape, seq*vocab, len(o.Logits.Data))
	}
	offset := (seq - 1) * vocab
	return o.Logits.Data[offset : offset+vocab], nil
}

// SerializedExecutor grants one step at a time exclusive access to a shared,
// possibly non-reentrant executor. Waiting honours ctx.
type SerializedExecutor struct {
	exec Executor
	sem  *semaphore.Weighted
}

func Serialize(exec Executor) *SerializedExecutor {
	if s, ok := exec.(*SerializedExecutor); ok {
		return s
	}
	return &SerializedExecutor{exec: exec, sem: semaphore.NewWeighted(1)}
}

func (s *SerializedExecutor) Run(ctx context.Context, batch *Batch) (*Output, error) {
	start := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	metrics.RecordExecutorWait(time.Since(start))

	return s.exec.Run(ctx, batch)
}
