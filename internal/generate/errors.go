package generate

import (
	"errors"
	"fmt"
)

// ErrGenerationFailed matches every error returned by Generator.Generate.
var ErrGenerationFailed = errors.New("generation failed")

// TensorBuildError reports a malformed per-step batch. It indicates a
// programming or configuration error and is never retried.
type TensorBuildError struct {
	Tensor string
	Reason string
}

func (e *TensorBuildError) Error() string {
	return fmt.Sprintf("build tensor %s: %s", e.Tensor, e.Reason)
}

// ExecutorError wraps a failure of the model executor.
type ExecutorError struct {
	Step int
	Err  error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor step %d: %v", e.Step, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// TokenizerError wraps an encode or decode failure.
type TokenizerError struct {
	Op  string
	Err error
}

func (e *TokenizerError) Error() string {
	return fmt.Sprintf("tokenizer %s: %v", e.Op, e.Err)
}

func (e *TokenizerError) Unwrap() error { return e.Err }

// GenerationError is the single failure type of a generate call. Partial
// output is discarded.
type GenerationError struct {
	Step int
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at step %d: %v", e.Step, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}

// failureKind labels an error for metrics.
func failureKind(err error) string {
	var tb *TensorBuildError
	var ex *ExecutorError
	var tk *TokenizerError
	switch {
	case errors.As(err, &tb):
		return "tensor_build"
	case errors.As(err, &ex):
		return "executor"
	case errors.As(err, &tk):
		return "tokenizer"
	default:
		return "canceled"
	}
}
