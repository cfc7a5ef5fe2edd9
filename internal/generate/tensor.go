package generate

import "fmt"

// Tensor names shared with executors. Layer tensors are suffixed per layer.
const (
	InputIDsName      = "input_ids"
	AttentionMaskName = "attention_mask"
	LogitsName        = "logits"
)

func PastKeyName(layer int) string { return fmt.Sprintf("past_key_values.%d.key", layer) }
func PastValueName(layer int) string { return fmt.Sprintf("past_key_values.%d.value", layer) }
func PresentKeyName(layer int) string { return fmt.Sprintf("present.%d.key", layer) }
func PresentValueName(layer int) string { return fmt.Sprintf("present.%d.value", layer) }

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

// IDTensor is a dense row-major int64 tensor (token ids, masks).
type IDTensor struct {
	Shape []int
	Data  []int64
}

func numElements(shape []int) (int, error) {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d at axis %d", d, i)
		}
		n *= d
	}
	return n, nil
}

// NewTensor checks that data fills shape exactly.
func NewTensor(name string, shape []int, data []float32) (Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return Tensor{}, &TensorBuildError{Tensor: name, Reason: err.Error()}
	}
	if n != len(data) {
		return Tensor{}, &TensorBuildError{
			Tensor: name,
			Reason: fmt.Sprintf("shape %v needs %d elements, got %d", shape, n, len(data)),
		}
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// NewIDTensor checks that data fills shape exactly.
func NewIDTensor(name string, shape []int, data []int64) (IDTensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return IDTensor{}, &TensorBuildError{Tensor: name, Reason: err.Error()}
	}
	if n != len(data) {
		return IDTensor{}, &TensorBuildError{
			Tensor: name,
			Reason: fmt.Sprintf("shape %v needs %d elements, got %d", shape, n, len(data)),
		}
	}
	return IDTensor{Shape: shape, Data: data}, nil
}

func (t Tensor) NumElements() int {
	n, _ := numElements(t.Shape)
	return n
}

// Dim returns the size of axis i, or -1 when the tensor has fewer axes.
func (t Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return -1
	}
	return t.Shape[i]
}
