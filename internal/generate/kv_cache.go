package generate

import "fmt"

// LayerCache holds one layer's attention keys and values, each shaped
// [batch=1, heads, seq, head_dim].
type LayerCache struct {
	Key   Tensor
	Value Tensor
}

// KVCache is indexed by layer. A nil cache means no step has run yet. The
// generation loop replaces it wholesale with each executor output; nothing
// mutates a cache after it has been handed over.
type KVCache []LayerCache

// EmptyKVCache builds the zero-length cache passed on the first step.
func EmptyKVCache(numLayers, numHeads, headDim int) KVCache {
	c := make(KVCache, numLayers)
	for i := range c {
		c[i] = LayerCache{
			Key:   Tensor{Shape: []int{1, numHeads, 0, headDim}, Data: []float32{}},
			Value: Tensor{Shape: []int{1, numHeads, 0, headDim}, Data: []float32{}},
		}
	}
	return c
}

// SeqLen is the number of positions held, read from layer 0.
func (c KVCache) SeqLen() int {
	if len(c) == 0 || len(c[0].Key.Shape) != 4 {
		return 0
	}
	return c[0].Key.Shape[2]
}

// Validate checks every layer against the model shape and that all layers
// agree on the sequence length.
func (c KVCache) Validate(numLayers, numHeads, headDim int) error {
	if len(c) != numLayers {
		return &TensorBuildError{
			Tensor: "past_key_values",
			Reason: fmt.Sprintf("expected %d layers, got %d", numLayers, len(c)),
		}
	}
	seq := c.SeqLen()
	for i, layer := range c {
		if err := checkCacheTensor(PastKeyName(i), layer.Key, numHeads, seq, headDim); err != nil {
			return err
		}
		if err := checkCacheTensor(PastValueName(i), layer.Value, numHeads, seq, headDim); err != nil {
			return err
		}
	}
	return nil
}

func checkCacheTensor(name string, t Tensor, numHeads, seq, headDim int) error {
	if len(t.Shape) != 4 {
		return &TensorBuildError{Tensor: name, Reason: fmt.Sprintf("expected 4 axes, got shape %v", t.Shape)}
	}
	want := []int{1, numHeads, seq, headDim}
	for i := range want {
		if t.Shape[i] != want[i] {
			return &TensorBuildError{Tensor: name, Reason: fmt.Sprintf("expected shape %v, got %v", want, t.Shape)}
		}
	}
	if n := t.NumElements(); n != len(t.Data) {
		return &TensorBuildError{Tensor: name, Reason: fmt.Sprintf("shape %v needs %d elements, got %d", t.Shape, n, len(t.Data))}
	}
	return nil
}
