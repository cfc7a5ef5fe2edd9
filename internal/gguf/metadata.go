package gguf

import (
	"fmt"
	"sort"
	"strings"
)

// ModelShape is the attention geometry recorded under the architecture
// prefix. HeadDim is derived from the embedding length when not stored.
type ModelShape struct {
	Architecture string
	Layers       int
	Heads        int
	KVHeads      int
	HeadDim      int
	ContextLen   int
}

func (f *File) String(key string) (string, bool) {
	s, ok := f.KV[key].(string)
	return s, ok
}

func (f *File) Bool(key string) (bool, bool) {
	b, ok := f.KV[key].(bool)
	return b, ok
}

// Uint returns an integer value of any width. Negative values are rejected.
func (f *File) Uint(key string) (uint64, bool) {
	switch v := f.KV[key].(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int8:
		return uint64(v), v >= 0
	case int16:
		return uint64(v), v >= 0
	case int32:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	}
	return 0, false
}

func (f *File) Strings(key string) ([]string, error) {
	v, ok := f.KV[key]
	if !ok {
		return nil, fmt.Errorf("%s not found in GGUF", key)
	}
	s, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("invalid type for %s: %T", key, v)
	}
	return s, nil
}

// Int32s returns an int32 array. A missing key yields nil, nil.
func (f *File) Int32s(key string) ([]int32, error) {
	v, ok := f.KV[key]
	if !ok {
		return nil, nil
	}
	s, ok := v.([]int32)
	if !ok {
		return nil, fmt.Errorf("invalid type for %s: %T", key, v)
	}
	return s, nil
}

func (f *File) getKVInt(keys ...string) int {
	for _, key := range keys {
		if v, ok := f.Uint(key); ok {
			return int(v)
		}
	}
	return 0
}

// Shape reads the model geometry. ok is false when the architecture or the
// layer and head counts are missing.
func (f *File) Shape() (shape ModelShape, ok bool) {
	arch, ok := f.String(KeyArchitecture)
	if !ok || arch == "" {
		return ModelShape{}, false
	}
	shape = ModelShape{
		Architecture: arch,
		Layers:       f.getKVInt(arch + ".block_count"),
		Heads:        f.getKVInt(arch + ".attention.head_count"),
		KVHeads:      f.getKVInt(arch+".attention.head_count_kv", arch+".attention.head_count"),
		HeadDim:      f.getKVInt(arch+".attention.key_length", arch+".rope.dimension_count"),
		ContextLen:   f.getKVInt(arch + ".context_length"),
	}
	if shape.HeadDim == 0 && shape.Heads > 0 {
		shape.HeadDim = f.getKVInt(arch+".embedding_length") / shape.Heads
	}
	if shape.Layers == 0 || shape.Heads == 0 {
		return shape, false
	}
	return shape, true
}

// Describe lists scalar metadata as sorted "key = value" lines; arrays are
// summarised by length.
func (f *File) Describe() string {
	keys := append([]string(nil), f.Keys...)
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "GGUF v%d: %d tensors, %d metadata keys\n", f.Header.Version, f.Header.TensorCount, f.Header.KVCount)
	for _, k := range keys {
		switch v := f.KV[k].(type) {
		case []string:
			fmt.Fprintf(&sb, "%s = [%d strings]\n", k, len(v))
		case []int32:
			fmt.Fprintf(&sb, "%s = [%d int32]\n", k, len(v))
		case []float32:
			fmt.Fprintf(&sb, "%s = [%d float32]\n", k, len(v))
		case []interface{}:
			fmt.Fprintf(&sb, "%s = [%d values]\n", k, len(v))
		default:
			fmt.Fprintf(&sb, "%s = %v\n", k, v)
		}
	}
	return sb.String()
}
