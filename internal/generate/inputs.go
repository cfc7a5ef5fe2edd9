package generate

import "fmt"

// Batch is the executor input for one step.
type Batch struct {
	InputIDs      IDTensor // [1, new_tokens]
	AttentionMask IDTensor // [1, total_context]
	PastKeyValues KVCache  // one pair per layer, [1, heads, past, head_dim]
}

// NewTokens is the number of token positions fed in this step.
func (b *Batch) NewTokens() int {
	if len(b.InputIDs.Shape) != 2 {
		return 0
	}
	return b.InputIDs.Shape[1]
}

// BuildInputs assembles the next step's batch from the token history and
// the cache returned by the previous step. A nil cache marks the first step:
// the whole sequence is fed against an empty cache. Afterwards only the last
// token is fed and the carried cache must cover every earlier position.
func BuildInputs(currentIDs []int64, cache KVCache, cfg Config) (*Batch, error) {
	if len(currentIDs) == 0 {
		return nil, &TensorBuildError{Tensor: InputIDsName, Reason: "empty token sequence"}
	}
	if cfg.NumLayers <= 0 || cfg.NumHeads <= 0 || cfg.HeadDim <= 0 {
		return nil, &TensorBuildError{
			Tensor: "past_key_values",
			Reason: fmt.Sprintf("invalid model shape layers=%d heads=%d head_dim=%d", cfg.NumLayers, cfg.NumHeads, cfg.HeadDim),
		}
	}

	total := len(currentIDs)
	var ids []int64
	if cache == nil {
		ids = make([]int64, total)
		copy(ids, currentIDs)
		cache = EmptyKVCache(cfg.NumLayers, cfg.NumHeads, cfg.HeadDim)
	} else {
		if err := cache.Validate(cfg.NumLayers, cfg.NumHeads, cfg.HeadDim); err != nil {
			return nil, err
		}
		if past := cache.SeqLen(); past != total-1 {
			return nil, &TensorBuildError{
				Tensor: "past_key_values",
				Reason: fmt.Sprintf("cache holds %d positions, expected %d", past, total-1),
			}
		}
		ids = []int64{currentIDs[total-1]}
	}

	inputIDs, err := NewIDTensor(InputIDsName, []int{1, len(ids)}, ids)
	if err != nil {
		return nil, err
	}

	mask := make([]int64, total)
	for i := range mask {
		mask[i] = 1
	}
	attention, err := NewIDTensor(AttentionMaskName, []int{1, total}, mask)
	if err != nil {
		return nil, err
	}

	return &Batch{
		InputIDs:      inputIDs,
		AttentionMask: attention,
		PastKeyValues: cache,
	}, nil
}
