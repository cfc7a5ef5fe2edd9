package generate

import "fmt"

// Config is supplied per generate call and never mutated by the loop.
type Config struct {
	MaxNewTokens      int
	Temperature       float64 // must be > 0; values near zero are the caller's problem
	TopK              int     // 0 = disabled
	TopP              float64 // 1.0 = disabled
	RepetitionPenalty float64 // 1.0 = disabled
	DoSample          bool

	// Model shape, needed to build cache tensors.
	NumLayers int
	NumHeads  int
	HeadDim   int

	EOSTokenID int64
	PadTokenID int64

	// Seed for the default random source; 0 seeds from the clock.
	Seed int64
}

func DefaultConfig() Config {
	return Config{
		MaxNewTokens:      500,
		Temperature:       0.7,
		TopK:              50,
		TopP:              0.9,
		RepetitionPenalty: 1.1,
		DoSample:          true,
		NumLayers:         32,
		NumHeads:          32,
		HeadDim:           96,
		EOSTokenID:        2,
		PadTokenID:        0,
	}
}

func (c Config) Validate() error {
	if c.MaxNewTokens < 0 {
		return fmt.Errorf("invalid max_new_tokens: %d (must be non-negative)", c.MaxNewTokens)
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("invalid temperature: %f (must be positive)", c.Temperature)
	}
	if c.TopK < 0 {
		return fmt.Errorf("invalid top_k: %d (must be non-negative)", c.TopK)
	}
	if c.TopP <= 0 || c.TopP > 1 {
		return fmt.Errorf("invalid top_p: %f (must be in (0, 1])", c.TopP)
	}
	if c.RepetitionPenalty <= 0 {
		return fmt.Errorf("invalid repetition_penalty: %f (must be positive)", c.RepetitionPenalty)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("invalid num_layers: %d (must be positive)", c.NumLayers)
	}
	if c.NumHeads <= 0 {
		return fmt.Errorf("invalid num_heads: %d (must be positive)", c.NumHeads)
	}
	if c.HeadDim <= 0 {
		return fmt.Errorf("invalid head_dim: %d (must be positive)", c.HeadDim)
	}
	return nil
}
