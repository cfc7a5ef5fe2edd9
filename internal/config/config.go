package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/guru-systems/phi4-mini/internal/generate"
	"gopkg.in/yaml.v3"
)

// Config configures one engine instance.
type Config struct {
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`

	// MaxLength is the model context window. ReservedGenerationTokens of it
	// are kept free for output; longer prompts are truncated.
	MaxLength                int     `yaml:"max_length"`
	ReservedGenerationTokens int     `yaml:"reserved_generation_tokens"`
	Temperature              float64 `yaml:"temperature"`
	NumThreads               int     `yaml:"num_threads"`
	UseGPU                   bool    `yaml:"use_gpu"`

	Generation GenerationConfig `yaml:"generation"`

	ExecutorAddr string `yaml:"executor_addr"`
	SinkAddr     string `yaml:"sink_addr"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type GenerationConfig struct {
	MaxNewTokens      int     `yaml:"max_new_tokens"`
	TopK              int     `yaml:"top_k"`
	TopP              float64 `yaml:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	DoSample          bool    `yaml:"do_sample"`
	NumLayers         int     `yaml:"num_layers"`
	NumHeads          int     `yaml:"num_heads"`
	HeadDim           int     `yaml:"head_dim"`
	EOSTokenID        int64   `yaml:"eos_token_id"`
	PadTokenID        int64   `yaml:"pad_token_id"`
	Seed              int64   `yaml:"seed"`
}

func Default() *Config {
	g := generate.DefaultConfig()
	return &Config{
		ModelPath:                "models/phi4-mini/model.onnx",
		TokenizerPath:            "models/phi4-mini/tokenizer.gguf",
		MaxLength:                2048,
		ReservedGenerationTokens: 500,
		Temperature:              g.Temperature,
		NumThreads:               4,
		Generation: GenerationConfig{
			MaxNewTokens:      g.MaxNewTokens,
			TopK:              g.TopK,
			TopP:              g.TopP,
			RepetitionPenalty: g.RepetitionPenalty,
			DoSample:          g.DoSample,
			NumLayers:         g.NumLayers,
			NumHeads:          g.NumHeads,
			HeadDim:           g.HeadDim,
			EOSTokenID:        g.EOSTokenID,
			PadTokenID:        g.PadTokenID,
		},
		ExecutorAddr: "localhost:3000",
		LogLevel:     "INFO",
		LogFormat:    "console",
		MetricsAddr:  ":9090",
	}
}

// Load reads a YAML file over the defaults and applies PHI4_* environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from PHI4_* variables. Unset or empty variables
// leave the field alone.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"PHI4_MODEL_PATH":     &c.ModelPath,
		"PHI4_TOKENIZER_PATH": &c.TokenizerPath,
		"PHI4_EXECUTOR_ADDR":  &c.ExecutorAddr,
		"PHI4_SINK_ADDR":      &c.SinkAddr,
		"PHI4_LOG_LEVEL":      &c.LogLevel,
		"PHI4_LOG_FORMAT":     &c.LogFormat,
		"PHI4_METRICS_ADDR":   &c.MetricsAddr,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PHI4_MAX_LENGTH":     &c.MaxLength,
		"PHI4_NUM_THREADS":    &c.NumThreads,
		"PHI4_MAX_NEW_TOKENS": &c.Generation.MaxNewTokens,
		"PHI4_TOP_K":          &c.Generation.TopK,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q: %w", key, v, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"PHI4_TEMPERATURE": &c.Temperature,
		"PHI4_TOP_P":       &c.Generation.TopP,
	}
	for key, dst := range floats {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %q: %w", key, v, err)
		}
		*dst = f
	}

	if v := os.Getenv("PHI4_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PHI4_SEED: %q: %w", v, err)
		}
		c.Generation.Seed = n
	}
	for key, dst := range map[string]*bool{"PHI4_USE_GPU": &c.UseGPU, "PHI4_DO_SAMPLE": &c.Generation.DoSample} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q: %w", key, v, err)
		}
		*dst = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.MaxLength <= 0 {
		return fmt.Errorf("invalid max_length: %d (must be positive)", c.MaxLength)
	}
	if c.ReservedGenerationTokens < 0 {
		return fmt.Errorf("invalid reserved_generation_tokens: %d (must be non-negative)", c.ReservedGenerationTokens)
	}
	if c.ReservedGenerationTokens >= c.MaxLength {
		return fmt.Errorf("invalid reserved_generation_tokens: %d (must be < max_length: %d)", c.ReservedGenerationTokens, c.MaxLength)
	}
	if c.NumThreads <= 0 {
		return fmt.Errorf("invalid num_threads: %d (must be positive)", c.NumThreads)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	return c.GenerateConfig().Validate()
}

// GenerateConfig translates the engine settings into a per-call generation
// config.
func (c *Config) GenerateConfig() generate.Config {
	g := c.Generation
	return generate.Config{
		MaxNewTokens:      g.MaxNewTokens,
		Temperature:       c.Temperature,
		TopK:              g.TopK,
		TopP:              g.TopP,
		RepetitionPenalty: g.RepetitionPenalty,
		DoSample:          g.DoSample,
		NumLayers:         g.NumLayers,
		NumHeads:          g.NumHeads,
		HeadDim:           g.HeadDim,
		EOSTokenID:        g.EOSTokenID,
		PadTokenID:        g.PadTokenID,
		Seed:              g.Seed,
	}
}

// MaxInputTokens is the longest prompt, in tokens, that still leaves the
// reserved room for generation.
func (c *Config) MaxInputTokens() int {
	n := c.MaxLength - c.ReservedGenerationTokens
	if n < 1 {
		return 1
	}
	return n
}
