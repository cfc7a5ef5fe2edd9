package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, 2048, cfg.MaxLength)
	require.Equal(t, 500, cfg.ReservedGenerationTokens)
	require.Equal(t, 0.7, cfg.Temperature)
	require.Equal(t, 4, cfg.NumThreads)
	require.False(t, cfg.UseGPU)
	require.Equal(t, 1548, cfg.MaxInputTokens())
	require.NoError(t, cfg.Validate())

	g := cfg.GenerateConfig()
	require.Equal(t, 500, g.MaxNewTokens)
	require.Equal(t, 50, g.TopK)
	require.Equal(t, 0.9, g.TopP)
	require.Equal(t, 1.1, g.RepetitionPenalty)
	require.True(t, g.DoSample)
	require.Equal(t, int64(2), g.EOSTokenID)
	require.Equal(t, int64(0), g.PadTokenID)
	require.Equal(t, 32, g.NumLayers)
	require.Equal(t, 32, g.NumHeads)
	require.Equal(t, 96, g.HeadDim)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phi4.yaml")
	data := []byte(`
model_path: /models/phi.onnx
max_length: 4096
temperature: 0.2
executor_addr: infer:7000
generation:
  max_new_tokens: 64
  do_sample: false
  seed: 9
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/models/phi.onnx", cfg.ModelPath)
	require.Equal(t, 4096, cfg.MaxLength)
	require.Equal(t, 0.2, cfg.Temperature)
	require.Equal(t, "infer:7000", cfg.ExecutorAddr)
	require.Equal(t, 64, cfg.Generation.MaxNewTokens)
	require.False(t, cfg.Generation.DoSample)
	require.Equal(t, int64(9), cfg.Generation.Seed)

	// Untouched keys keep their defaults.
	require.Equal(t, 50, cfg.Generation.TopK)
	require.Equal(t, 500, cfg.ReservedGenerationTokens)
	require.Equal(t, 0.2, cfg.GenerateConfig().Temperature)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_length: [oops"), 0644))

	_, err := Load(path)
	require.ErrorContains(t, err, "failed to parse config")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PHI4_EXECUTOR_ADDR", "gpu-box:3000")
	t.Setenv("PHI4_MAX_NEW_TOKENS", "32")
	t.Setenv("PHI4_TEMPERATURE", "1.5")
	t.Setenv("PHI4_SEED", "-4")
	t.Setenv("PHI4_USE_GPU", "true")
	t.Setenv("PHI4_LOG_FORMAT", "json")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	require.Equal(t, "gpu-box:3000", cfg.ExecutorAddr)
	require.Equal(t, 32, cfg.Generation.MaxNewTokens)
	require.Equal(t, 1.5, cfg.Temperature)
	require.Equal(t, int64(-4), cfg.Generation.Seed)
	require.True(t, cfg.UseGPU)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PHI4_MAX_LENGTH", "lots"},
		{"PHI4_TOP_P", "high"},
		{"PHI4_SEED", "1.5"},
		{"PHI4_DO_SAMPLE", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := Default().ApplyEnv()
			require.ErrorContains(t, err, tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"zero max length", func(c *Config) { c.MaxLength = 0 }, "invalid max_length"},
		{"negative reserve", func(c *Config) { c.ReservedGenerationTokens = -1 }, "invalid reserved_generation_tokens"},
		{"reserve fills window", func(c *Config) { c.ReservedGenerationTokens = c.MaxLength }, "must be < max_length"},
		{"zero threads", func(c *Config) { c.NumThreads = 0 }, "invalid num_threads"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "invalid log_format"},
		{"zero temperature", func(c *Config) { c.Temperature = 0 }, "invalid temperature"},
		{"top_p above one", func(c *Config) { c.Generation.TopP = 2 }, "invalid top_p"},
		{"zero heads", func(c *Config) { c.Generation.NumHeads = 0 }, "invalid num_heads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "phi4.yaml")
	cfg := Default()
	cfg.SinkAddr = "analytics:8815"
	cfg.Generation.Seed = 77
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestMaxInputTokens_NeverBelowOne(t *testing.T) {
	cfg := Default()
	cfg.MaxLength = 10
	cfg.ReservedGenerationTokens = 20
	require.Equal(t, 1, cfg.MaxInputTokens())
}
