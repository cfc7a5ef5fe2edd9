// Package engine is the upstream entry point: it renders the cognitive
// prompt, runs generation and turns the output into an analysis.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guru-systems/phi4-mini/internal/analysis"
	"github.com/guru-systems/phi4-mini/internal/config"
	"github.com/guru-systems/phi4-mini/internal/flight"
	"github.com/guru-systems/phi4-mini/internal/generate"
	"github.com/guru-systems/phi4-mini/internal/gguf"
	"github.com/guru-systems/phi4-mini/internal/logger"
	"github.com/guru-systems/phi4-mini/internal/metrics"
)

const (
	DefaultSystemPrompt   = "You are an expert project analyst"
	DefaultAnalysisPrompt = "Analyze this project"
)

// Engine owns one generator over a shared executor. Calls may overlap; the
// executor only ever sees one step at a time.
type Engine struct {
	cfg    config.Config
	tok    generate.Tokenizer
	gen    *generate.Generator
	sink   flight.Sink
	genOps []generate.Option
}

type Option func(*Engine)

// WithSink publishes the patterns of every analysis. Publish failures are
// logged and otherwise ignored.
func WithSink(s flight.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithGeneratorOptions(opts ...generate.Option) Option {
	return func(e *Engine) { e.genOps = append(e.genOps, opts...) }
}

func New(cfg *config.Config, tok generate.Tokenizer, exec generate.Executor, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if tok == nil || exec == nil {
		return nil, fmt.Errorf("engine needs both a tokenizer and an executor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: *cfg, tok: tok}
	for _, opt := range opts {
		opt(e)
	}

	gen, err := generate.NewGenerator(generate.Serialize(exec), tok, cfg.GenerateConfig(), e.genOps...)
	if err != nil {
		return nil, err
	}
	e.gen = gen

	logger.Log.Info("Engine ready",
		"model", cfg.ModelPath,
		"max_length", cfg.MaxLength,
		"max_input_tokens", cfg.MaxInputTokens(),
		"temperature", cfg.Temperature,
		"sink", e.sink != nil,
	)
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// IsReady reports whether the engine can serve requests.
func (e *Engine) IsReady() bool {
	return e != nil && e.gen != nil
}

// CheckShape compares model metadata with the configured cache geometry and
// returns one message per mismatch. A mismatch means the executor will
// reject the cache, so callers should treat it as a configuration error.
func (e *Engine) CheckShape(shape gguf.ModelShape) []string {
	g := e.cfg.Generation
	var out []string
	check := func(name string, want, got int) {
		if got != 0 && got != want {
			out = append(out, fmt.Sprintf("%s: config %d, model %d", name, want, got))
		}
	}
	check("num_layers", g.NumLayers, shape.Layers)
	check("num_heads", g.NumHeads, shape.KVHeads)
	check("head_dim", g.HeadDim, shape.HeadDim)
	if shape.ContextLen > 0 && e.cfg.MaxLength > shape.ContextLen {
		out = append(out, fmt.Sprintf("max_length: config %d exceeds model context %d", e.cfg.MaxLength, shape.ContextLen))
	}
	for _, m := range out {
		logger.Log.Warn("Model shape mismatch", "architecture", shape.Architecture, "detail", m)
	}
	return out
}

// CognitiveAnalysis runs one analysis for prompt. Only tokenizer and
// generation failures are errors; unparseable output still yields an
// analysis through the text fallback.
func (e *Engine) CognitiveAnalysis(ctx context.Context, prompt string) (*analysis.Phi4Analysis, error) {
	a, _, err := e.analyze(ctx, prompt)
	return a, err
}

func (e *Engine) analyze(ctx context.Context, prompt string) (*analysis.Phi4Analysis, string, error) {
	start := time.Now()
	requestID := uuid.NewString()
	log := logger.Log.With("component", "engine", "request_id", requestID)
	log.Info("Starting cognitive analysis", "prompt_length", len(prompt))

	ids, err := e.tok.Encode(CognitivePrompt(prompt), true)
	if err != nil {
		return nil, requestID, &generate.TokenizerError{Op: "encode", Err: err}
	}
	metrics.RecordContextLength(len(ids))

	if limit := e.cfg.MaxInputTokens(); len(ids) > limit {
		log.Warn("Truncating input", "from", len(ids), "to", limit)
		metrics.RecordTruncation()
		ids = ids[:limit]
	}

	res, err := e.gen.Generate(ctx, ids)
	if err != nil {
		return nil, requestID, err
	}
	log.Debug("Generated response", "length", len(res.Text), "stop_reason", res.StopReason.String())

	a := analysis.Parse(res.Text)

	if e.sink != nil {
		err := e.sink.Publish(ctx, requestID, a)
		metrics.RecordSinkPublish(err)
		if err != nil {
			log.Warn("Pattern publish failed", "error", err)
		}
	}

	metrics.RecordAnalysis(time.Since(start))
	log.Info("Cognitive analysis complete",
		"confidence", a.Confidence,
		"patterns", len(a.PatternDetection.DetectedPatterns),
		"duration", time.Since(start),
	)
	return a, requestID, nil
}

// AnalyzeProject joins the system and analysis prompts, substituting the
// defaults for empty ones, and returns the frontend report.
func (e *Engine) AnalyzeProject(ctx context.Context, systemPrompt, analysisPrompt string) (*analysis.Report, error) {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if analysisPrompt == "" {
		analysisPrompt = DefaultAnalysisPrompt
	}
	a, requestID, err := e.analyze(ctx, systemPrompt+"\n\n"+analysisPrompt)
	if err != nil {
		return nil, err
	}
	report := analysis.BuildReport(a)
	report.RequestID = requestID
	return report, nil
}
