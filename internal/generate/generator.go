package generate

import (
	"context"
	"time"

	"github.com/guru-systems/phi4-mini/internal/logger"
	"github.com/guru-systems/phi4-mini/internal/metrics"
)

// Result is the outcome of one generate call.
type Result struct {
	Text       string
	Tokens     []int64
	StopReason StopReason
	Steps      int
}

// Generator drives the autoregressive loop against an executor. It holds no
// per-call state and may be shared by concurrent calls as long as the
// executor tolerates that (wrap it with Serialize otherwise).
type Generator struct {
	exec    Executor
	tok     Tokenizer
	cfg     Config
	stopper *Stopper
	rng     RandomSource
}

type Option func(*Generator)

// WithRandomSource makes every call draw from rng. The caller is responsible
// for rng's thread safety when calls overlap.
func WithRandomSource(rng RandomSource) Option {
	return func(g *Generator) { g.rng = rng }
}

func NewGenerator(exec Executor, tok Tokenizer, cfg Config, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		exec:    exec,
		tok:     tok,
		cfg:     cfg,
		stopper: NewStopper(cfg, tok),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) Config() Config { return g.cfg }

// state belongs to a single Generate call.
type state struct {
	currentIDs []int64
	generated  []int64
	cache      KVCache
}

func (st *state) commit(token int64, present KVCache) {
	st.currentIDs = append(st.currentIDs, token)
	st.generated = append(st.generated, token)
	st.cache = present
}

// Generate runs up to MaxNewTokens steps from promptIDs and decodes the
// committed tokens. The token that triggers a stop condition is dropped. Any
// failure aborts the call with a *GenerationError and no partial output.
// ctx is checked between steps.
func (g *Generator) Generate(ctx context.Context, promptIDs []int64) (*Result, error) {
	start := time.Now()
	log := logger.Log.With("component", "generate")
	log.Info("Starting text generation", "input_tokens", len(promptIDs), "max_new_tokens", g.cfg.MaxNewTokens)
	metrics.RecordSamplingConfig(g.cfg.Temperature, g.cfg.TopK, g.cfg.TopP, g.cfg.RepetitionPenalty)

	st := &state{
		currentIDs: make([]int64, len(promptIDs), len(promptIDs)+g.cfg.MaxNewTokens),
		generated:  make([]int64, 0, g.cfg.MaxNewTokens),
	}
	copy(st.currentIDs, promptIDs)
	sampler := NewSampler(g.cfg, g.rng)

	reason := StopMaxTokens
	steps := 0
	for step := 0; step < g.cfg.MaxNewTokens; step++ {
		if err := ctx.Err(); err != nil {
			return nil, g.fail(step, err)
		}

		batch, err := BuildInputs(st.currentIDs, st.cache, g.cfg)
		if err != nil {
			return nil, g.fail(step, err)
		}

		stepStart := time.Now()
		out, err := g.exec.Run(ctx, batch)
		if err != nil {
			return nil, g.fail(step, &ExecutorError{Step: step, Err: err})
		}
		row, err := out.LastLogits()
		if err != nil {
			return nil, g.fail(step, &ExecutorError{Step: step, Err: err})
		}

		next := sampler.Sample(row, st.currentIDs)
		steps = step + 1
		metrics.RecordStep(time.Since(stepStart), out.Present.SeqLen())

		if r := g.stopper.Check(next, st.generated); r != StopNone {
			log.Debug("Stopping generation", "step", step, "reason", r.String(), "token", next)
			reason = r
			break
		}

		st.commit(next, out.Present)

		if step%20 == 0 && step > 0 {
			log.Debug("Generation progress", "generated", len(st.generated))
		}
	}

	decodeStart := time.Now()
	text, err := g.tok.Decode(st.generated, true)
	if err != nil {
		return nil, g.fail(steps, &TokenizerError{Op: "decode", Err: err})
	}
	metrics.RecordTokenizerDecode(time.Since(decodeStart))

	metrics.RecordGeneration(len(st.generated), time.Since(start), reason.String())
	log.Info("Generation finished", "tokens", len(st.generated), "steps", steps, "reason", reason.String(), "duration", time.Since(start))

	return &Result{
		Text:       text,
		Tokens:     st.generated,
		StopReason: reason,
		Steps:      steps,
	}, nil
}

func (g *Generator) fail(step int, err error) error {
	metrics.RecordGenerationFailure(failureKind(err))
	logger.Log.Error("Generation aborted", "component", "generate", "step", step, "error", err)
	return &GenerationError{Step: step, Err: err}
}
