package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/guru-systems/phi4-mini/internal/analysis"
	"github.com/guru-systems/phi4-mini/internal/config"
	"github.com/guru-systems/phi4-mini/internal/engine"
	"github.com/guru-systems/phi4-mini/internal/flight"
	"github.com/guru-systems/phi4-mini/internal/gguf"
	"github.com/guru-systems/phi4-mini/internal/logger"
	"github.com/guru-systems/phi4-mini/internal/monitoring"
	"github.com/guru-systems/phi4-mini/internal/ollama"
	"github.com/guru-systems/phi4-mini/internal/tokenizer"
)

// deps holds the engine and the connections it was built on.
type deps struct {
	engine  *engine.Engine
	clients []*flight.Client
}

func (r *deps) Close() {
	for _, c := range r.clients {
		if err := c.Close(); err != nil {
			logger.Log.Warn("Closing flight client", "addr", c.Addr(), "error", err)
		}
	}
}

// buildDeps loads the tokenizer, checks its metadata against the cache
// geometry and connects the executor and optional pattern sink.
func buildDeps(cfg *config.Config) (*deps, error) {
	tokPath, err := ollama.Resolve(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("tokenizer %s: %w", cfg.TokenizerPath, err)
	}
	f, err := gguf.LoadFile(tokPath)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.FromGGUF(f)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Tokenizer loaded", "path", tokPath, "model", tok.Model(), "vocab", tok.VocabSize())

	rt := &deps{}
	execClient, err := flight.Dial(cfg.ExecutorAddr)
	if err != nil {
		return nil, err
	}
	rt.clients = append(rt.clients, execClient)
	exec := execClient.Executor(flight.ExecutorOptions{
		ModelPath:  cfg.ModelPath,
		NumThreads: cfg.NumThreads,
		UseGPU:     cfg.UseGPU,
	})

	var engOpts []engine.Option
	if cfg.SinkAddr != "" {
		sinkClient, err := flight.Dial(cfg.SinkAddr)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.clients = append(rt.clients, sinkClient)
		engOpts = append(engOpts, engine.WithSink(sinkClient.PatternSink()))
	}

	rt.engine, err = engine.New(cfg, tok, exec, engOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if shape, ok := f.Shape(); ok {
		if mismatches := rt.engine.CheckShape(shape); len(mismatches) > 0 {
			rt.Close()
			return nil, fmt.Errorf("model metadata does not match config: %s", strings.Join(mismatches, "; "))
		}
	}
	return rt, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// promptArg joins the positional arguments, reading stdin for "-" or none.
func promptArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	var (
		project   bool
		system    string
		withSteps bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [prompt...]",
		Short: "Run a cognitive analysis for a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptArg(cmd, args)
			if err != nil {
				return err
			}

			if prompt == "" && !project {
				return errors.New("prompt is required")
			}

			rt, err := buildDeps(opts.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if project {
				report, err := rt.engine.AnalyzeProject(ctx, system, prompt)
				if err != nil {
					return fmt.Errorf("phi-4 analysis failed: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), report)
			}

			a, err := rt.engine.CognitiveAnalysis(ctx, prompt)
			if err != nil {
				return err
			}
			return printAnalysis(cmd.OutOrStdout(), a, withSteps)
		},
	}
	cmd.Flags().BoolVar(&project, "project", false, "produce the project report instead of the raw analysis")
	cmd.Flags().StringVar(&system, "system", "", "system prompt for --project (default \""+engine.DefaultSystemPrompt+"\")")
	cmd.Flags().BoolVar(&withSteps, "steps", false, "include classified reasoning steps")
	return cmd
}

func printAnalysis(w io.Writer, a *analysis.Phi4Analysis, withSteps bool) error {
	if !withSteps {
		return printJSON(w, a)
	}
	return printJSON(w, struct {
		*analysis.Phi4Analysis
		Steps []analysis.ReasoningStep `json:"classified_steps"`
	}{a, a.Steps()})
}

func newParseCmd() *cobra.Command {
	var (
		strict    bool
		withSteps bool
	)
	cmd := &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Parse raw model output into an analysis",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			var a *analysis.Phi4Analysis
			if strict {
				a, err = analysis.ParseStrict(string(data))
				if err != nil {
					return err
				}
			} else {
				a = analysis.Parse(string(data))
			}
			return printAnalysis(cmd.OutOrStdout(), a, withSteps)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail instead of falling back to text analysis")
	cmd.Flags().BoolVar(&withSteps, "steps", false, "include classified reasoning steps")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API with health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr == "" {
				addr = cfg.MetricsAddr
			}

			rt, err := buildDeps(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := monitoring.NewServer(rt.engine, monitoring.EngineInfo{
				ModelPath:      cfg.ModelPath,
				ExecutorAddr:   cfg.ExecutorAddr,
				MaxLength:      cfg.MaxLength,
				MaxInputTokens: cfg.MaxInputTokens(),
				NumLayers:      cfg.Generation.NumLayers,
				NumHeads:       cfg.Generation.NumHeads,
				HeadDim:        cfg.Generation.HeadDim,
			}, version)

			ctx, cancel := signalContext()
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Log.Info("Shutting down")
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := srv.Stop(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default metrics_addr from config)")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <gguf|model>",
		Short: "Print GGUF metadata and the derived model shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ollama.Resolve(args[0])
			if err != nil {
				return err
			}
			f, err := gguf.LoadFile(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, f.Describe())
			if shape, ok := f.Shape(); ok {
				fmt.Fprintf(out, "shape: arch=%s layers=%d heads=%d kv_heads=%d head_dim=%d context=%d\n",
					shape.Architecture, shape.Layers, shape.Heads, shape.KVHeads, shape.HeadDim, shape.ContextLen)
			}
			return nil
		},
	}
}
