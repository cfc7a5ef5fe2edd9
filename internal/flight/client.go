// Package flight moves tensors and analytics rows over Apache Arrow Flight:
// a remote model executor driven through DoExchange and a pattern sink fed
// through DoPut.
package flight

import (
	"context"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/guru-systems/phi4-mini/internal/generate"
	"github.com/guru-systems/phi4-mini/internal/logger"
)

// Request metadata understood by executor services.
const (
	MetaModelPath  = "x-phi4-model-path"
	MetaNumThreads = "x-phi4-num-threads"
	MetaUseGPU     = "x-phi4-use-gpu"
)

var (
	stepDescriptor    = &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"phi4", "step"}}
	patternDescriptor = &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"pattern_analytics"}}
)

// Client wraps a Flight connection. The connection is established lazily by
// gRPC; Dial does not block.
type Client struct {
	addr   string
	client flight.Client
	mem    memory.Allocator
}

func Dial(addr string) (*Client, error) {
	c, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client for %s: %w", addr, err)
	}
	return &Client{addr: addr, client: c, mem: memory.DefaultAllocator}, nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ExecutorOptions are forwarded to the executor service with every step.
type ExecutorOptions struct {
	ModelPath  string
	NumThreads int
	UseGPU     bool
}

// Executor runs model steps on a remote Flight service. Each step is one
// DoExchange: a TensorSchema record with the batch goes out and the
// logits and present cache come back.
type Executor struct {
	c    *Client
	opts ExecutorOptions
}

func (c *Client) Executor(opts ExecutorOptions) *Executor {
	return &Executor{c: c, opts: opts}
}

func (e *Executor) Run(ctx context.Context, batch *generate.Batch) (*generate.Output, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		MetaModelPath, e.opts.ModelPath,
		MetaNumThreads, strconv.Itoa(e.opts.NumThreads),
		MetaUseGPU, strconv.FormatBool(e.opts.UseGPU),
	)

	stream, err := e.c.client.DoExchange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open exchange: %w", err)
	}

	rec := EncodeBatch(e.c.mem, batch)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(TensorSchema), ipc.WithAllocator(e.c.mem))
	w.SetFlightDescriptor(stepDescriptor)
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("failed to write batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send: %w", err)
	}

	r, err := flight.NewRecordReader(stream, ipc.WithAllocator(e.c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}
	defer r.Release()

	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	out, err := DecodeOutput(recs...)
	if err != nil {
		return nil, err
	}
	logger.Log.Debug("Remote step complete", "addr", e.c.addr, "new_tokens", batch.NewTokens(), "present_layers", len(out.Present))
	return out, nil
}
