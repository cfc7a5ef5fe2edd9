package flight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/guru-systems/phi4-mini/internal/analysis"
)

const PatternCategory = "pattern_detection"

// PatternSchema matches the pattern_analytics table.
var PatternSchema = arrow.NewSchema([]arrow.Field{
	{Name: "pattern_id", Type: arrow.BinaryTypes.String},
	{Name: "request_id", Type: arrow.BinaryTypes.String},
	{Name: "category", Type: arrow.BinaryTypes.String},
	{Name: "type", Type: arrow.BinaryTypes.String},
	{Name: "strength", Type: arrow.PrimitiveTypes.Float64},
	{Name: "occurrences", Type: arrow.PrimitiveTypes.Int32},
	{Name: "created_at", Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}},
}, nil)

type PatternRow struct {
	PatternID   string
	RequestID   string
	Category    string
	Type        string
	Strength    float64
	Occurrences int32
	CreatedAt   time.Time
}

// Sink receives the patterns of each completed analysis.
type Sink interface {
	Publish(ctx context.Context, requestID string, a *analysis.Phi4Analysis) error
}

// PatternRows flattens detected patterns into one row each.
func PatternRows(requestID string, a *analysis.Phi4Analysis, now time.Time) []PatternRow {
	pd := a.PatternDetection
	rows := make([]PatternRow, 0, len(pd.DetectedPatterns))
	for i, name := range pd.DetectedPatterns {
		rows = append(rows, PatternRow{
			PatternID:   uuid.NewString(),
			RequestID:   requestID,
			Category:    PatternCategory,
			Type:        name,
			Strength:    float64(pd.ConfidenceScores[i]),
			Occurrences: 1,
			CreatedAt:   now.UTC().Truncate(time.Millisecond),
		})
	}
	return rows
}

func newPatternBuilder(mem memory.Allocator) *array.RecordBuilder {
	return array.NewRecordBuilder(mem, PatternSchema)
}

func encodePatternRows(b *array.RecordBuilder, rows []PatternRow) arrow.Record {
	defer b.Release()
	for _, r := range rows {
		b.Field(0).(*array.StringBuilder).Append(r.PatternID)
		b.Field(1).(*array.StringBuilder).Append(r.RequestID)
		b.Field(2).(*array.StringBuilder).Append(r.Category)
		b.Field(3).(*array.StringBuilder).Append(r.Type)
		b.Field(4).(*array.Float64Builder).Append(r.Strength)
		b.Field(5).(*array.Int32Builder).Append(r.Occurrences)
		b.Field(6).(*array.TimestampBuilder).Append(arrow.Timestamp(r.CreatedAt.UnixMilli()))
	}
	return b.NewRecord()
}

// DecodePatternRows is the receiving side of PatternSink.
func DecodePatternRows(rec arrow.Record) ([]PatternRow, error) {
	if !rec.Schema().Equal(PatternSchema) {
		return nil, fmt.Errorf("unexpected pattern schema: %s", rec.Schema())
	}
	ids := rec.Column(0).(*array.String)
	reqs := rec.Column(1).(*array.String)
	cats := rec.Column(2).(*array.String)
	types := rec.Column(3).(*array.String)
	strength := rec.Column(4).(*array.Float64)
	occ := rec.Column(5).(*array.Int32)
	created := rec.Column(6).(*array.Timestamp)

	rows := make([]PatternRow, rec.NumRows())
	for i := range rows {
		rows[i] = PatternRow{
			PatternID:   ids.Value(i),
			RequestID:   reqs.Value(i),
			Category:    cats.Value(i),
			Type:        types.Value(i),
			Strength:    strength.Value(i),
			Occurrences: occ.Value(i),
			CreatedAt:   created.Value(i).ToTime(arrow.Millisecond),
		}
	}
	return rows, nil
}

// PatternSink writes pattern rows to a Flight service with DoPut.
type PatternSink struct {
	c   *Client
	now func() time.Time
}

func (c *Client) PatternSink() *PatternSink {
	return &PatternSink{c: c, now: time.Now}
}

func (s *PatternSink) Publish(ctx context.Context, requestID string, a *analysis.Phi4Analysis) error {
	rows := PatternRows(requestID, a, s.now())
	if len(rows) == 0 {
		return nil
	}

	stream, err := s.c.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to create DoPut writer: %w", err)
	}

	rec := encodePatternRows(newPatternBuilder(s.c.mem), rows)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(PatternSchema), ipc.WithAllocator(s.c.mem))
	w.SetFlightDescriptor(patternDescriptor)
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("pattern sink: %w", err)
		}
	}
}

// MockSink keeps published rows in memory.
type MockSink struct {
	mu   sync.Mutex
	rows []PatternRow
	err  error
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

// FailWith makes later Publish calls return err.
func (m *MockSink) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockSink) Publish(ctx context.Context, requestID string, a *analysis.Phi4Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, PatternRows(requestID, a, time.Now())...)
	return nil
}

func (m *MockSink) Rows() []PatternRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PatternRow(nil), m.rows...)
}

func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
}
