package flight

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/guru-systems/phi4-mini/internal/generate"
)

// TensorSchema carries one named tensor per row. Float tensors fill the
// values column, id tensors the ids column; the other list is empty.
var TensorSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	{Name: "ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
}, nil)

// tensorRow is the decoded form of one TensorSchema row.
type tensorRow struct {
	shape  []int
	values []float32
	ids    []int64
}

type tensorBuilder struct {
	b      *array.RecordBuilder
	name   *array.StringBuilder
	shape  *array.ListBuilder
	values *array.ListBuilder
	ids    *array.ListBuilder
}

func newTensorBuilder(mem memory.Allocator) *tensorBuilder {
	b := array.NewRecordBuilder(mem, TensorSchema)
	return &tensorBuilder{
		b:      b,
		name:   b.Field(0).(*array.StringBuilder),
		shape:  b.Field(1).(*array.ListBuilder),
		values: b.Field(2).(*array.ListBuilder),
		ids:    b.Field(3).(*array.ListBuilder),
	}
}

func (tb *tensorBuilder) appendShape(name string, shape []int) {
	tb.name.Append(name)
	tb.shape.Append(true)
	sb := tb.shape.ValueBuilder().(*array.Int64Builder)
	for _, d := range shape {
		sb.Append(int64(d))
	}
}

func (tb *tensorBuilder) addFloat(name string, t generate.Tensor) {
	tb.appendShape(name, t.Shape)
	tb.values.Append(true)
	tb.values.ValueBuilder().(*array.Float32Builder).AppendValues(t.Data, nil)
	tb.ids.Append(true)
}

func (tb *tensorBuilder) addIDs(name string, t generate.IDTensor) {
	tb.appendShape(name, t.Shape)
	tb.values.Append(true)
	tb.ids.Append(true)
	tb.ids.ValueBuilder().(*array.Int64Builder).AppendValues(t.Data, nil)
}

func (tb *tensorBuilder) record() arrow.Record {
	defer tb.b.Release()
	return tb.b.NewRecord()
}

// EncodeBatch converts one step's inputs into a TensorSchema record. The
// caller releases it.
func EncodeBatch(mem memory.Allocator, batch *generate.Batch) arrow.Record {
	tb := newTensorBuilder(mem)
	tb.addIDs(generate.InputIDsName, batch.InputIDs)
	tb.addIDs(generate.AttentionMaskName, batch.AttentionMask)
	for i, layer := range batch.PastKeyValues {
		tb.addFloat(generate.PastKeyName(i), layer.Key)
		tb.addFloat(generate.PastValueName(i), layer.Value)
	}
	return tb.record()
}

// EncodeOutput is the executor side of DecodeOutput.
func EncodeOutput(mem memory.Allocator, out *generate.Output) arrow.Record {
	tb := newTensorBuilder(mem)
	tb.addFloat(generate.LogitsName, out.Logits)
	for i, layer := range out.Present {
		tb.addFloat(generate.PresentKeyName(i), layer.Key)
		tb.addFloat(generate.PresentValueName(i), layer.Value)
	}
	return tb.record()
}

func readRows(rec arrow.Record, into map[string]tensorRow) error {
	if !rec.Schema().Equal(TensorSchema) {
		return fmt.Errorf("unexpected tensor schema: %s", rec.Schema())
	}
	names, ok := rec.Column(0).(*array.String)
	if !ok {
		return fmt.Errorf("name column has type %s", rec.Column(0).DataType())
	}
	shapes := rec.Column(1).(*array.List)
	values := rec.Column(2).(*array.List)
	ids := rec.Column(3).(*array.List)
	shapeVals := shapes.ListValues().(*array.Int64).Int64Values()
	floatVals := values.ListValues().(*array.Float32).Float32Values()
	idVals := ids.ListValues().(*array.Int64).Int64Values()

	for i := 0; i < int(rec.NumRows()); i++ {
		name := names.Value(i)
		if _, dup := into[name]; dup {
			return fmt.Errorf("duplicate tensor %q", name)
		}
		var row tensorRow
		start, end := shapes.ValueOffsets(i)
		for _, d := range shapeVals[start:end] {
			row.shape = append(row.shape, int(d))
		}
		start, end = values.ValueOffsets(i)
		row.values = append([]float32(nil), floatVals[start:end]...)
		start, end = ids.ValueOffsets(i)
		row.ids = append([]int64(nil), idVals[start:end]...)
		into[name] = row
	}
	return nil
}

func collect(recs []arrow.Record) (map[string]tensorRow, error) {
	rows := make(map[string]tensorRow)
	for _, rec := range recs {
		if err := readRows(rec, rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func floatTensor(rows map[string]tensorRow, name string) (generate.Tensor, error) {
	row, ok := rows[name]
	if !ok {
		return generate.Tensor{}, fmt.Errorf("missing tensor %q", name)
	}
	return generate.NewTensor(name, row.shape, row.values)
}

func idTensor(rows map[string]tensorRow, name string) (generate.IDTensor, error) {
	row, ok := rows[name]
	if !ok {
		return generate.IDTensor{}, fmt.Errorf("missing tensor %q", name)
	}
	return generate.NewIDTensor(name, row.shape, row.ids)
}

// DecodeOutput rebuilds an executor output from logits and present.<i>.*
// rows. Layers are read in order until the first missing key.
func DecodeOutput(recs ...arrow.Record) (*generate.Output, error) {
	rows, err := collect(recs)
	if err != nil {
		return nil, err
	}
	logits, err := floatTensor(rows, generate.LogitsName)
	if err != nil {
		return nil, err
	}
	out := &generate.Output{Logits: logits}
	for i := 0; ; i++ {
		if _, ok := rows[generate.PresentKeyName(i)]; !ok {
			break
		}
		key, err := floatTensor(rows, generate.PresentKeyName(i))
		if err != nil {
			return nil, err
		}
		value, err := floatTensor(rows, generate.PresentValueName(i))
		if err != nil {
			return nil, err
		}
		out.Present = append(out.Present, generate.LayerCache{Key: key, Value: value})
	}
	return out, nil
}

// DecodeBatch is the executor side of EncodeBatch.
func DecodeBatch(recs ...arrow.Record) (*generate.Batch, error) {
	rows, err := collect(recs)
	if err != nil {
		return nil, err
	}
	inputIDs, err := idTensor(rows, generate.InputIDsName)
	if err != nil {
		return nil, err
	}
	mask, err := idTensor(rows, generate.AttentionMaskName)
	if err != nil {
		return nil, err
	}
	batch := &generate.Batch{InputIDs: inputIDs, AttentionMask: mask}
	for i := 0; ; i++ {
		if _, ok := rows[generate.PastKeyName(i)]; !ok {
			break
		}
		key, err := floatTensor(rows, generate.PastKeyName(i))
		if err != nil {
			return nil, err
		}
		value, err := floatTensor(rows, generate.PastValueName(i))
		if err != nil {
			return nil, err
		}
		batch.PastKeyValues = append(batch.PastKeyValues, generate.LayerCache{Key: key, Value: value})
	}
	return batch, nil
}
