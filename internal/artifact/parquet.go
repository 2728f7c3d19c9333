package artifact

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"datalens/internal/types"
)

// Parquet codec for result frames. Column physical types are inferred from
// the first non-nil value per column; columns with no values are strings.
// All columns are optional so NULLs round-trip.

func parquetNodeFor(v any) parquet.Node {
	switch v.(type) {
	case int, int32, int64:
		return parquet.Optional(parquet.Int(64))
	case float32, float64:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case bool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	default:
		return parquet.Optional(parquet.String())
	}
}

func frameSchema(frame types.ResultFrame) *parquet.Schema {
	group := parquet.Group{}
	for i, col := range frame.Columns {
		var sample any
		for _, row := range frame.Rows {
			if i < len(row) && row[i] != nil {
				sample = row[i]
				break
			}
		}
		group[col.Name] = parquetNodeFor(sample)
	}
	return parquet.NewSchema("frame", group)
}

// normalizeCell coerces a dynamic value into the column's physical type.
func normalizeCell(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// encodeParquet serializes a frame into a single parquet row group.
func encodeParquet(frame types.ResultFrame) ([]byte, error) {
	schema := frameSchema(frame)
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[map[string]any](&buf, schema)

	rows := make([]map[string]any, len(frame.Rows))
	for ri, row := range frame.Rows {
		m := make(map[string]any, len(frame.Columns))
		for ci, col := range frame.Columns {
			if ci < len(row) && row[ci] != nil {
				m[col.Name] = normalizeCell(row[ci])
			}
		}
		rows[ri] = m
	}

	for start := 0; start < len(rows); {
		n, err := writer.Write(rows[start:])
		if err != nil {
			return nil, fmt.Errorf("parquet write: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("parquet write made no progress")
		}
		start += n
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("parquet close: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeParquet reads a frame back. columnOrder restores the declared column
// order, which parquet groups do not preserve.
func decodeParquet(data []byte, columnOrder []string) (types.ResultFrame, error) {
	reader := parquet.NewGenericReader[map[string]any](bytes.NewReader(data))
	defer reader.Close()

	numRows := int(reader.NumRows())
	rowMaps := make([]map[string]any, 0, numRows)
	buf := make([]map[string]any, 64)
	for {
		for i := range buf {
			buf[i] = map[string]any{}
		}
		n, err := reader.Read(buf)
		rowMaps = append(rowMaps, buf[:n]...)
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}

	if len(columnOrder) == 0 {
		for _, field := range reader.Schema().Fields() {
			columnOrder = append(columnOrder, field.Name())
		}
	}

	frame := types.ResultFrame{Success: true}
	for _, name := range columnOrder {
		frame.Columns = append(frame.Columns, types.ColumnMeta{Name: name, Type: "any"})
	}
	for _, m := range rowMaps {
		row := make([]any, len(columnOrder))
		for i, name := range columnOrder {
			row[i] = m[name]
		}
		frame.Rows = append(frame.Rows, row)
	}
	frame.RowCount = len(frame.Rows)
	return frame, nil
}
