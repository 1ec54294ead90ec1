package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

const columnsMetadataKey = "queryzen.columns"

// Result is the decoded form of an archived execution.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Result sets have no fixed schema, so each row is stored as a JSON array
// and the column names travel in the file's key/value metadata.
type parquetRow struct {
	Index      int64  `parquet:"row_index"`
	ValuesJSON string `parquet:"values_json"`
}

func EncodeResult(columns []string, rows [][]any) ([]byte, error) {
	header, err := json.Marshal(nonNilColumns(columns))
	if err != nil {
		return nil, fmt.Errorf("encode result columns: %w", err)
	}

	encoded := make([]parquetRow, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		values, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode result row %d: %w", i, err)
		}
		encoded = append(encoded, parquetRow{Index: int64(i), ValuesJSON: string(values)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf, parquet.KeyValueMetadata(columnsMetadataKey, string(header)))
	if len(encoded) > 0 {
		if _, err := writer.Write(encoded); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeResult(payload []byte) (Result, error) {
	file, err := parquet.OpenFile(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return Result{}, fmt.Errorf("open parquet result: %w", err)
	}

	var result Result
	header, ok := file.Lookup(columnsMetadataKey)
	if !ok {
		return Result{}, fmt.Errorf("parquet result has no %s metadata", columnsMetadataKey)
	}
	if err := json.Unmarshal([]byte(header), &result.Columns); err != nil {
		return Result{}, fmt.Errorf("decode result columns: %w", err)
	}

	reader := parquet.NewGenericReader[parquetRow](bytes.NewReader(payload))
	defer func() { _ = reader.Close() }()

	rows := make([]parquetRow, reader.NumRows())
	if len(rows) > 0 {
		count, err := reader.Read(rows)
		if err != nil && !errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("read parquet rows: %w", err)
		}
		rows = rows[:count]
	}

	result.Rows = make([][]any, 0, len(rows))
	for _, row := range rows {
		decoder := json.NewDecoder(bytes.NewReader([]byte(row.ValuesJSON)))
		decoder.UseNumber()
		var values []any
		if err := decoder.Decode(&values); err != nil {
			return Result{}, fmt.Errorf("decode result row %d: %w", row.Index, err)
		}
		result.Rows = append(result.Rows, values)
	}
	return result, nil
}

func nonNilColumns(columns []string) []string {
	if columns == nil {
		return []string{}
	}
	return columns
}
