package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"
)

var ErrIndexOutOfRange = errors.New("index out of range")

// Execution is one recorded run of a Zen. A run whose SQL failed has state IN
// and carries the database error text.
type Execution struct {
	ID          string         `json:"id"`
	ZenID       string         `json:"zen_id"`
	State       State          `json:"state"`
	Query       string         `json:"query"`
	Parameters  map[string]any `json:"parameters"`
	Error       string         `json:"error"`
	RowCount    int64          `json:"row_count"`
	ColumnNames []string       `json:"columns"`
	Data        [][]any        `json:"rows"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	TotalTimeMs int64          `json:"total_time"`
	ResultPath  string         `json:"result_path,omitempty"`

	// Records holds one value per row built by a RowFactory.
	Records []any `json:"-"`
}

// RowFactory builds a typed record from one result row.
type RowFactory func(columns []string, row []any) (any, error)

// UnmarshalJSON accepts parameters either as an object or as a JSON encoded
// string, and derives row_count from the rows when the server omits it.
func (e *Execution) UnmarshalJSON(data []byte) error {
	type plain Execution
	var wire struct {
		plain
		Parameters json.RawMessage `json:"parameters"`
		RowCount   *int64          `json:"row_count"`
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&wire); err != nil {
		return err
	}
	*e = Execution(wire.plain)

	params, err := decodeParameters(wire.Parameters)
	if err != nil {
		return err
	}
	e.Parameters = params
	if wire.RowCount != nil {
		e.RowCount = *wire.RowCount
	} else {
		e.RowCount = int64(len(e.Data))
	}
	return nil
}

func decodeParameters(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		if text == "" {
			return map[string]any{}, nil
		}
		raw = []byte(text)
	}
	params := map[string]any{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode execution parameters: %w", err)
	}
	return params, nil
}

func (e *Execution) IsError() bool {
	return e.Error != ""
}

func (e *Execution) HasData() bool {
	return e.RowCount > 0
}

func (e *Execution) RowAt(i int) ([]any, error) {
	if i < 0 || i >= len(e.Data) {
		return nil, fmt.Errorf("row %d: %w", i, ErrIndexOutOfRange)
	}
	return e.Data[i], nil
}

// Column materializes column i from the row-major data.
func (e *Execution) Column(i int) ([]any, error) {
	if i < 0 || i >= len(e.ColumnNames) {
		return nil, fmt.Errorf("column %d: %w", i, ErrIndexOutOfRange)
	}
	values := make([]any, len(e.Data))
	for j, row := range e.Data {
		if i < len(row) {
			values[j] = row[i]
		}
	}
	return values, nil
}

// Rows yields each row with its index.
func (e *Execution) Rows() iter.Seq2[int, []any] {
	return func(yield func(int, []any) bool) {
		for i, row := range e.Data {
			if !yield(i, row) {
				return
			}
		}
	}
}

// Columns yields each column name with its materialized values.
func (e *Execution) Columns() iter.Seq2[string, []any] {
	return func(yield func(string, []any) bool) {
		for i, name := range e.ColumnNames {
			values, _ := e.Column(i)
			if !yield(name, values) {
				return
			}
		}
	}
}

// Build fills Records by applying factory to every row.
func (e *Execution) Build(factory RowFactory) error {
	records := make([]any, 0, len(e.Data))
	for i, row := range e.Data {
		record, err := factory(e.ColumnNames, row)
		if err != nil {
			return fmt.Errorf("build record for row %d: %w", i, err)
		}
		records = append(records, record)
	}
	e.Records = records
	return nil
}

// Decode converts every row to a T by matching column names against T's JSON
// field names.
func Decode[T any](e *Execution) ([]T, error) {
	out := make([]T, 0, len(e.Data))
	for i, row := range e.Data {
		if len(row) != len(e.ColumnNames) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(e.ColumnNames))
		}
		object := make(map[string]any, len(row))
		for j, name := range e.ColumnNames {
			object[name] = row[j]
		}
		payload, err := json.Marshal(object)
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i, err)
		}
		out = append(out, value)
	}
	return out, nil
}

// Table renders the execution as a fixed-width text table. A failed execution
// renders its error in a single "error" column.
func (e *Execution) Table(align Align) string {
	if e.IsError() {
		return renderTable([]string{"error"}, [][]any{{e.Error}}, align)
	}
	columns := e.ColumnNames
	if len(columns) == 0 {
		columns = []string{"no data"}
	}
	rows := e.Data
	if len(rows) == 0 {
		rows = [][]any{make([]any, len(columns))}
		for i := range rows[0] {
			rows[0][i] = ""
		}
	}
	return renderTable(columns, rows, align)
}
