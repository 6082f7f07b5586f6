package model

import (
	"bytes"
	"encoding/json"
	"math"
)

// Cell is the scalar sum type every tabular value normalizes to: the
// explicit replacement for a dynamically-typed cell in the upstream
// library's native tables.
type Cell struct {
	kind  cellKind
	str   string
	i64   int64
	f64   float64
	boolv bool
}

type cellKind uint8

const (
	cellNull cellKind = iota
	cellString
	cellInt64
	cellFloat64
	cellBool
)

func NullCell() Cell            { return Cell{kind: cellNull} }
func StringCell(s string) Cell  { return Cell{kind: cellString, str: s} }
func IntCell(i int64) Cell      { return Cell{kind: cellInt64, i64: i} }
func BoolCell(b bool) Cell      { return Cell{kind: cellBool, boolv: b} }

// FloatCell normalizes NaN/±Inf to null per the invoker's normalization
// rule: upstream numeric edge cases never reach the client as non-JSON
// values.
func FloatCell(f float64) Cell {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Cell{kind: cellNull}
	}
	return Cell{kind: cellFloat64, f64: f}
}

func (c Cell) IsNull() bool { return c.kind == cellNull }

// String renders the cell's deterministic string form; null renders as
// the empty string.
func (c Cell) String() string {
	switch c.kind {
	case cellNull:
		return ""
	case cellString:
		return c.str
	case cellInt64:
		return formatInt(c.i64)
	case cellFloat64:
		return formatFloat(c.f64)
	case cellBool:
		if c.boolv {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case cellNull:
		return []byte("null"), nil
	case cellString:
		return json.Marshal(c.str)
	case cellInt64:
		return json.Marshal(c.i64)
	case cellFloat64:
		return json.Marshal(c.f64)
	case cellBool:
		return json.Marshal(c.boolv)
	default:
		return []byte("null"), nil
	}
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Cell{kind: cellNull}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Cell{kind: cellString, str: s}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*c = Cell{kind: cellBool, boolv: b}
		return nil
	}
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*c = Cell{kind: cellInt64, i64: i}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*c = FloatCell(f)
	return nil
}

func formatInt(i int64) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func formatFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// Table is an ordered tabular result: every record shares the same
// ordered field-name set, and field order is stable across pagination.
type Table struct {
	Fields  []string
	Records [][]Cell
}

// NewTable builds an empty table with the given field order.
func NewTable(fields []string) *Table {
	return &Table{Fields: append([]string(nil), fields...)}
}

// AddRecord appends a record; len(values) must equal len(t.Fields).
func (t *Table) AddRecord(values []Cell) {
	t.Records = append(t.Records, values)
}

// Len returns the record count.
func (t *Table) Len() int { return len(t.Records) }

// MarshalJSON renders the table as an array of record objects, one per
// row, with keys in Fields order. A Go map would re-sort keys
// alphabetically on marshal, so the object bytes are assembled by hand
// instead of going through encoding/json's map path.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for ri, rec := range t.Records {
		if ri > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for fi, field := range t.Fields {
			if fi > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(field)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			var cell Cell
			if fi < len(rec) {
				cell = rec[fi]
			} else {
				cell = NullCell()
			}
			val, err := cell.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Slice returns a new Table containing records [start, end), sharing the
// same field order. start/end are clamped to [0, len(Records)].
func (t *Table) Slice(start, end int) *Table {
	if start < 0 {
		start = 0
	}
	if end > len(t.Records) {
		end = len(t.Records)
	}
	if start > end {
		start = end
	}
	out := NewTable(t.Fields)
	out.Records = t.Records[start:end]
	return out
}
