package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_MarshalJSON_EmitsOrderedRecordObjects(t *testing.T) {
	table := NewTable([]string{"date", "price", "active"})
	table.AddRecord([]Cell{StringCell("2024-01-01"), FloatCell(10), BoolCell(true)})
	table.AddRecord([]Cell{StringCell("2024-01-02"), FloatCell(11), BoolCell(false)})

	b, err := json.Marshal(table)
	require.NoError(t, err)

	// Exact string comparison, not assert.JSONEq, since key order
	// within each object must be preserved, not just set-equal.
	want := `[{"date":"2024-01-01","price":10,"active":true},{"date":"2024-01-02","price":11,"active":false}]`
	assert.Equal(t, want, string(b))
}

func TestTable_MarshalJSON_EmptyTableIsEmptyArray(t *testing.T) {
	table := NewTable([]string{"a", "b"})
	b, err := json.Marshal(table)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestTable_MarshalJSON_NullCellRendersAsJSONNull(t *testing.T) {
	table := NewTable([]string{"a"})
	table.AddRecord([]Cell{NullCell()})
	b, err := json.Marshal(table)
	require.NoError(t, err)
	assert.Equal(t, `[{"a":null}]`, string(b))
}

func TestTable_MarshalJSON_ShortRecordPadsMissingFieldsWithNull(t *testing.T) {
	table := NewTable([]string{"a", "b"})
	table.AddRecord([]Cell{StringCell("x")})
	b, err := json.Marshal(table)
	require.NoError(t, err)
	assert.Equal(t, `[{"a":"x","b":null}]`, string(b))
}

func TestTable_MarshalJSON_EscapesFieldNamesAndStringValues(t *testing.T) {
	table := NewTable([]string{`weird"field`})
	table.AddRecord([]Cell{StringCell("has \"quotes\"")})
	b, err := json.Marshal(table)
	require.NoError(t, err)

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "has \"quotes\"", decoded[0][`weird"field`])
}
