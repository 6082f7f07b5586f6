package pagination

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sys3222/akshare-mcp-adapter/internal/model"
)

func buildTable(n int) *model.Table {
	t := model.NewTable([]string{"id"})
	for i := 0; i < n; i++ {
		t.AddRecord([]model.Cell{model.IntCell(int64(i))})
	}
	return t
}

func TestPaginate_ClampsPageSize(t *testing.T) {
	table := buildTable(10)

	page := Paginate(table, 1, 0)
	assert.Equal(t, 1, page.Data.Len())

	page = Paginate(table, 1, 10000)
	assert.Equal(t, 10, page.Data.Len())
}

func TestPaginate_ClampsPageNumber(t *testing.T) {
	table := buildTable(5)

	page := Paginate(table, 0, 2)
	assert.Equal(t, 1, page.CurrentPage)

	page = Paginate(table, 999, 2)
	assert.Equal(t, page.TotalPages, page.CurrentPage)
}

func TestPaginate_TotalPages(t *testing.T) {
	table := buildTable(10)

	page := Paginate(table, 1, 3)
	assert.Equal(t, 4, page.TotalPages)
	assert.Equal(t, 10, page.TotalRecords)
}

// TestPaginate_SerializesDataAsRecordObjectArray guards the wire shape
// of the envelope: data must be an array of field->value objects, not
// the raw Table struct.
func TestPaginate_SerializesDataAsRecordObjectArray(t *testing.T) {
	table := model.NewTable([]string{"id", "label"})
	table.AddRecord([]model.Cell{model.IntCell(1), model.StringCell("a")})
	table.AddRecord([]model.Cell{model.IntCell(2), model.StringCell("b")})

	page := Paginate(table, 1, 10)
	b, err := json.Marshal(page)
	require.NoError(t, err)

	var decoded struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded.Data, 2)
	assert.Equal(t, float64(1), decoded.Data[0]["id"])
	assert.Equal(t, "a", decoded.Data[0]["label"])
	assert.Equal(t, float64(2), decoded.Data[1]["id"])
	assert.Equal(t, "b", decoded.Data[1]["label"])
}

func TestPaginate_EmptyTableHasOnePage(t *testing.T) {
	table := buildTable(0)

	page := Paginate(table, 1, 20)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 0, page.Data.Len())
}

// TestPaginate_RoundTrip verifies concatenating every page reproduces
// the full record set in order, for a range of page sizes.
func TestPaginate_RoundTrip(t *testing.T) {
	table := buildTable(37)

	for _, size := range []int{1, 5, 7, 37, 100} {
		var seen []model.Cell
		totalPages := Paginate(table, 1, size).TotalPages
		for i := 1; i <= totalPages; i++ {
			page := Paginate(table, i, size)
			for _, rec := range page.Data.Records {
				seen = append(seen, rec[0])
			}
		}
		assert.Len(t, seen, 37, "size=%d", size)
		for i, cell := range seen {
			n, err := strconv.Atoi(cell.String())
			assert.NoError(t, err)
			assert.Equal(t, i, n)
		}
	}
}
