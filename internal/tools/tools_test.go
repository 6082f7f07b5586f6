package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sys3222/akshare-mcp-adapter/internal/cache"
	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/files"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
	"github.com/sys3222/akshare-mcp-adapter/internal/upstream"
)

type stubFetcher struct{}

func (stubFetcher) Call(ctx context.Context, interfaceName string, params map[string]string) (*model.Table, error) {
	table := model.NewTable([]string{"symbol"})
	table.AddRecord([]model.Cell{model.StringCell(params["symbol"])})
	return table, nil
}

func newTestRegistry(t *testing.T) (*Registry, *files.Store) {
	catalogPath := filepath.Join(t.TempDir(), "catalog.json")
	catalog := `{"categories":[{"name":"stock","interfaces":[{"name":"stock_zh_a_hist","description":"d"}]}]}`
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalog), 0o644))
	upReg, err := upstream.LoadRegistry(catalogPath)
	require.NoError(t, err)

	dataCache, err := cache.New(t.TempDir(), stubFetcher{})
	require.NoError(t, err)

	fileStore := files.New(t.TempDir())

	return NewRegistry(Deps{Cache: dataCache, Registry: upReg, FileStore: fileStore}), fileStore
}

func TestInvoke_UnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Invoke(context.Background(), "does_not_exist", Caller{Username: "alice"}, nil)
	require.Error(t, err)
	assert.Equal(t, errs.UnknownInterface, errs.KindOf(err))
}

func TestInvoke_RejectsArgsFailingSchema(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Invoke(context.Background(), "fetch_market_data", Caller{Username: "alice"}, map[string]interface{}{
		"interface": "stock_zh_a_hist",
		// missing required "params"
	})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidParameters, errs.KindOf(err))
}

func TestInvoke_FetchMarketData(t *testing.T) {
	r, _ := newTestRegistry(t)
	result, err := r.Invoke(context.Background(), "fetch_market_data", Caller{Username: "alice"}, map[string]interface{}{
		"interface": "stock_zh_a_hist",
		"params":    map[string]interface{}{"symbol": "000001"},
	})
	require.NoError(t, err)

	b, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(b), "000001")
}

func TestInvoke_ListMyFilesScopedToCaller(t *testing.T) {
	r, fileStore := newTestRegistry(t)
	require.NoError(t, fileStore.Upload(context.Background(), "alice", "a.csv", strings.NewReader("x\n1\n")))

	result, err := r.Invoke(context.Background(), "list_my_files", Caller{Username: "alice"}, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv"}, result)

	result, err = r.Invoke(context.Background(), "list_my_files", Caller{Username: "bob"}, map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestDescriptors_StableOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	first := r.Descriptors()
	second := r.Descriptors()
	require.Len(t, first, len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}
}
