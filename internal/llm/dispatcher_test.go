package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sys3222/akshare-mcp-adapter/internal/cache"
	"github.com/sys3222/akshare-mcp-adapter/internal/files"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
	"github.com/sys3222/akshare-mcp-adapter/internal/tools"
	"github.com/sys3222/akshare-mcp-adapter/internal/upstream"
)

type dispatcherFetcher struct{}

func (dispatcherFetcher) Call(ctx context.Context, interfaceName string, params map[string]string) (*model.Table, error) {
	table := model.NewTable([]string{"symbol"})
	table.AddRecord([]model.Cell{model.StringCell(params["symbol"])})
	return table, nil
}

func newTestToolRegistry(t *testing.T) *tools.Registry {
	catalogPath := filepath.Join(t.TempDir(), "catalog.json")
	catalog := `{"categories":[{"name":"stock","interfaces":[{"name":"stock_zh_a_hist","description":"d"},{"name":"index_zh_a_hist","description":"d"}]}]}`
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalog), 0o644))
	upReg, err := upstream.LoadRegistry(catalogPath)
	require.NoError(t, err)

	dataCache, err := cache.New(t.TempDir(), dispatcherFetcher{})
	require.NoError(t, err)

	fileStore := files.New(t.TempDir())

	return tools.NewRegistry(tools.Deps{Cache: dataCache, Registry: upReg, FileStore: fileStore})
}

func newTestDispatcher(t *testing.T, baseURL string, maxTurns int) *Dispatcher {
	client := NewClient(stubProvider{}, baseURL, "", "test-model")
	client.retry.MaxAttempts = 1
	client.retry.BackoffBase = time.Millisecond
	return NewDispatcher(client, newTestToolRegistry(t), maxTurns, 2*time.Second)
}

func TestAnalyze_ForceFallbackNeverCallsModel(t *testing.T) {
	d := newTestDispatcher(t, "http://model-must-not-be-reached.invalid", 6)
	env, err := d.Analyze(context.Background(), "帮我看看大盘走势", tools.Caller{Username: "alice"}, true)
	require.NoError(t, err)
	assert.Contains(t, env.Summary, "index_zh_a_hist")
	assert.Nil(t, env.RiskLevel)
	assert.Nil(t, env.Confidence)
}

func TestAnalyze_FallbackExtractsStockCodeFromPrompt(t *testing.T) {
	d := newTestDispatcher(t, "http://model-must-not-be-reached.invalid", 6)
	env, err := d.Analyze(context.Background(), "请分析一下000002最近的表现", tools.Caller{Username: "alice"}, true)
	require.NoError(t, err)
	assert.Contains(t, env.Summary, "stock_zh_a_hist")
}

func TestAnalyze_ToolCallThenFinalAnswer(t *testing.T) {
	toolCallBody := `{"tool_calls":[{"id":"call-1","name":"fetch_market_data","arguments":{"interface":"stock_zh_a_hist","params":{"symbol":"000001"}}}]}`
	finalText := "最终结论：\n```json\n" +
		`{"summary":"数据显示走势平稳","insights":["成交量稳定"],"recommendations":["持续关注"],"risk_level":"低风险","confidence":0.6}` +
		"\n```"
	finalBody, err := json.Marshal(map[string]string{"content": finalText})
	require.NoError(t, err)
	srv, calls := newStubServer(t, []int{http.StatusOK, http.StatusOK}, []string{toolCallBody, string(finalBody)})

	d := newTestDispatcher(t, srv.URL, 6)
	env, err := d.Analyze(context.Background(), "分析一下000001", tools.Caller{Username: "alice"}, false)
	require.NoError(t, err)

	assert.EqualValues(t, 2, *calls)
	assert.Equal(t, "数据显示走势平稳", env.Summary)
	require.NotNil(t, env.RiskLevel)
	assert.Equal(t, model.RiskLow, *env.RiskLevel)
}

func TestAnalyze_DegradesWhenModelUnreachable(t *testing.T) {
	srv, _ := newStubServer(t, []int{http.StatusInternalServerError}, []string{`{}`})

	d := newTestDispatcher(t, srv.URL, 6)
	env, err := d.Analyze(context.Background(), "分析一下000001", tools.Caller{Username: "alice"}, false)
	require.NoError(t, err)
	assert.Contains(t, env.Summary, "降级分析模式")
}

func TestAnalyze_TurnBudgetExhaustionDegrades(t *testing.T) {
	// The model keeps issuing tool calls and never produces a final
	// answer; the dispatcher must stop after maxTurns and degrade
	// rather than loop forever.
	toolCallBody := `{"tool_calls":[{"id":"call-1","name":"describe_interfaces","arguments":{}}]}`
	srv, calls := newStubServer(t, []int{http.StatusOK}, []string{toolCallBody})

	const maxTurns = 3
	d := newTestDispatcher(t, srv.URL, maxTurns)
	env, err := d.Analyze(context.Background(), "分析一下000001", tools.Caller{Username: "alice"}, false)
	require.NoError(t, err)
	assert.Contains(t, env.Summary, "降级分析模式")
	assert.EqualValues(t, maxTurns, *calls)
}

func TestAnalyze_WallClockExhaustionDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":"too late"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(stubProvider{}, srv.URL, "", "test-model")
	client.retry.MaxAttempts = 1
	d := NewDispatcher(client, newTestToolRegistry(t), 6, 20*time.Millisecond)

	env, err := d.Analyze(context.Background(), "分析一下000001", tools.Caller{Username: "alice"}, false)
	require.NoError(t, err)
	assert.Contains(t, env.Summary, "降级分析模式")
}

func TestDispatchToolCalls_PreservesEmissionOrder(t *testing.T) {
	d := &Dispatcher{tools: newTestToolRegistry(t)}
	calls := []ToolCall{
		{ID: "a", Name: "list_my_files", Arguments: map[string]interface{}{}},
		{ID: "b", Name: "list_my_files", Arguments: map[string]interface{}{}},
		{ID: "c", Name: "list_my_files", Arguments: map[string]interface{}{}},
	}
	results := d.dispatchToolCalls(context.Background(), calls, tools.Caller{Username: "alice"})
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, calls[i].ID, r.id)
	}
}
