package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
	"github.com/sys3222/akshare-mcp-adapter/internal/tools"
	"github.com/sys3222/akshare-mcp-adapter/pkg/logging"
)

const systemPreamble = `You are a financial-data analysis assistant. You may call the provided tools ` +
	`to fetch market data, list or read the caller's uploaded files, or discover available upstream ` +
	`interfaces before answering. When you have enough information, respond with a final answer whose ` +
	`last part is a fenced JSON block shaped like {"summary":"...","insights":["..."],` +
	`"recommendations":["..."],"risk_level":"低风险|中等风险|高风险","confidence":0.0}. Be cautious ` +
	`about investment advice and risk statements.`

// Dispatcher drives the model/tool-call state machine described in C9:
// AwaitingModel -> ExecutingTools -> (AwaitingModel | Done | Degraded).
type Dispatcher struct {
	client    *Client
	tools     *tools.Registry
	maxTurns  int
	wallClock time.Duration
	logger    *logging.Logger
}

// NewDispatcher builds a Dispatcher. maxTurns defaults to 6, wallClock
// to 60s, matching the spec's N_max / T_llm defaults.
func NewDispatcher(client *Client, toolRegistry *tools.Registry, maxTurns int, wallClock time.Duration) *Dispatcher {
	if maxTurns <= 0 {
		maxTurns = 6
	}
	if wallClock <= 0 {
		wallClock = 60 * time.Second
	}
	return &Dispatcher{
		client:    client,
		tools:     toolRegistry,
		maxTurns:  maxTurns,
		wallClock: wallClock,
		logger:    logging.Default("llm-dispatcher"),
	}
}

// Analyze implements analyze(prompt, caller) -> AnalysisEnvelope. When
// forceFallback is set the model is never consulted; the rule-based
// analyzer runs directly.
func (d *Dispatcher) Analyze(ctx context.Context, prompt string, caller tools.Caller, forceFallback bool) (*model.AnalysisEnvelope, error) {
	if forceFallback {
		return d.fallback(ctx, prompt, caller), nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.wallClock)
	defer cancel()

	history := []Message{
		{Role: "system", Content: systemPreamble},
		{Role: "user", Content: prompt},
	}
	toolDefs := d.toolDefinitions()

	for turn := 1; turn <= d.maxTurns; turn++ {
		resp, err := d.client.Complete(ctx, history, toolDefs)
		if err != nil {
			d.logger.WithError(err).Warn("model unreachable, degrading to fallback analyzer")
			return d.fallback(ctx, prompt, caller), nil
		}

		if len(resp.ToolCalls) == 0 {
			return synthesize(resp.Content, prompt), nil
		}

		history = append(history, Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		results := d.dispatchToolCalls(ctx, resp.ToolCalls, caller)
		for _, r := range results {
			history = append(history, Message{Role: "tool", ToolCallID: r.id, Content: r.payload})
		}
	}

	d.logger.Warn("turn budget exhausted without a final answer, degrading to fallback analyzer")
	return d.fallback(ctx, prompt, caller), nil
}

type toolResult struct {
	index   int
	id      string
	payload string
}

// dispatchToolCalls executes a model turn's tool-call batch
// concurrently, then returns the results ordered by emission index so
// the appended history is deterministic regardless of which call
// finishes first.
func (d *Dispatcher) dispatchToolCalls(ctx context.Context, calls []ToolCall, caller tools.Caller) []toolResult {
	results := make([]toolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			payload := d.runOneTool(ctx, call, caller)
			results[i] = toolResult{index: i, id: call.ID, payload: payload}
		}(i, call)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	return results
}

func (d *Dispatcher) runOneTool(ctx context.Context, call ToolCall, caller tools.Caller) string {
	result, err := d.tools.Invoke(ctx, call.Name, caller, call.Arguments)
	if err != nil {
		errPayload, _ := json.Marshal(map[string]string{
			"error": errs.Message(err),
			"kind":  string(errs.KindOf(err)),
		})
		return string(errPayload)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, "failed to serialize tool result")
	}
	return string(payload)
}

func (d *Dispatcher) toolDefinitions() []ToolDefinition {
	descriptors := d.tools.Descriptors()
	defs := make([]ToolDefinition, 0, len(descriptors))
	for _, desc := range descriptors {
		defs = append(defs, ToolDefinition{
			Name:        desc.Name,
			Description: desc.HumanDescription,
			Parameters:  desc.ParameterSchema,
		})
	}
	return defs
}

// stockCodeRe matches a bare 6-digit A-share ticker in free text.
var stockCodeRe = regexp.MustCompile(`\b([0-9]{6})\b`)

// defaultFallbackInterface and defaultFallbackSymbol implement the
// resolved open question: when the prompt contains no recognizable
// stock code, the degraded analyzer queries the broad index rather
// than failing outright.
const (
	defaultFallbackInterface = "index_zh_a_hist"
	defaultFallbackSymbol    = "000001"
)

// fallback implements the degraded rule-based analyzer: regex-extract
// a stock code, pull one page of the corresponding dataset, and return
// a templated envelope with confidence left unset.
func (d *Dispatcher) fallback(ctx context.Context, prompt string, caller tools.Caller) *model.AnalysisEnvelope {
	iface := defaultFallbackInterface
	params := map[string]interface{}{"symbol": defaultFallbackSymbol}
	if m := stockCodeRe.FindStringSubmatch(prompt); m != nil {
		iface = "stock_zh_a_hist"
		params = map[string]interface{}{
			"symbol":     m[1],
			"period":     "daily",
			"start_date": "20240101",
			"end_date":   "20241231",
		}
	}

	summary := fmt.Sprintf("模型服务当前不可用，已切换至降级分析模式，基于接口 %s 提供的有限数据生成本摘要。", iface)
	insights := []string{}
	if _, err := d.tools.Invoke(ctx, "fetch_market_data", caller, map[string]interface{}{
		"interface": iface,
		"params":    params,
		"page":      float64(1),
		"page_size": float64(20),
	}); err == nil {
		insights = append(insights, fmt.Sprintf("已成功拉取接口 %s 的数据用于参考。", iface))
	} else {
		insights = append(insights, "数据拉取失败，本次分析仅基于降级模板。")
	}

	return &model.AnalysisEnvelope{
		Summary:         summary,
		Insights:        insights,
		Recommendations: []string{"模型不可用期间的结论仅供参考，请在模型恢复后重新分析。"},
		RiskLevel:       nil,
		Confidence:      nil,
		Raw:             "",
	}
}
