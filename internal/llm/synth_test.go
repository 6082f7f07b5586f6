package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sys3222/akshare-mcp-adapter/internal/model"
)

func TestSynthesize_ParsesFencedJSONEnvelope(t *testing.T) {
	text := "这是我的分析：\n```json\n" +
		`{"summary":"股价趋势向好","insights":["成交量放大"],"recommendations":["关注回调"],"risk_level":"中等风险","confidence":0.7}` +
		"\n```\n"

	env := synthesize(text, "分析一下000001")
	require.NotNil(t, env)
	assert.Equal(t, "股价趋势向好", env.Summary)
	assert.Equal(t, []string{"成交量放大"}, env.Insights)
	assert.Equal(t, []string{"关注回调"}, env.Recommendations)
	require.NotNil(t, env.RiskLevel)
	assert.Equal(t, model.RiskMedium, *env.RiskLevel)
	require.NotNil(t, env.Confidence)
	assert.InDelta(t, 0.7, *env.Confidence, 0.0001)
	assert.Equal(t, text, env.Raw)
}

func TestSynthesize_FencedJSONMissingSummaryFallsBackToHeuristic(t *testing.T) {
	text := "```json\n{\"insights\":[\"x\"]}\n```"
	env := synthesize(text, "q")
	require.NotNil(t, env)
	// No recognizable summary field in the fenced block, so the
	// heuristic line-scanner runs instead and the whole text becomes
	// the summary.
	assert.Equal(t, text, env.Summary)
}

func TestHeuristicParse_ExtractsInsightsAndRecommendations(t *testing.T) {
	text := "分析：\n- 成交量持续放大\n- 均线多头排列\n建议：\n- 逢低布局\n风险提示：高风险品种，注意仓位"
	env := heuristicParse(text)
	require.NotNil(t, env)
	assert.Equal(t, []string{"成交量持续放大", "均线多头排列"}, env.Insights)
	assert.Equal(t, []string{"逢低布局"}, env.Recommendations)
	require.NotNil(t, env.RiskLevel)
	assert.Equal(t, model.RiskHigh, *env.RiskLevel)
}

func TestHeuristicParse_NoRiskMentionLeavesRiskLevelNil(t *testing.T) {
	env := heuristicParse("分析：\n- 价格平稳")
	assert.Nil(t, env.RiskLevel)
}

func TestHeuristicParse_NoStructureFallsBackToSnippetInsight(t *testing.T) {
	env := heuristicParse("市场今天表现平淡，没有明显信号。")
	require.Len(t, env.Insights, 1)
	assert.Contains(t, env.Insights[0], "市场今天表现平淡")
}

func TestHeuristicParse_SummaryTruncatesAt300Bytes(t *testing.T) {
	// Each "测" is 3 bytes in UTF-8, so 400 of them is 1200 bytes; the
	// truncation operates on bytes, landing on a clean rune boundary
	// here (300 / 3 == 100).
	text := strings.Repeat("测", 400)
	env := heuristicParse(text)
	assert.True(t, strings.HasSuffix(env.Summary, "..."))
	assert.Equal(t, 303, len(env.Summary))
	assert.Equal(t, 103, len([]rune(env.Summary)))
}

func TestHeuristicParse_CapsListsAtFive(t *testing.T) {
	var b strings.Builder
	b.WriteString("分析：\n")
	for i := 0; i < 8; i++ {
		b.WriteString("- 要点\n")
	}
	env := heuristicParse(b.String())
	assert.Len(t, env.Insights, 5)
}

func TestNormalizeRiskLevel_RejectsUnknownStrings(t *testing.T) {
	assert.Equal(t, model.RiskLevel(""), normalizeRiskLevel("not-a-level"))
	assert.Equal(t, model.RiskLow, normalizeRiskLevel(string(model.RiskLow)))
}
