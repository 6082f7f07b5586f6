package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sys3222/akshare-mcp-adapter/internal/model"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// synthesize turns a model's final prose answer into an AnalysisEnvelope.
// It tries structured extraction first (a fenced JSON block matching the
// envelope shape); on failure it falls back to heuristic section
// extraction keyed on Chinese section headings.
func synthesize(text, originalQuery string) *model.AnalysisEnvelope {
	if env := tryParseFencedJSON(text); env != nil {
		env.Raw = text
		return env
	}
	return heuristicParse(text)
}

func tryParseFencedJSON(text string) *model.AnalysisEnvelope {
	m := fencedJSONRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var raw struct {
		Summary         string   `json:"summary"`
		Insights        []string `json:"insights"`
		Recommendations []string `json:"recommendations"`
		RiskLevel       string   `json:"risk_level"`
		Confidence      *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(m[1]), &raw); err != nil {
		return nil
	}
	if raw.Summary == "" {
		return nil
	}
	env := &model.AnalysisEnvelope{
		Summary:         raw.Summary,
		Insights:        raw.Insights,
		Recommendations: raw.Recommendations,
		Confidence:      raw.Confidence,
	}
	if rl := normalizeRiskLevel(raw.RiskLevel); rl != "" {
		env.RiskLevel = &rl
	}
	return env
}

// heuristicParse mirrors the source's line-scanning fallback: headings
// containing 分析/洞察/发现 open an insights section, 建议/推荐/策略
// open a recommendations section, and any line mentioning 风险 sets the
// risk level (高风险/低风险/otherwise 中等风险). Bulleted lines under an
// open section are collected; absent any structure, the whole response
// becomes the summary.
func heuristicParse(text string) *model.AnalysisEnvelope {
	var insights, recommendations []string
	riskLevel := model.RiskMedium
	sawRiskMention := false
	section := ""

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		switch {
		case containsAny(line, "分析", "洞察", "发现"):
			section = "insights"
		case containsAny(line, "建议", "推荐", "策略"):
			section = "recommendations"
		case containsAny(line, "风险"):
			sawRiskMention = true
			switch {
			case strings.Contains(line, "高风险"):
				riskLevel = model.RiskHigh
			case strings.Contains(line, "低风险"):
				riskLevel = model.RiskLow
			default:
				riskLevel = model.RiskMedium
			}
		}

		if content := bulletContent(line); content != "" {
			switch section {
			case "insights":
				insights = append(insights, content)
			case "recommendations":
				recommendations = append(recommendations, content)
			}
		}
	}

	summary := text
	if len(summary) > 300 {
		summary = summary[:300] + "..."
	}
	if len(insights) == 0 && len(recommendations) == 0 {
		snippet := text
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		insights = []string{snippet}
	}

	env := &model.AnalysisEnvelope{
		Summary:         summary,
		Insights:        capAt(insights, 5),
		Recommendations: capAt(recommendations, 5),
		Raw:             text,
	}
	if sawRiskMention {
		env.RiskLevel = &riskLevel
	}
	return env
}

var bulletRe = regexp.MustCompile(`^[•\-*]\s*|^\d+\.\s*`)

func bulletContent(line string) string {
	if !bulletRe.MatchString(line) {
		return ""
	}
	return strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func capAt(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func normalizeRiskLevel(s string) model.RiskLevel {
	switch model.RiskLevel(s) {
	case model.RiskLow, model.RiskMedium, model.RiskHigh:
		return model.RiskLevel(s)
	default:
		return ""
	}
}
