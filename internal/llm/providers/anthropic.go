// Package providers implements model-vendor adapters for the LLM
// client.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sys3222/akshare-mcp-adapter/internal/llm"
)

const anthropicVersion = "2023-06-01"

// Anthropic implements llm.Provider for the Anthropic Messages API,
// including tool_use / tool_result blocks for the dispatcher's
// tool-call loop.
type Anthropic struct{}

func init() {
	llm.RegisterProvider(&Anthropic{})
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/messages"
}

func (a *Anthropic) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Tools     []anthropicToolSpec `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string        `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is a union of text / tool_use / tool_result content
// blocks; only the fields relevant to the block's Type are populated.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func (a *Anthropic) BuildRequestBody(model string, messages []llm.Message, tools []llm.ToolDefinition, maxTokens int) ([]byte, error) {
	var system string
	var apiMessages []anthropicMessage

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "tool":
			apiMessages = append(apiMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case "assistant":
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input, _ := json.Marshal(tc.Arguments)
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			apiMessages = append(apiMessages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			apiMessages = append(apiMessages, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	if maxTokens <= 0 {
		maxTokens = 4096
	}

	apiTools := make([]anthropicToolSpec, 0, len(tools))
	for _, t := range tools {
		apiTools = append(apiTools, anthropicToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	req := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  apiMessages,
		Tools:     apiTools,
	}
	return json.Marshal(req)
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

func (a *Anthropic) ParseResponse(body []byte) (*llm.Response, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var text strings.Builder
	var calls []llm.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var args map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("parse tool_use input: %w", err)
				}
			}
			calls = append(calls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	return &llm.Response{
		Content:      text.String(),
		ToolCalls:    calls,
		FinishReason: resp.StopReason,
	}, nil
}
