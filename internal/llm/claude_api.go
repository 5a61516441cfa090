package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/mailroom/internal/version"
)

const (
	claudeEndpoint         = "https://api.anthropic.com/v1/messages"
	claudeVersion          = "2023-06-01"
	claudeDefaultMaxTokens = 4096
	claudeMaxResponse      = 8 << 20
)

// ClaudeAPIClient calls the Anthropic Messages API over plain HTTP.
type ClaudeAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func NewClaudeAPIClient(apiKey, model string) *ClaudeAPIClient {
	return &ClaudeAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: claudeEndpoint,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *ClaudeAPIClient) Name() string { return "claude" }

// Complete posts one Messages request. Non-200 answers become a
// *ProviderError carrying the status code.
func (c *ClaudeAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body, err := c.newRequest(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding claude request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building claude request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling claude: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, claudeMaxResponse))
	if err != nil {
		return nil, fmt.Errorf("reading claude response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: c.Name(), Code: resp.StatusCode, Message: claudeErrorMessage(respBody)}
	}
	return parseClaudeResponse(respBody, time.Since(start))
}

type claudeRequest struct {
	Model       string            `json:"model"`
	System      string            `json:"system,omitempty"`
	Messages    []claudeMessage   `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
	Tools       []claudeTool      `json:"tools,omitempty"`
	ToolChoice  *claudeToolChoice `json:"tool_choice,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeToolChoice struct {
	Type string `json:"type"`
}

func (c *ClaudeAPIClient) newRequest(req CompletionRequest) (*claudeRequest, error) {
	messages, err := messagesToClaude(req.Messages)
	if err != nil {
		return nil, err
	}
	out := &claudeRequest{
		Model:       c.model,
		System:      req.System,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = claudeDefaultMaxTokens
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, claudeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toolSchema(t.InputSchema),
		})
	}
	if len(out.Tools) > 0 && req.ToolChoice == ToolChoiceAny {
		out.ToolChoice = &claudeToolChoice{Type: "any"}
	}
	return out, nil
}

// toolSchema passes a valid JSON object schema through and replaces
// anything else with an empty object schema.
func toolSchema(schema string) json.RawMessage {
	trimmed := strings.TrimSpace(schema)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(`{"type":"object"}`)
}

type claudeMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

// messagesToClaude converts the transcript into Claude content blocks. Tool
// results travel as user turns, and consecutive turns of the same role are
// merged because the API requires strict user/assistant alternation.
func messagesToClaude(msgs []Message) ([]claudeMessage, error) {
	var out []claudeMessage
	push := func(role string, blocks ...claudeContentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, claudeMessage{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleSystem:
			push(RoleUser, claudeContentBlock{Type: "text", Text: m.Content})
		case RoleAssistant:
			var blocks []claudeContentBlock
			if m.Content != "" {
				blocks = append(blocks, claudeContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Input)
				if strings.TrimSpace(tc.Input) == "" {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, claudeContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, claudeContentBlock{Type: "text", Text: " "})
			}
			push(RoleAssistant, blocks...)
		case RoleTool:
			if m.ToolCallID == "" {
				return nil, fmt.Errorf("tool message without tool call id")
			}
			push(RoleUser, claudeContentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func parseClaudeResponse(data []byte, duration time.Duration) (*CompletionResponse, error) {
	var resp claudeAPIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Type == "error" {
		return nil, &ProviderError{Provider: "claude", Message: resp.Error.Message}
	}

	var content strings.Builder
	var toolCalls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			input := string(block.Input)
			if input == "" || input == "null" {
				input = "{}"
			}
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: resp.StopReason,
		ToolCalls:  toolCalls,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Model:    resp.Model,
		Duration: duration,
	}, nil
}

func claudeErrorMessage(body []byte) string {
	var env claudeAPIResponse
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Type + ": " + env.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

// API response structures

type claudeAPIResponse struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Role       string               `json:"role"`
	Content    []claudeContentBlock `json:"content"`
	Model      string               `json:"model"`
	StopReason string               `json:"stop_reason"`
	Usage      claudeUsage          `json:"usage"`
	Error      claudeError          `json:"error"`
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
