package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiClient calls Gemini through the genai SDK with function calling.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Name returns the provider name.
func (g *GeminiClient) Name() string { return "gemini" }

// Complete sends a request to Gemini.
func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	contents, err := messagesToGenai(req.Messages)
	if err != nil {
		return nil, err
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, generateConfig(req))
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: g.Name(), Code: apiErr.Code, Message: apiErr.Message}
		}
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return genaiToCompletion(res, g.model, time.Since(start)), nil
}

func generateConfig(req CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: toolSchema(t.InputSchema),
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		if req.ToolChoice == ToolChoiceAny {
			cfg.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny},
			}
		}
	}
	return cfg
}

// messagesToGenai maps the transcript onto genai contents. Function
// responses need the function name, which only the originating call
// carries, so names are looked up by call id.
func messagesToGenai(msgs []Message) ([]*genai.Content, error) {
	names := make(map[string]string)
	var out []*genai.Content
	push := func(role genai.Role, parts ...*genai.Part) {
		if n := len(out); n > 0 && out[n-1].Role == string(role) {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleSystem:
			push(genai.RoleUser, genai.NewPartFromText(m.Content))
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if strings.TrimSpace(tc.Input) != "" {
					if err := json.Unmarshal([]byte(tc.Input), &args); err != nil {
						return nil, fmt.Errorf("decoding arguments of %s: %w", tc.Name, err)
					}
				}
				names[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				push(genai.RoleModel, parts...)
			}
		case RoleTool:
			name, ok := names[m.ToolCallID]
			if !ok {
				return nil, fmt.Errorf("tool result %q has no preceding call", m.ToolCallID)
			}
			push(genai.RoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     name,
				Response: map[string]any{"output": m.Content},
			}})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func genaiToCompletion(res *genai.GenerateContentResponse, model string, duration time.Duration) *CompletionResponse {
	out := &CompletionResponse{Model: model, Duration: duration}
	if len(res.Candidates) > 0 && res.Candidates[0].Content != nil {
		cand := res.Candidates[0]
		out.StopReason = string(cand.FinishReason)
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				id := p.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				input, err := json.Marshal(p.FunctionCall.Args)
				if err != nil || p.FunctionCall.Args == nil {
					input = []byte("{}")
				}
				out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: p.FunctionCall.Name, Input: string(input)})
			case p.Text != "" && !p.Thought:
				text.WriteString(p.Text)
			}
		}
		out.Content = text.String()
	}
	if res.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(res.UsageMetadata.PromptTokenCount),
			OutputTokens: int(res.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}
