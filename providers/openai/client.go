// Package openai is a thin Responses-style HTTP adapter implementing
// llm.Model. It maps the engine's canonical item shapes onto the wire and
// normalizes provider payloads back at the boundary.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loopworks/agentrun/llm"
	"github.com/loopworks/agentrun/types"
)

const defaultModel = "gpt-4o-mini"

type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: "https://api.openai.com",
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return "openai/" + c.model }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Tools:               true,
		Streaming:           false,
		StructuredOutput:    true,
		ServerConversations: true,
	}
}

type apiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type apiTextFormat struct {
	Format apiSchemaFormat `json:"format"`
}

type apiSchemaFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type apiRequest struct {
	Model              string               `json:"model"`
	Instructions       string               `json:"instructions,omitempty"`
	Input              []types.ProtocolItem `json:"input"`
	Tools              []apiTool            `json:"tools,omitempty"`
	ToolChoice         string               `json:"tool_choice,omitempty"`
	Text               *apiTextFormat       `json:"text,omitempty"`
	Conversation       string               `json:"conversation,omitempty"`
	PreviousResponseID string               `json:"previous_response_id,omitempty"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	ID     string            `json:"id"`
	Output []json.RawMessage `json:"output"`
	Usage  apiUsage          `json:"usage"`
	Error  *apiError         `json:"error,omitempty"`
}

func (c *Client) Call(ctx context.Context, req types.ModelRequest) (types.ModelResponse, error) {
	payload := apiRequest{
		Model:              c.model,
		Instructions:       req.SystemInstructions,
		Input:              req.Input,
		Conversation:       req.ConversationID,
		PreviousResponseID: req.PreviousResponseID,
	}
	if req.DisableTools {
		payload.ToolChoice = "none"
	} else {
		payload.Tools = toAPITools(req.Tools, req.Handoffs)
		if len(payload.Tools) > 0 {
			payload.ToolChoice = "auto"
		}
		if req.OutputSchema != nil {
			payload.Text = &apiTextFormat{Format: apiSchemaFormat{
				Type:   "json_schema",
				Name:   "final_result",
				Schema: req.OutputSchema,
			}}
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return types.ModelResponse{}, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(raw))
	if err != nil {
		return types.ModelResponse{}, fmt.Errorf("failed to create openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.ModelResponse{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ModelResponse{}, fmt.Errorf("failed to read openai response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if isConversationLocked(resp.StatusCode, body) {
			return types.ModelResponse{}, fmt.Errorf("openai conversation conflict: %w", llm.ErrConversationLocked)
		}
		return types.ModelResponse{}, fmt.Errorf("openai API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return types.ModelResponse{}, fmt.Errorf("failed to decode openai response: %w", err)
	}
	if apiResp.Error != nil {
		return types.ModelResponse{}, fmt.Errorf("openai API error: %s (%s)", apiResp.Error.Message, apiResp.Error.Code)
	}

	out := types.ModelResponse{
		ResponseID: apiResp.ID,
		Usage: types.Usage{
			Requests:     1,
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}
	for _, rawItem := range apiResp.Output {
		out.Output = append(out.Output, types.DecodeProtocolItem(rawItem))
	}
	return out, nil
}

func toAPITools(defs, handoffs []types.ToolDefinition) []apiTool {
	out := make([]apiTool, 0, len(defs)+len(handoffs))
	for _, def := range append(append([]types.ToolDefinition{}, defs...), handoffs...) {
		params := def.JSONSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, apiTool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return out
}

// isConversationLocked detects the transient conflict the runner retries
// once: a 409, or an explicit conversation-lock error code.
func isConversationLocked(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	var wrapper struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return false
	}
	return wrapper.Error.Code == "conversation_locked"
}
