package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/daneel/olivaw/pkg/chat"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements ModelClient against the Anthropic API.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient builds an Anthropic transport. It is the default
// TransportFactory for the "anthropic" provider entry.
func NewAnthropicClient(opts TransportOptions) (ModelClient, error) {
	requestOpts := []option.RequestOption{}
	if opts.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &AnthropicClient{client: anthropic.NewClient(requestOpts...)}, nil
}

// ProviderID returns the provider name.
func (c *AnthropicClient) ProviderID() string {
	return "anthropic"
}

// Complete makes one completion call.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch {
		case msg.Role == chat.RoleSystem:
			// System content travels in the request's System field.
			continue

		case msg.Role == chat.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false),
			))

		case msg.Role == chat.RoleAssistant && len(msg.ToolCalls) > 0:
			blocks := []anthropic.ContentBlockParamUnion{}
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case msg.Role == chat.RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Text()),
				},
			})

		default:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Text()),
			))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
			}
			if tool.InputSchema != nil {
				toolParam.InputSchema = anthropic.ToolInputSchemaParam{
					Properties: tool.InputSchema["properties"],
				}
				if required, ok := tool.InputSchema["required"].([]string); ok {
					toolParam.InputSchema.Required = required
				} else if required, ok := tool.InputSchema["required"].([]any); ok {
					names := make([]string, 0, len(required))
					for _, v := range required {
						if s, ok := v.(string); ok {
							names = append(names, s)
						}
					}
					toolParam.InputSchema.Required = names
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	content := ""
	toolCalls := []chat.ToolCall{}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
			toolCalls = append(toolCalls, chat.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return &CompletionResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: anthropicFinishReason(string(response.StopReason)),
		Usage: Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

func anthropicFinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence", "":
		return FinishStop
	default:
		// tool_use, max_tokens etc. pass through as provider values.
		return stopReason
	}
}
