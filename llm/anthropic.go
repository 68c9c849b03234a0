// Package llm provides generator implementations backed by hosted language
// model APIs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/deepnoodle-ai/docflow"
	"github.com/deepnoodle-ai/docflow/retry"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// AnthropicOptions configures an AnthropicGenerator.
type AnthropicOptions struct {
	// Model to use (defaults to DefaultModel)
	Model string

	// Max tokens for output
	MaxTokens int

	// Retry settings
	MaxRetries     int
	RetryBaseDelay time.Duration

	// API key (if empty, uses ANTHROPIC_API_KEY env)
	APIKey string
}

// AnthropicGenerator implements docflow.Generator on the Anthropic Messages
// API, including tool definitions and tool results.
type AnthropicGenerator struct {
	opts   AnthropicOptions
	client anthropic.Client
}

// NewAnthropicGenerator creates a generator client.
func NewAnthropicGenerator(opts AnthropicOptions) (*AnthropicGenerator, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("no API key: set ANTHROPIC_API_KEY or pass APIKey")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}

	return &AnthropicGenerator{
		opts:   opts,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Generate sends the request to the API with exponential-backoff retries and
// translates the response back into generator terms.
func (g *AnthropicGenerator) Generate(ctx context.Context, req *docflow.GenerateRequest) (*docflow.GenerateResponse, error) {
	var resp *docflow.GenerateResponse
	err := retry.Do(ctx, func() error {
		r, err := g.doRequest(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, retry.WithMaxRetries(g.opts.MaxRetries), retry.WithBaseWait(g.opts.RetryBaseDelay))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// doRequest performs a single API request.
func (g *AnthropicGenerator) doRequest(ctx context.Context, req *docflow.GenerateRequest) (*docflow.GenerateResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.opts.Model),
		MaxTokens: int64(g.opts.MaxTokens),
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("generate request: %w", err)
	}

	var text strings.Builder
	var calls []docflow.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			params := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &params); err != nil {
					return nil, fmt.Errorf("failed to decode tool input for %s: %w", block.Name, err)
				}
			}
			calls = append(calls, docflow.ToolCall{
				ID:     block.ID,
				Name:   block.Name,
				Params: params,
			})
		}
	}

	return &docflow.GenerateResponse{
		Content:   text.String(),
		ToolCalls: calls,
	}, nil
}

// buildMessages converts the conversation history to API message params.
// Consecutive tool results are folded into a single user message, matching
// the API's expectation that every tool_use is answered in the next turn.
func buildMessages(messages []docflow.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case docflow.RoleTool:
			pendingResults = append(pendingResults,
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, strings.HasPrefix(msg.Content, "Error: ")))
		case docflow.RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Params, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flushResults()
	return out
}

// buildTools converts tool definitions to API tool params.
func buildTools(defs []docflow.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		properties := map[string]any{}
		for name, typeName := range def.Parameters {
			properties[name] = map[string]any{
				"type": typeName,
			}
		}
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}
