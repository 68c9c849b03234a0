package docflow

import (
	"context"
	"strings"
)

// Message roles in the generator transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the drafting conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that invoke tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a tool invocation requested by the generator.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolDefinition advertises a tool to the generator. Parameters maps
// parameter names to JSON schema type names; all parameters are required.
type ToolDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// GenerateRequest is one drafting turn sent to the generator.
type GenerateRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// GenerateResponse is the generator's reply.
type GenerateResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Generator produces draft content. Implementations call a language model;
// tests substitute scripted generators.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

func (f GeneratorFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

// maxPendingQuestionLength caps a question extracted from generator content.
const maxPendingQuestionLength = 500

// Phrases in generator content that signal the draft is finished. Only
// checked when the response makes no tool calls.
var completionPhrases = []string{
	"finished",
	"complete",
	"generation complete",
	"i have finished",
	"done.",
}

// Phrases that signal the generator wants user input.
var interruptKeywords = []string{
	"missing file",
	"external reference",
	"need user",
	"ask the user",
	"ask user",
}

// IsCompletion reports whether a response with no tool calls declares the
// draft done.
func IsCompletion(resp *GenerateResponse) bool {
	if len(resp.ToolCalls) > 0 {
		return false
	}
	content := strings.ToLower(strings.TrimSpace(resp.Content))
	for _, phrase := range completionPhrases {
		if strings.Contains(content, phrase) {
			return true
		}
	}
	return false
}

// ExtractPendingQuestion returns a short question when the response content
// suggests the generator needs user input, or "".
func ExtractPendingQuestion(resp *GenerateResponse) string {
	content := strings.TrimSpace(resp.Content)
	lower := strings.ToLower(content)
	for _, keyword := range interruptKeywords {
		if strings.Contains(lower, keyword) {
			if len(content) > maxPendingQuestionLength {
				return content[:maxPendingQuestionLength]
			}
			return content
		}
	}
	return ""
}
