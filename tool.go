package docflow

import (
	"context"
	"fmt"
)

// Tool represents an action the generator may invoke during drafting.
type Tool interface {

	// Name returns the name of the Tool
	Name() string

	// Description explains the tool to the generator.
	Description() string

	// Execute the Tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// ToolRegistry is a map of tool names to tools
type ToolRegistry map[string]Tool

// NewToolRegistry builds a registry from a list of tools.
func NewToolRegistry(tools ...Tool) ToolRegistry {
	registry := make(ToolRegistry, len(tools))
	for _, tool := range tools {
		registry[tool.Name()] = tool
	}
	return registry
}

// Definitions returns the tool definitions to advertise to the generator.
func (r ToolRegistry) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, tool := range r {
		def := ToolDefinition{Name: tool.Name(), Description: tool.Description()}
		if fn, ok := tool.(*ToolFunction); ok {
			def.Parameters = fn.parameters
		}
		defs = append(defs, def)
	}
	return defs
}

// ToolFunction is a function that can be used as a tool
type ToolFunction struct {
	name        string
	description string
	parameters  map[string]string
	fn          func(ctx context.Context, params map[string]any) (string, error)
}

// NewToolFunction creates a new ToolFunction. Parameters maps parameter
// names to JSON schema type names.
func NewToolFunction(
	name, description string,
	parameters map[string]string,
	fn func(ctx context.Context, params map[string]any) (string, error),
) *ToolFunction {
	return &ToolFunction{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

func (t *ToolFunction) Name() string {
	return t.name
}

func (t *ToolFunction) Description() string {
	return t.description
}

func (t *ToolFunction) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.fn(ctx, params)
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, name string) (string, error) {
	value, ok := params[name]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", name)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", name)
	}
	return s, nil
}

// intParam extracts a required integer parameter, accepting the float64 that
// JSON decoding produces.
func intParam(params map[string]any, name string) (int, error) {
	value, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %q must be an integer", name)
	}
}
