// Package tools implements the function-calling tools the Brain loop can
// invoke, grounded on the original Python project's BaseTool/ToolInfo
// contract (tank/backend/src/tank_backend/tools/base.py) and its
// CalculatorTool (tools/calculator.py), ported into an idiomatic Go
// interface + JSON-Schema parameter description the way
// freespace8-agentsdk-go's ToolCall models tool invocations.
package tools

import (
	"context"
	"encoding/json"
)

// Parameter describes one named argument a Tool accepts.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Info is the tool's function-calling schema, sent to the LLM adapter so
// it can be offered to the model as a callable function.
type Info struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Tool is one function the LLM can call mid-turn.
type Tool interface {
	Info() Info
	Execute(ctx context.Context, argumentsJSON string) (string, error)
}

// Registry holds the tools available to a session, gated on credentials
// (spec §4.6: tools requiring an API key are omitted when unconfigured).
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, keyed by its Info().Name.
func (r *Registry) Register(t Tool) {
	name := t.Info().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool's Info, in registration order, for
// handing to the LLM adapter as the available function set.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Info())
	}
	return out
}

// Execute runs the named tool with a JSON-encoded arguments object,
// returning a JSON-encoded result string suitable for a ToolResult
// history item. Unknown tool names produce an error result rather than
// failing the turn, matching the original project's tolerant tool
// executor.
func (r *Registry) Execute(ctx context.Context, name, argumentsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return encodeError(name, "unknown tool"), nil
	}
	result, err := t.Execute(ctx, argumentsJSON)
	if err != nil {
		return encodeError(name, err.Error()), nil
	}
	return result, nil
}

func encodeError(name, message string) string {
	data, _ := json.Marshal(map[string]string{"tool": name, "error": message})
	return string(data)
}
