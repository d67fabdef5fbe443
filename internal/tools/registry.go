// Package tools implements the orchestrator's tool registry and the
// built-in tools for agent-session control, file I/O and semantic
// search.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes a tool call. Input has already been filtered to the
// parameters the tool's schema declares. The returned string is the
// tool result; errors are converted to {"error": ...} results by the
// registry.
type Handler func(ctx context.Context, tc *Context, input map[string]any) (string, error)

// Tool is one registered tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// Registry maps tool names to handlers and renders definitions for the
// text and voice providers.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. The input schema is compiled once for
// validation; a schema that fails to compile disables validation for
// that tool but keeps it callable.
func (r *Registry) Register(name, description string, inputSchema map[string]any, handler Handler) {
	t := &Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		Handler:     handler,
	}
	if compiled, err := compileSchema(name, inputSchema); err != nil {
		slog.Warn("tool schema did not compile, skipping validation", "tool", name, "err", err)
	} else {
		t.compiled = compiled
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "tool:///" + name + ".json"
	if err := c.AddResource(url, bytesReader(data)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Definitions renders the registry in the Anthropic tool dialect.
func (r *Registry) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.InputSchema,
		})
	}
	return defs
}

// OpenAIDefinitions renders the registry in the Realtime-API function
// dialect used by the voice provider.
func (r *Registry) OpenAIDefinitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.InputSchema,
		})
	}
	return defs
}

// Execute runs a tool by name. It never returns a Go error: every
// failure mode becomes an {"error": ...} JSON result so the model can
// read it.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, tc *Context) string {
	t, ok := r.tools[name]
	if !ok {
		return errorResult(fmt.Sprintf("Unknown tool: %s", name))
	}
	if input == nil {
		input = map[string]any{}
	}

	filtered := filterInput(t.InputSchema, input)

	if t.compiled != nil {
		if err := t.compiled.Validate(toValidatable(filtered)); err != nil {
			return errorResult(fmt.Sprintf("Invalid input for %s: %v", name, err))
		}
	}

	result, err := t.Handler(ctx, tc, filtered)
	if err != nil {
		slog.Error("tool failed", "tool", name, "err", err)
		return errorResult(err.Error())
	}
	return result
}

// filterInput drops keys the schema does not declare, mirroring the
// parameter filtering the handlers rely on.
func filterInput(schema, input map[string]any) map[string]any {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		if _, declared := props[k]; declared {
			out[k] = v
		}
	}
	return out
}

// IsErrorResult reports whether a tool result string is an error: a
// JSON object containing an "error" key.
func IsErrorResult(result string) bool {
	var m map[string]any
	if err := json.Unmarshal([]byte(result), &m); err != nil {
		return false
	}
	_, ok := m["error"]
	return ok
}

func errorResult(msg string) string {
	data, err := json.Marshal(map[string]any{"error": msg})
	if err != nil {
		return `{"error": "internal error"}`
	}
	return string(data)
}

// jsonResult marshals a tool result payload; marshal failures become
// error results rather than panics.
func jsonResult(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return string(data)
}

func bytesReader(data []byte) io.Reader { return bytes.NewReader(data) }

// toValidatable normalizes a Go value into the plain-JSON shapes the
// schema validator expects (maps, slices, float64 numbers).
func toValidatable(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
