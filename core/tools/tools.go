// Package tools holds the functions the live model may call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Tool is a named function with a JSON schema for its parameters.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	execute func(ctx context.Context, arguments json.RawMessage) (any, error)
}

// NewTool builds a tool whose parameters are decoded into P. The schema is
// reflected from P's json and jsonschema struct tags.
func NewTool[P any](name, description string, execute func(ctx context.Context, parameters P) (any, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true, AllowAdditionalProperties: true}
	schema := reflector.Reflect(new(P))
	schema.Version, schema.ID = "", ""
	if schema.Properties == nil || schema.Properties.Len() == 0 {
		schema = nil
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schema,
		execute: func(ctx context.Context, arguments json.RawMessage) (any, error) {
			var parameters P
			if len(arguments) > 0 && string(arguments) != "null" {
				if err := json.Unmarshal(arguments, &parameters); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return execute(ctx, parameters)
		},
	}
}

func (t Tool) Declaration() transport.ToolDeclaration {
	return transport.ToolDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Registry executes tool calls by name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, tool := range tools {
		r.Register(tool)
	}
	return r
}

// Register adds tool, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; !ok {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Declarations lists the tools in registration order.
func (r *Registry) Declarations() []transport.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	declarations := make([]transport.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		declarations = append(declarations, r.tools[name].Declaration())
	}
	return declarations
}

// Execute runs the called tool. Failures are reported to the model in the
// result's "error" field instead of being returned.
func (r *Registry) Execute(ctx context.Context, call events.FunctionCall) events.ToolResult {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID))

	result := events.ToolResult{ID: call.ID, Name: call.Name}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("tool not found: %s", call.Name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Response = map[string]any{"error": err.Error()}
		return result
	}

	output, err := tool.execute(ctx, call.Arguments)
	if err != nil {
		err = fmt.Errorf("failed to execute tool %q: %w", call.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "tool failed", "tool", call.Name, "error", err)
		result.Response = map[string]any{"error": err.Error()}
		return result
	}

	if response, ok := output.(map[string]any); ok {
		result.Response = response
	} else {
		result.Response = map[string]any{"output": output}
	}
	return result
}
