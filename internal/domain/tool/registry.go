// Package tool holds the registry of domain tools the assistant may invoke.
// The registry doubles as the allow-list: a tool name the model emits that is
// not registered here is dropped before it ever reaches a client stream.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	ErrExecutorAlreadyRegistered = errors.New("tool executor already registered")
	ErrExecutorNotRegistered     = errors.New("tool executor not registered")
	ErrValidationFailed          = errors.New("tool params validation failed")
)

// Definition describes a registered tool to the model and to schema validation.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Outcome is the uniform envelope every dispatch produces. Failures are data,
// not errors: a throwing tool becomes {success:false, message} and the stream
// carrying it continues.
type Outcome struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Registry maps tool names to executors and their definitions.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	defs      map[string]Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		defs:      make(map[string]Definition),
	}
}

// Register adds a tool and its definition. Registering the same name twice
// returns ErrExecutorAlreadyRegistered.
func (r *Registry) Register(def Definition, executor Executor) error {
	name := strings.TrimSpace(def.Name)
	if name == "" || executor == nil {
		return ErrExecutorNotRegistered
	}
	if len(def.InputSchema) == 0 {
		def.InputSchema = json.RawMessage(`{"type":"object","additionalProperties":false,"properties":{}}`)
	}
	if !json.Valid(def.InputSchema) {
		return fmt.Errorf("input schema must be valid json")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[name]; exists {
		return ErrExecutorAlreadyRegistered
	}
	def.Name = name
	r.executors[name] = executor
	r.defs[name] = def
	return nil
}

// Allowed reports whether name is a registered domain tool.
func (r *Registry) Allowed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Definitions returns all registered tool definitions, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch validates params against the tool's schema, executes the tool, and
// wraps whatever happens into an Outcome. Dispatch itself never fails: every
// error path is encoded as a non-success Outcome.
func (r *Registry) Dispatch(ctx context.Context, name string, params json.RawMessage) Outcome {
	r.mu.RLock()
	executor, ok := r.executors[name]
	def := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return Outcome{Message: ErrExecutorNotRegistered.Error()}
	}

	if err := validateParams(def.InputSchema, params); err != nil {
		return Outcome{Message: err.Error()}
	}

	data, err := executor.Execute(ctx, params)
	if err != nil {
		return Outcome{Message: err.Error()}
	}
	return Outcome{Success: true, Data: data}
}

// validateParams checks params against the minimal subset of JSON Schema the
// registry enforces: required keys and additionalProperties.
func validateParams(schemaRaw, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var input map[string]any
	if err := json.Unmarshal(params, &input); err != nil {
		return fmt.Errorf("%w: params must be a json object", ErrValidationFailed)
	}

	var schema map[string]any
	if err := json.Unmarshal(schemaRaw, &schema); err != nil {
		return fmt.Errorf("%w: invalid registered schema", ErrValidationFailed)
	}

	for _, key := range extractStringSlice(schema["required"]) {
		if _, ok := input[key]; !ok {
			return fmt.Errorf("%w: missing required field %q", ErrValidationFailed, key)
		}
	}

	allowAdditional := true
	if v, ok := schema["additionalProperties"].(bool); ok {
		allowAdditional = v
	}
	if !allowAdditional {
		allowedProps := map[string]struct{}{}
		if props, ok := schema["properties"].(map[string]any); ok {
			for key := range props {
				allowedProps[key] = struct{}{}
			}
		}
		for key := range input {
			if _, ok := allowedProps[key]; !ok {
				return fmt.Errorf("%w: unknown field %q", ErrValidationFailed, key)
			}
		}
	}
	return nil
}

func extractStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// schemaFor reflects a params struct into its JSON Schema. Input structs are
// flat, so references are inlined.
func schemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}
