package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/internal/tracing"
	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// ErrToolNotFound is returned by Dispatch for unregistered names.
var ErrToolNotFound = errors.New("tool not found")

// ErrNoExecution is returned when a tool reports neither a result nor an error.
var ErrNoExecution = errors.New("tool returned no result")

// Tool is a named capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args json.RawMessage, ec *ExecutionContext) (*Execution, error)
}

// Execution is what a tool produced.
type Execution struct {
	Output  string
	IsError bool
}

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// New creates an empty Registry.
func New() *Registry {
	observability.EnsureRegistered()
	return &Registry{tools: make(map[string]entry)}
}

// Register adds tool, replacing any tool of the same name.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is required")
	}
	name := tool.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	var schema *gojsonschema.Schema
	if raw := tool.Schema(); raw != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
		if err != nil {
			return fmt.Errorf("invalid schema for tool %s: %w", name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		log.Warn().Str("tool", name).Msg("Tool re-registered, replacing previous definition")
	}
	r.tools[name] = entry{tool: tool, schema: schema}

	log.Debug().Str("tool", name).Msg("Tool registered")
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs returns the model-facing descriptions, sorted by name.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		specs = append(specs, llm.ToolSpec{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Dispatch validates args and runs the named tool. A handler error is
// returned as is; the caller decides how to surface it to the model.
func (r *Registry) Dispatch(ctx context.Context, callID, name string, args json.RawMessage, ec *ExecutionContext) (*llm.ToolResult, error) {
	ctx, span := tracing.StartSpan(ctx, "chaos.toolexecutor", "tool.dispatch",
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
	)

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		tracing.EndSpan(span, err)
		return nil, err
	}

	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	if err := validateArgs(e.schema, args); err != nil {
		err = fmt.Errorf("invalid arguments for %s: %w", name, err)
		observability.RecordToolExecution(name, 0, false)
		tracing.EndSpan(span, err)
		return nil, err
	}

	if ec == nil {
		ec = &ExecutionContext{}
	}

	started := time.Now()
	execution, err := e.tool.Execute(ctx, args, ec)
	duration := time.Since(started)
	if err == nil && execution == nil {
		err = fmt.Errorf("%w: %s", ErrNoExecution, name)
	}

	if err != nil {
		observability.RecordToolExecution(name, duration, false)
		log.Debug().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool execution failed")
		tracing.EndSpan(span, err)
		return nil, err
	}

	observability.RecordToolExecution(name, duration, !execution.IsError)
	span.SetAttributes(attribute.Bool("tool.is_error", execution.IsError))
	tracing.EndSpan(span, nil)

	log.Debug().
		Str("tool", name).
		Dur("duration", duration).
		Bool("is_error", execution.IsError).
		Msg("Tool execution completed")

	return &llm.ToolResult{
		ToolCallID: callID,
		Name:       name,
		Output:     execution.Output,
		IsError:    execution.IsError,
	}, nil
}

func validateArgs(schema *gojsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return errors.New(strings.Join(details, "; "))
}
