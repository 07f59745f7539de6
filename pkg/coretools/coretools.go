package coretools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MinchaoZhu/chaos-bot/pkg/toolexecutor"
)

// RegisterCodingTools registers read, write, edit and bash.
func RegisterCodingTools(reg *toolexecutor.Registry) error {
	return register(reg, ReadTool{}, WriteTool{}, EditTool{}, BashTool{})
}

// RegisterReadOnlyTools registers read, grep, find and ls.
func RegisterReadOnlyTools(reg *toolexecutor.Registry) error {
	return register(reg, ReadTool{}, GrepTool{}, FindTool{}, LsTool{})
}

// RegisterMemoryTools registers memory_get and memory_search.
func RegisterMemoryTools(reg *toolexecutor.Registry) error {
	return register(reg, MemoryGetTool{}, MemorySearchTool{})
}

// RegisterDefaultTools registers every built-in tool.
func RegisterDefaultTools(reg *toolexecutor.Registry) error {
	if err := RegisterCodingTools(reg); err != nil {
		return err
	}
	if err := RegisterReadOnlyTools(reg); err != nil {
		return err
	}
	return RegisterMemoryTools(reg)
}

func register(reg *toolexecutor.Registry, tools ...toolexecutor.Tool) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
		}
	}
	return nil
}

func decodeArgs(tool string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid %s arguments: %w", tool, err)
	}
	return nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var (
	stringProp = map[string]any{"type": "string"}
	boolProp   = map[string]any{"type": "boolean"}
	lineProp   = map[string]any{"type": "integer", "minimum": 1}
)
