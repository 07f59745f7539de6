package coretools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MinchaoZhu/chaos-bot/pkg/memory"
	"github.com/MinchaoZhu/chaos-bot/pkg/toolexecutor"
)

var errNoMemory = errors.New("memory store is not configured")

// MemoryGetTool reads MEMORY.md or a daily log file.
type MemoryGetTool struct{}

func (MemoryGetTool) Name() string        { return "memory_get" }
func (MemoryGetTool) Description() string { return "Read MEMORY.md or a memory log file" }
func (MemoryGetTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":       stringProp,
		"start_line": lineProp,
		"end_line":   lineProp,
	}, "path")
}

func (t MemoryGetTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Path      string `json:"path"`
		StartLine *int   `json:"start_line"`
		EndLine   *int   `json:"end_line"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}
	if ec.Memory == nil {
		return nil, errNoMemory
	}

	content, err := ec.Memory.GetFile(ctx, args.Path, args.StartLine, args.EndLine)
	if err != nil {
		return nil, err
	}
	return &toolexecutor.Execution{Output: content}, nil
}

// MemorySearchTool searches memory by keyword and returns the hits as JSON.
type MemorySearchTool struct{}

func (MemorySearchTool) Name() string        { return "memory_search" }
func (MemorySearchTool) Description() string { return "Search keyword over MEMORY.md and memory/*.md" }
func (MemorySearchTool) Schema() map[string]any {
	return objectSchema(map[string]any{"keyword": stringProp}, "keyword")
}

func (t MemorySearchTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Keyword string `json:"keyword"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}
	if ec.Memory == nil {
		return nil, errNoMemory
	}

	hits, err := ec.Memory.Search(ctx, args.Keyword)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []memory.Hit{}
	}
	out, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return nil, err
	}
	return &toolexecutor.Execution{Output: string(out)}, nil
}
