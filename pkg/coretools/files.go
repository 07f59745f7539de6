package coretools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MinchaoZhu/chaos-bot/pkg/toolexecutor"
)

const (
	grepLimit = 200
	findLimit = 500
)

// ReadTool reads a text file under the root.
type ReadTool struct{}

func (ReadTool) Name() string        { return "read" }
func (ReadTool) Description() string { return "Read a text file from the working directory" }
func (ReadTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":       stringProp,
		"start_line": lineProp,
		"end_line":   lineProp,
	}, "path")
}

func (t ReadTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Path      string `json:"path"`
		StartLine *int   `json:"start_line"`
		EndLine   *int   `json:"end_line"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}

	path, err := resolveExisting(ec.RootDir, args.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &toolexecutor.Execution{Output: SliceLines(string(data), args.StartLine, args.EndLine)}, nil
}

// WriteTool writes or appends to a file. The target is not confined to the root.
type WriteTool struct{}

func (WriteTool) Name() string        { return "write" }
func (WriteTool) Description() string { return "Write content to a file under the working directory" }
func (WriteTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":    stringProp,
		"content": stringProp,
		"append":  boolProp,
	}, "path", "content")
}

func (t WriteTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}

	path, err := resolveWritePath(ec.RootDir, args.Path)
	if err != nil {
		return nil, err
	}

	if args.Append {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		if _, err := f.WriteString(args.Content); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	} else if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return nil, err
	}

	return &toolexecutor.Execution{
		Output: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), displayPath(path)),
	}, nil
}

// EditTool replaces every occurrence of a string in an existing file. The
// target is not confined to the root.
type EditTool struct{}

func (EditTool) Name() string        { return "edit" }
func (EditTool) Description() string { return "Replace a string in an existing text file" }
func (EditTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":    stringProp,
		"find":    stringProp,
		"replace": stringProp,
	}, "path", "find", "replace")
}

func (t EditTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Path    string `json:"path"`
		Find    string `json:"find"`
		Replace string `json:"replace"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}

	path, err := resolveExistingUnconfined(ec.RootDir, args.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if !strings.Contains(content, args.Find) {
		return nil, fmt.Errorf("target string not found in %s", path)
	}

	if err := os.WriteFile(path, []byte(strings.ReplaceAll(content, args.Find, args.Replace)), 0o644); err != nil {
		return nil, err
	}
	return &toolexecutor.Execution{Output: "updated " + displayPath(path)}, nil
}

// GrepTool does a case-insensitive substring search over files.
type GrepTool struct{}

func (GrepTool) Name() string        { return "grep" }
func (GrepTool) Description() string { return "Search for a text pattern inside files" }
func (GrepTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": stringProp,
		"path":    stringProp,
	}, "pattern")
}

func (t GrepTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		args.Path = "."
	}
	needle := strings.ToLower(args.Pattern)

	start, err := resolveExisting(ec.RootDir, args.Path)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(matches) >= grepLimit {
			return filepath.SkipAll
		}
		if !isFile(path, d) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for i, line := range splitLines(string(data)) {
			if strings.Contains(strings.ToLower(line), needle) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", path, i+1, strings.TrimSpace(line)))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matches) > grepLimit {
		matches = matches[:grepLimit]
	}
	return &toolexecutor.Execution{Output: strings.Join(matches, "\n")}, nil
}

// FindTool lists paths containing a substring, case-insensitively.
type FindTool struct{}

func (FindTool) Name() string        { return "find" }
func (FindTool) Description() string { return "Find files by path pattern" }
func (FindTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": stringProp,
		"path":    stringProp,
	}, "pattern")
}

func (t FindTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		args.Path = "."
	}
	needle := strings.ToLower(args.Pattern)

	start, err := resolveExisting(ec.RootDir, args.Path)
	if err != nil {
		return nil, err
	}

	var found []string
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(found) >= findLimit {
			return filepath.SkipAll
		}
		if strings.Contains(strings.ToLower(path), needle) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &toolexecutor.Execution{Output: strings.Join(found, "\n")}, nil
}

// LsTool lists a directory, marking subdirectories with a trailing slash.
type LsTool struct{}

func (LsTool) Name() string        { return "ls" }
func (LsTool) Description() string { return "List files and directories" }
func (LsTool) Schema() map[string]any {
	return objectSchema(map[string]any{"path": stringProp})
}

func (t LsTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		args.Path = "."
	}

	dir, err := resolveExisting(ec.RootDir, args.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &toolexecutor.Execution{Output: strings.Join(names, "\n")}, nil
}

// isFile reports whether a walk entry is a regular file, following symlinks.
func isFile(path string, d fs.DirEntry) bool {
	if d.IsDir() {
		return false
	}
	if d.Type().IsRegular() {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
