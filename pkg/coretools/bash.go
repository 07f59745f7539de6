package coretools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"

	"github.com/MinchaoZhu/chaos-bot/pkg/toolexecutor"
	"github.com/google/shlex"
)

const bashOutputLimit = 8000

var allowedCommands = map[string]struct{}{
	"ls": {}, "pwd": {}, "cat": {}, "echo": {}, "head": {},
	"tail": {}, "rg": {}, "wc": {}, "date": {},
}

// ErrCommandNotAllowed is returned for commands outside the allow-list.
var ErrCommandNotAllowed = errors.New("command is not allowlisted")

// BashTool runs an allow-listed command through bash in the root directory.
// Only the first token is checked; the rest of the line is passed to the shell as is.
type BashTool struct{}

func (BashTool) Name() string { return "bash" }
func (BashTool) Description() string {
	return "Run a safe, allowlisted shell command in the working directory"
}
func (BashTool) Schema() map[string]any {
	return objectSchema(map[string]any{"command": stringProp}, "command")
}

// CommandAllowed reports whether the first shell word of command is allow-listed.
func CommandAllowed(command string) bool {
	parts, err := shlex.Split(command)
	if err != nil || len(parts) == 0 {
		return false
	}
	_, ok := allowedCommands[parts[0]]
	return ok
}

func (t BashTool) Execute(ctx context.Context, raw json.RawMessage, ec *toolexecutor.ExecutionContext) (*toolexecutor.Execution, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return nil, err
	}
	if !CommandAllowed(args.Command) {
		return nil, ErrCommandNotAllowed
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "bash", "-lc", args.Command)
	cmd.Dir = ec.RootDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	failed := false
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		failed = true
	}

	output := []rune(stdout.String() + stderr.String())
	if len(output) > bashOutputLimit {
		output = output[:bashOutputLimit]
	}
	return &toolexecutor.Execution{Output: string(output), IsError: failed}, nil
}
