// Package toolexecutor holds the tool registry the agent dispatches model
// tool calls through.
//
// Invariants:
// - Names are unique; registering an existing name replaces it.
// - Arguments are validated against the tool's JSON schema before Execute runs.
// - Dispatch never panics on unknown tools; it returns ErrToolNotFound.
//
// Usage:
//
//	reg := toolexecutor.New()
//	_ = reg.Register(myTool)
//	result, err := reg.Dispatch(ctx, "call_1", "read", json.RawMessage(`{"path":"a.txt"}`), &toolexecutor.ExecutionContext{RootDir: root})
package toolexecutor
