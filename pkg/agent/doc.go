// Package agent runs the model/tool loop for one user turn.
//
// Invariants:
// - The session history only grows; token budgeting trims a per-run copy.
// - Deltas are forwarded to the caller as they arrive, before tools run.
// - Tool calls execute sequentially in the order the model emitted them.
// - A tool failure becomes an error result for the model; a model failure ends the run.
// - Running out of iterations is not an error.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Options{
//		Provider: provider, Tools: registry, Personality: loader, Memory: store,
//		Config: agent.Config{Model: "gpt-4o-mini", MaxIterations: 6, TokenBudget: 12000, WorkingDir: root},
//	})
//	out, err := runner.RunStream(ctx, sess, "hello", func(e agent.Event) { fmt.Print(e.Delta) })
package agent
