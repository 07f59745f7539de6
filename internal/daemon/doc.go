// Package daemon wires the chaos-bot runtime together and owns its lifecycle.
//
// A Daemon bootstraps the workspace, opens the session store, builds the
// first agent snapshot through an AgentFactory and then serves the gateway,
// the enabled channel connectors and a cron maintenance schedule until it is
// stopped.
//
// Invariants:
//   - ConfigRuntime publishes immutable snapshots through an atomic pointer.
//     A chat run reads one snapshot; apply never mutates a published one.
//   - Writers (apply, reset, file reload) are serialized by a mutex.
//   - A snapshot is only published after its agent was built and, for API
//     mutations, after agent.json was written with backups.
//
// Usage:
//
//	loaded, _ := config.Load("")
//	d, _ := daemon.New(ctx, loaded, log, daemon.Options{})
//	_ = d.Start()
//	_ = d.Wait(ctx)
package daemon
