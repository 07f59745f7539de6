// Package llm adapts model services into a normalized request/event contract.
//
// Invariants:
// - A successful stream yields exactly one Done event, as its last event.
// - Tool calls are emitted only after the model signals finish_reason "tool_calls",
//   in ascending index order.
// - Transport and protocol errors are returned to the caller, never retried here.
//
// Usage:
//
//	provider, _ := llm.NewProvider(llm.ProviderConfig{Name: "openai", OpenAIAPIKey: key})
//	stream, _ := provider.ChatStream(ctx, llm.Request{Model: "gpt-4o-mini", Messages: msgs})
//	defer stream.Close()
//	for {
//		event, err := stream.Next()
//		if err == io.EOF {
//			break
//		}
//		_ = event
//	}
package llm
