package toolexecutor

import (
	"context"

	"github.com/MinchaoZhu/chaos-bot/pkg/memory"
)

// MemoryPort is the memory surface tools and the agent rely on.
type MemoryPort interface {
	Search(ctx context.Context, keyword string) ([]memory.Hit, error)
	AppendDailyLog(ctx context.Context, summary string) (string, error)
	GetFile(ctx context.Context, relPath string, start, end *int) (string, error)
}

// ExecutionContext is passed to every tool invocation.
type ExecutionContext struct {
	RootDir string
	Memory  MemoryPort
}
