package domain

import (
	"context"
	"time"
)

// Sink receives log lines and progress updates emitted by adapters while a
// stage runs. Lines keep their emission order; progress never goes backwards.
type Sink interface {
	Log(line string)
	Progress(pct float64, stage string)
}

// DumpResult describes a finished dump. Log lines are streamed through the
// Sink while the tool runs; errors come back through the error return.
type DumpResult struct {
	Path        string
	Size        int64
	StartedAt   time.Time
	CompletedAt time.Time
}

// Database is a dump/restore engine driven through external tooling.
type Database interface {
	Dump(ctx context.Context, destPath string, sink Sink) (*DumpResult, error)
	Restore(ctx context.Context, srcPath string, sink Sink) error
	Name() string
	Engine() string
	Ping(ctx context.Context) error
}
