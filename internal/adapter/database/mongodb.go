package database

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/semmidev/custodian/internal/config"
	"github.com/semmidev/custodian/internal/domain"
)

type MongoDBDatabase struct {
	config config.JobConfig
}

func NewMongoDB(cfg config.JobConfig) *MongoDBDatabase {
	return &MongoDBDatabase{config: cfg}
}

func (m *MongoDBDatabase) uri() string {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
		m.config.Username,
		m.config.Password,
		m.config.Host,
		m.config.Port,
		m.config.Database,
	)
	if m.config.AuthDatabase != "" {
		uri += fmt.Sprintf("?authSource=%s", m.config.AuthDatabase)
	}
	return uri
}

func (m *MongoDBDatabase) Dump(ctx context.Context, destPath string, sink domain.Sink) (*domain.DumpResult, error) {
	started := time.Now()

	args := []string{
		fmt.Sprintf("--uri=%s", m.uri()),
		fmt.Sprintf("--archive=%s", destPath),
		"--gzip",
	}

	cmd := exec.CommandContext(ctx, "mongodump", args...)
	if err := runTool(ctx, cmd, sink); err != nil {
		return nil, fmt.Errorf("mongodump: %w", err)
	}

	return dumpResult(destPath, started)
}

func (m *MongoDBDatabase) Restore(ctx context.Context, srcPath string, sink domain.Sink) error {
	args := []string{
		fmt.Sprintf("--uri=%s", m.uri()),
		fmt.Sprintf("--archive=%s", srcPath),
		"--gzip",
		"--drop",
	}

	cmd := exec.CommandContext(ctx, "mongorestore", args...)
	if err := runTool(ctx, cmd, sink); err != nil {
		return fmt.Errorf("mongorestore: %w", err)
	}
	return nil
}

func (m *MongoDBDatabase) Name() string {
	return m.config.Name
}

func (m *MongoDBDatabase) Engine() string {
	return "mongodb"
}

func (m *MongoDBDatabase) Ping(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "mongosh", m.uri(), "--eval", "db.runCommand({ ping: 1 })")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}
