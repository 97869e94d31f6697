package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/semmidev/custodian/internal/config"
	"github.com/semmidev/custodian/internal/domain"
)

type MySQLDatabase struct {
	config config.JobConfig
}

func NewMySQL(cfg config.JobConfig) *MySQLDatabase {
	return &MySQLDatabase{config: cfg}
}

func (m *MySQLDatabase) connArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
		fmt.Sprintf("--password=%s", m.config.Password),
	}
}

func (m *MySQLDatabase) Dump(ctx context.Context, destPath string, sink domain.Sink) (*domain.DumpResult, error) {
	started := time.Now()

	args := append(m.connArgs(),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		"--verbose",
		fmt.Sprintf("--result-file=%s", destPath),
		m.config.Database,
	)

	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	if err := runTool(ctx, cmd, sink); err != nil {
		return nil, fmt.Errorf("mysqldump: %w", err)
	}

	return dumpResult(destPath, started)
}

func (m *MySQLDatabase) Restore(ctx context.Context, srcPath string, sink domain.Sink) error {
	dump, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open dump file: %w", err)
	}
	defer dump.Close()

	args := append(m.connArgs(), m.config.Database)
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Stdin = dump

	if err := runTool(ctx, cmd, sink); err != nil {
		return fmt.Errorf("mysql restore: %w", err)
	}
	return nil
}

func (m *MySQLDatabase) Name() string {
	return m.config.Name
}

func (m *MySQLDatabase) Engine() string {
	return "mysql"
}

func (m *MySQLDatabase) Ping(ctx context.Context) error {
	args := append(m.connArgs(), "-e", "SELECT 1")
	cmd := exec.CommandContext(ctx, "mysql", args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}
