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

type PostgreSQLDatabase struct {
	config config.JobConfig
}

func NewPostgreSQL(cfg config.JobConfig) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{config: cfg}
}

func (p *PostgreSQLDatabase) connArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", p.config.Host),
		fmt.Sprintf("--port=%d", p.config.Port),
		fmt.Sprintf("--username=%s", p.config.Username),
	}
}

func (p *PostgreSQLDatabase) env() []string {
	return append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", p.config.Password))
}

func (p *PostgreSQLDatabase) Dump(ctx context.Context, destPath string, sink domain.Sink) (*domain.DumpResult, error) {
	started := time.Now()

	args := append(p.connArgs(),
		"--format=custom",
		"--compress=9",
		"--verbose",
		fmt.Sprintf("--file=%s", destPath),
		p.config.Database,
	)

	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = p.env()
	if err := runTool(ctx, cmd, sink); err != nil {
		return nil, fmt.Errorf("pg_dump: %w", err)
	}

	return dumpResult(destPath, started)
}

func (p *PostgreSQLDatabase) Restore(ctx context.Context, srcPath string, sink domain.Sink) error {
	args := append(p.connArgs(),
		"--clean",
		"--if-exists",
		"--verbose",
		fmt.Sprintf("--dbname=%s", p.config.Database),
		srcPath,
	)

	cmd := exec.CommandContext(ctx, "pg_restore", args...)
	cmd.Env = p.env()
	if err := runTool(ctx, cmd, sink); err != nil {
		return fmt.Errorf("pg_restore: %w", err)
	}
	return nil
}

func (p *PostgreSQLDatabase) Name() string {
	return p.config.Name
}

func (p *PostgreSQLDatabase) Engine() string {
	return "postgresql"
}

func (p *PostgreSQLDatabase) Ping(ctx context.Context) error {
	args := append(p.connArgs(), "--dbname=postgres", "-c", "SELECT 1")
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = p.env()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}
