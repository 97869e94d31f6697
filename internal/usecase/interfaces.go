package usecase

import (
	"context"

	"github.com/semmidev/custodian/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// ExecutionRecords is the execution record store as the pipelines see it. The
// status column doubles as the concurrency control: ClaimPending is the only
// way an execution enters RUNNING, and it is an atomic conditional transition.
type ExecutionRecords interface {
	CreateExecution(ctx context.Context, e *domain.Execution) error
	UpdateExecution(ctx context.Context, id string, fields map[string]interface{}) error
	ClaimPending(ctx context.Context, id string) (bool, error)
	CountByStatus(ctx context.Context, status domain.ExecutionStatus) (int64, error)
	OldestPending(ctx context.Context, limit int) ([]*domain.Execution, error)
	MarkPendingFailed(ctx context.Context, reason string) (int64, error)
}

// Catalog serves the read-side inputs of the pipelines: jobs, encryption
// profiles, tunable settings, and the exportable configuration itself.
type Catalog interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetProfile(ctx context.Context, id string) (*domain.EncryptionProfile, error)
	PinnedArtifacts(ctx context.Context, jobID string) (map[string]bool, error)
	MaxConcurrentJobs(ctx context.Context) (int, error)
	ConfigBackupSettings(ctx context.Context) (domain.ConfigBackupSettings, error)
	ExportConfig(ctx context.Context, includeSecrets bool) ([]byte, error)
}

// Launcher starts one pending execution. Run returning does not imply the
// pipeline finished; completion is observable only through the record store.
type Launcher interface {
	Launch(ctx context.Context, exec *domain.Execution) error
}
