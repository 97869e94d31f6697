package domain

import "time"

type ExecutionKind string

const (
	KindBackup       ExecutionKind = "BACKUP"
	KindRestore      ExecutionKind = "RESTORE"
	KindConfigBackup ExecutionKind = "CONFIG_BACKUP"
)

type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "PENDING"
	StatusRunning ExecutionStatus = "RUNNING"
	StatusSuccess ExecutionStatus = "SUCCESS"
	StatusFailed  ExecutionStatus = "FAILED"
)

// Terminal reports whether no further status transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Execution is the persisted record of one job run. It is created on trigger
// and mutated only by its owning runner until it reaches a terminal status.
type Execution struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	JobID        string          `gorm:"index" json:"job_id"`
	Kind         ExecutionKind   `gorm:"size:16" json:"kind"`
	Status       ExecutionStatus `gorm:"size:16;index" json:"status"`
	StartedAt    *time.Time      `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at"`
	Log          string          `json:"log"`
	Progress     float64         `json:"progress"`
	Stage        string          `json:"stage"`
	ArtifactPath string          `json:"artifact_path"`
	Pinned       bool            `json:"pinned"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (*Execution) TableName() string {
	return "executions"
}
