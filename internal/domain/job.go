package domain

import "time"

// Job is the read-only input to the runner: what to dump, where to store it,
// how to package it, and what to prune afterwards.
type Job struct {
	ID                  string          `gorm:"primaryKey;size:64" json:"id"`
	Name                string          `json:"name"`
	Engine              string          `gorm:"size:16" json:"engine"`
	Schedule            string          `json:"schedule"`
	StorageTarget       string          `json:"storage_target"`
	Compress            bool            `json:"compress"`
	EncryptionProfileID string          `json:"encryption_profile_id"`
	Retention           RetentionPolicy `gorm:"embedded;embeddedPrefix:retention_" json:"retention"`
	Enabled             bool            `json:"enabled"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (*Job) TableName() string {
	return "jobs"
}

// ConfigBackupSettings drives the configuration backup pipeline. Values live
// in the settings table so they can change without a restart.
type ConfigBackupSettings struct {
	Enabled             bool
	Destination         string
	EncryptionProfileID string
	IncludeSecrets      bool
	RetentionCount      int
}
