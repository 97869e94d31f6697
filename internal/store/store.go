// Package store persists executions, jobs, settings, and encryption profiles
// in an embedded sqlite database. The executions table is the coordination
// substrate for the whole system: its status column is the concurrency
// control between the queue manager and the runners.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/semmidev/custodian/internal/domain"
)

const (
	KeyMaxConcurrentJobs         = "queue.max_concurrent_jobs"
	KeyConfigBackupEnabled       = "config_backup.enabled"
	KeyConfigBackupDestination   = "config_backup.destination"
	KeyConfigBackupProfile       = "config_backup.encryption_profile"
	KeyConfigBackupSecrets       = "config_backup.include_secrets"
	KeyConfigBackupRetention     = "config_backup.retention_count"
	defaultMaxConcurrentJobs     = 1
	defaultConfigBackupRetention = 5
)

type setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string
}

func (*setting) TableName() string {
	return "settings"
}

type Store struct {
	db        *gorm.DB
	masterKey []byte
}

// Open opens (and migrates) the sqlite database at path.
func Open(path string, masterKey []byte) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&busy_timeout=30000&synchronous=NORMAL&foreign_keys=ON"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.Execution{},
		&domain.Job{},
		&domain.EncryptionProfile{},
		&setting{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, masterKey: masterKey}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- execution records ---

func (s *Store) CreateExecution(ctx context.Context, e *domain.Execution) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) UpdateExecution(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (s *Store) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	var e domain.Execution
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// ClaimPending atomically transitions an execution from PENDING to RUNNING.
// The conditional update is what closes the queue's count-then-launch window:
// whichever caller's UPDATE lands first owns the execution.
func (s *Store) ClaimPending(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":     domain.StatusRunning,
			"started_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) CountByStatus(ctx context.Context, status domain.ExecutionStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("status = ?", status).
		Count(&n).Error
	return n, err
}

// OldestPending returns up to limit pending executions, oldest first.
func (s *Store) OldestPending(ctx context.Context, limit int) ([]*domain.Execution, error) {
	var execs []*domain.Execution
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&execs).Error
	return execs, err
}

// MarkPendingFailed bulk-fails everything still pending; used at shutdown
// because nothing will pick those rows up afterwards.
func (s *Store) MarkPendingFailed(ctx context.Context, reason string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("status = ?", domain.StatusPending).
		Updates(map[string]interface{}{
			"status":   domain.StatusFailed,
			"ended_at": time.Now(),
			"stage":    "Aborted",
			"log":      gorm.Expr("CASE WHEN log = '' THEN ? ELSE log || char(10) || ? END", reason, reason),
		})
	return res.RowsAffected, res.Error
}

// PinnedArtifacts returns the artifact names of pinned executions for a job.
// Retention treats them as locked.
func (s *Store) PinnedArtifacts(ctx context.Context, jobID string) (map[string]bool, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("job_id = ? AND pinned = ? AND artifact_path <> ''", jobID, true).
		Pluck("artifact_path", &names).Error
	if err != nil {
		return nil, err
	}
	pinned := make(map[string]bool, len(names))
	for _, n := range names {
		pinned[n] = true
	}
	return pinned, nil
}

// --- jobs ---

func (s *Store) UpsertJob(ctx context.Context, job *domain.Job) error {
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := s.db.WithContext(ctx).Order("id ASC").Find(&jobs).Error
	return jobs, err
}

// --- encryption profiles ---

func (s *Store) UpsertProfile(ctx context.Context, p *domain.EncryptionProfile) error {
	return s.db.WithContext(ctx).Save(p).Error
}

func (s *Store) GetProfile(ctx context.Context, id string) (*domain.EncryptionProfile, error) {
	var p domain.EncryptionProfile
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// --- settings ---

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Save(&setting{Key: key, Value: value}).Error
}

func (s *Store) getSetting(ctx context.Context, key, fallback string) (string, error) {
	var row setting
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

// MaxConcurrentJobs returns the configured ceiling, defaulting to 1 when the
// setting is absent or unparseable.
func (s *Store) MaxConcurrentJobs(ctx context.Context) (int, error) {
	raw, err := s.getSetting(ctx, KeyMaxConcurrentJobs, strconv.Itoa(defaultMaxConcurrentJobs))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultMaxConcurrentJobs, nil
	}
	return n, nil
}

func (s *Store) ConfigBackupSettings(ctx context.Context) (domain.ConfigBackupSettings, error) {
	var out domain.ConfigBackupSettings

	enabled, err := s.getSetting(ctx, KeyConfigBackupEnabled, "false")
	if err != nil {
		return out, err
	}
	out.Enabled = enabled == "true"

	if out.Destination, err = s.getSetting(ctx, KeyConfigBackupDestination, ""); err != nil {
		return out, err
	}
	if out.EncryptionProfileID, err = s.getSetting(ctx, KeyConfigBackupProfile, ""); err != nil {
		return out, err
	}
	secrets, err := s.getSetting(ctx, KeyConfigBackupSecrets, "false")
	if err != nil {
		return out, err
	}
	out.IncludeSecrets = secrets == "true"

	raw, err := s.getSetting(ctx, KeyConfigBackupRetention, strconv.Itoa(defaultConfigBackupRetention))
	if err != nil {
		return out, err
	}
	if out.RetentionCount, err = strconv.Atoi(raw); err != nil || out.RetentionCount < 0 {
		out.RetentionCount = defaultConfigBackupRetention
	}

	return out, nil
}

// ExportConfig serializes the restorable configuration: jobs, settings, and,
// only when secrets are included, the (still wrapped) encryption profiles.
func (s *Store) ExportConfig(ctx context.Context, includeSecrets bool) ([]byte, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	var settings []setting
	if err := s.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, err
	}
	settingMap := make(map[string]string, len(settings))
	for _, row := range settings {
		settingMap[row.Key] = row.Value
	}

	export := struct {
		Version    int                         `json:"version"`
		ExportedAt string                      `json:"exportedAt"`
		Jobs       []*domain.Job               `json:"jobs"`
		Settings   map[string]string           `json:"settings"`
		Profiles   []*domain.EncryptionProfile `json:"profiles,omitempty"`
	}{
		Version:    1,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Jobs:       jobs,
		Settings:   settingMap,
	}

	if includeSecrets {
		if err := s.db.WithContext(ctx).Order("id ASC").Find(&export.Profiles).Error; err != nil {
			return nil, err
		}
	}

	return json.MarshalIndent(export, "", "  ")
}
