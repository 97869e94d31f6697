package domain

import "time"

type RetentionMode string

const (
	RetentionNone   RetentionMode = "NONE"
	RetentionSimple RetentionMode = "SIMPLE"
	RetentionSmart  RetentionMode = "SMART"
)

// RetentionPolicy decides which artifacts survive pruning. SIMPLE keeps the
// newest KeepCount files; SMART keeps one file per claimed calendar bucket
// within each granularity's budget.
type RetentionPolicy struct {
	Mode      RetentionMode `gorm:"size:16" json:"mode"`
	KeepCount int           `json:"keep_count"`
	Daily     int           `json:"daily"`
	Weekly    int           `json:"weekly"`
	Monthly   int           `json:"monthly"`
	Yearly    int           `json:"yearly"`
}

// FileInfo describes one stored artifact as seen by the retention engine.
// Locked files are pinned by an operator and never considered for deletion.
type FileInfo struct {
	Name         string
	LastModified time.Time
	Size         int64
	Locked       bool
}
