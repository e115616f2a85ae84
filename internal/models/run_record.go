package models

import (
	"time"

	"gorm.io/gorm"
)

// Run statuses recorded in the audit trail. The schedule gate only treats
// completed and partial_success as "already ran today".
const (
	RunStatusCompleted      = "completed"
	RunStatusPartialSuccess = "partial_success"
	RunStatusFailed         = "failed"
	RunStatusError          = "error"
)

// Job kinds distinguishing how a run was triggered.
const (
	JobKindDaily  = "daily_update"
	JobKindManual = "manual_update"
	JobKindCron   = "cron_update"
)

// RunRecord is an append-only audit entry for one synchronization attempt.
type RunRecord struct {
	gorm.Model
	JobKind   string    `gorm:"size:32;not null;index" json:"job_kind"`
	Status    string    `gorm:"size:32;not null" json:"status"`
	Result    string    `gorm:"type:text" json:"result"`
	StartedAt time.Time `gorm:"not null;index" json:"started_at"`
}
