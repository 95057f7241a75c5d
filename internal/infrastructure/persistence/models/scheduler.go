package models

import (
	"time"

	"github.com/google/uuid"
)

// SchedulerJobRecordModel is one execution of a statistics job
type SchedulerJobRecordModel struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	JobType     string     `gorm:"column:job_type;size:50;not null;index"`
	Trigger     string     `gorm:"column:trigger_source;size:20;not null"`
	Status      string     `gorm:"column:status;size:20;not null"`
	Summary     string     `gorm:"column:summary;type:text"`
	Error       string     `gorm:"column:last_error;type:text"`
	StartedAt   time.Time  `gorm:"column:started_at;not null;index"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

// TableName returns the table name for GORM
func (SchedulerJobRecordModel) TableName() string {
	return "stats_scheduler_jobs"
}
