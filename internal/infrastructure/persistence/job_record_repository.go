package persistence

import (
	"context"
	"time"

	"github.com/erp/backoffice/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Job record statuses
const (
	JobRecordRunning = "RUNNING"
	JobRecordSuccess = "SUCCESS"
	JobRecordFailed  = "FAILED"
)

// GormJobRecordRepository persists execution records of statistics jobs
type GormJobRecordRepository struct {
	db *gorm.DB
}

// NewGormJobRecordRepository creates a new GormJobRecordRepository
func NewGormJobRecordRepository(db *gorm.DB) *GormJobRecordRepository {
	return &GormJobRecordRepository{db: db}
}

// RecordJobStart records the start of a job execution
func (r *GormJobRecordRepository) RecordJobStart(ctx context.Context, jobType, trigger string) (uuid.UUID, error) {
	now := time.Now().UTC()
	record := &models.SchedulerJobRecordModel{
		ID:        uuid.New(),
		JobType:   jobType,
		Trigger:   trigger,
		Status:    JobRecordRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return uuid.Nil, err
	}
	return record.ID, nil
}

// RecordJobComplete records the outcome of a job
func (r *GormJobRecordRepository) RecordJobComplete(ctx context.Context, id uuid.UUID, success bool, summary, errMsg string) error {
	now := time.Now().UTC()
	status := JobRecordSuccess
	if !success {
		status = JobRecordFailed
	}
	return r.db.WithContext(ctx).
		Model(&models.SchedulerJobRecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"summary":      summary,
			"last_error":   errMsg,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// LastRun returns the most recent record of a job type
func (r *GormJobRecordRepository) LastRun(ctx context.Context, jobType string) (*models.SchedulerJobRecordModel, error) {
	var record models.SchedulerJobRecordModel
	err := r.db.WithContext(ctx).
		Where("job_type = ?", jobType).
		Order("started_at DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
