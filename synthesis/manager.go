package synthesis

import (
	"context"
	"errors"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Job
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for synthesis jobs
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize synthesis.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create persists a new job record
func (m *Manager) Create(ctx context.Context, job *Job) error {
	result := m.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		m.logger.Error("Unable to create new job in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create job")
	}
	return nil
}

// GetByID returns a job by id, or nil when absent
func (m *Manager) GetByID(ctx context.Context, id string) (*Job, error) {
	job := Job{}

	result := m.db.WithContext(ctx).Where("id = ?", id).First(&job)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get job by id")
	}
	return &job, nil
}

// CountProcessing counts the user's in-flight jobs, excluding the request's
// own record. This is a point-in-time read, not a reservation.
func (m *Manager) CountProcessing(ctx context.Context, userID, excludeJobID string) (int64, error) {
	var count int64
	baseQuery := m.db.WithContext(ctx).Model(&Job{}).
		Where("user_id = ?", userID).
		Where("status = ?", StatusProcessing)
	if len(excludeJobID) > 0 {
		baseQuery = baseQuery.Where("id <> ?", excludeJobID)
	}
	result := baseQuery.Count(&count)
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot count processing jobs")
	}
	return count, nil
}

// Finalize transitions a processing job to completed with its artifact
// fields. The status guard keeps terminal records immutable.
func (m *Manager) Finalize(ctx context.Context, job *Job) error {
	result := m.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", job.ID).
		Where("status = ?", StatusProcessing).
		Updates(map[string]interface{}{
			"status":           StatusCompleted,
			"storage_key":      job.StorageKey,
			"duration_seconds": job.DurationSeconds,
			"file_size_bytes":  job.FileSizeBytes,
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot finalize job")
	}
	if result.RowsAffected == 0 {
		return extErrors.Errorf("job %s is not in processing state", job.ID)
	}
	return nil
}

// Fail transitions a processing job to failed with the audit message
func (m *Manager) Fail(ctx context.Context, jobID, message string) error {
	result := m.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Where("status = ?", StatusProcessing).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"error_message": message,
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot fail job")
	}
	return nil
}

// RecordDownload atomically bumps the download counters on a completed job
func (m *Manager) RecordDownload(ctx context.Context, jobID string) error {
	result := m.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Where("status = ?", StatusCompleted).
		UpdateColumns(map[string]interface{}{
			"download_count":     gorm.Expr("download_count + ?", 1),
			"last_downloaded_at": time.Now(),
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot record download")
	}
	return nil
}

// ListOption filters a job listing
type ListOption struct {
	UserID string
	Before time.Time
	Limit  int
}

// List returns a user's jobs, newest first
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Job, error) {
	if len(opt.UserID) == 0 {
		return nil, extErrors.New("ListOption.UserID is required")
	}
	baseQuery := m.db.WithContext(ctx).Order("created_at desc").
		Where("user_id = ?", opt.UserID)
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}
	if !opt.Before.IsZero() {
		baseQuery = baseQuery.Where("created_at < ?", opt.Before)
	}

	results := make([]Job, 0, 1)
	result := baseQuery.Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// ListOlderThan returns jobs in the given statuses created before the
// cutoff. The retention sweep uses this to find purgeable records.
func (m *Manager) ListOlderThan(ctx context.Context, cutoff time.Time, statuses []Status) ([]Job, error) {
	results := make([]Job, 0, 1)
	result := m.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("status IN ?", statuses).
		Find(&results)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list jobs by age")
	}
	return results, nil
}

// DeleteRecord removes a job owned by the given user
func (m *Manager) DeleteRecord(ctx context.Context, jobID, userID string) error {
	result := m.db.WithContext(ctx).
		Where("id = ?", jobID).
		Where("user_id = ?", userID).
		Delete(&Job{})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot delete job")
	}
	if result.RowsAffected == 0 {
		return extErrors.Errorf("no job with id %s", jobID)
	}
	return nil
}

// Purge removes job records regardless of owner, for the retention sweep
func (m *Manager) Purge(ctx context.Context, jobIDs []string) (int64, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	result := m.db.WithContext(ctx).
		Where("id IN ?", jobIDs).
		Delete(&Job{})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot purge jobs")
	}
	return result.RowsAffected, nil
}
