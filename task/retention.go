package task

import (
	"context"
	"fmt"
	"time"

	"github.com/utterlabs/utter/synthesis"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultRetentionDays is how long terminal job records and their artifacts
// are kept before the sweep removes them
const DefaultRetentionDays = 90

const retentionGuardKey = "task:retention:inflight"
const retentionGuardTTL = time.Minute * 30

// RetentionJobSource exposes job records queryable by age and status
type RetentionJobSource interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, statuses []synthesis.Status) ([]synthesis.Job, error)
	Purge(ctx context.Context, jobIDs []string) (int64, error)
}

// ArtifactRemover bulk-deletes stored artifacts
type ArtifactRemover interface {
	DeleteMany(ctx context.Context, keys []string) ([]string, []error)
}

// RetentionOptions contains the dependencies for the retention sweep
type RetentionOptions struct {
	Jobs   RetentionJobSource
	Store  ArtifactRemover
	Redis  redis.UniversalClient
	Logger *zap.Logger

	RetentionDays int // defaults to DefaultRetentionDays
}

// RetentionTask removes terminal jobs past the retention window along with
// their stored artifacts. Runs are guarded by an explicit in-progress marker
// in redis so overlapping invocations compose safely across processes.
type RetentionTask struct {
	RetentionOptions
}

// NewRetentionTask will create a RetentionTask
func NewRetentionTask(option RetentionOptions) (*RetentionTask, error) {
	if option.Jobs == nil {
		return nil, fmt.Errorf("nil Jobs is invalid")
	}
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.RetentionDays <= 0 {
		option.RetentionDays = DefaultRetentionDays
	}
	return &RetentionTask{
		RetentionOptions: option,
	}, nil
}

// Run performs one sweep. A second invocation while one is in flight
// returns immediately without touching anything.
func (t *RetentionTask) Run(ctx context.Context) error {
	acquired, err := t.Redis.SetNX(retentionGuardKey, time.Now().Format(time.RFC3339), retentionGuardTTL).Result()
	if err != nil {
		return extErrors.Wrap(err, "Cannot acquire retention guard")
	}
	if !acquired {
		t.Logger.Info("Retention sweep already in progress, skipping")
		return nil
	}
	defer t.Redis.Del(retentionGuardKey)

	cutoff := time.Now().AddDate(0, 0, -t.RetentionDays)
	jobs, err := t.Jobs.ListOlderThan(ctx, cutoff, []synthesis.Status{synthesis.StatusCompleted, synthesis.StatusFailed})
	if err != nil {
		return extErrors.Wrap(err, "Cannot list jobs past retention")
	}
	if len(jobs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
		if len(job.StorageKey) > 0 {
			keys = append(keys, job.StorageKey)
		}
	}

	deleted, errs := t.Store.DeleteMany(ctx, keys)
	for _, deleteErr := range errs {
		// best-effort cleanup: the record purge below proceeds regardless
		t.Logger.Error("Unable to delete artifact during retention sweep",
			zap.Error(deleteErr),
		)
	}

	purged, err := t.Jobs.Purge(ctx, ids)
	if err != nil {
		return extErrors.Wrap(err, "Cannot purge job records past retention")
	}

	t.Logger.Info("Retention sweep finished",
		zap.Time("Cutoff", cutoff),
		zap.Int("ArtifactsDeleted", len(deleted)),
		zap.Int64("RecordsPurged", purged),
	)
	return nil
}
