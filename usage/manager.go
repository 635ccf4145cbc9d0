package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager is the quota ledger over the usage records
type Manager struct {
	db       *gorm.DB
	logger   *zap.Logger
	location *time.Location
}

// NewManager returns a new Manager for usage records. The location is the
// reference timezone for period bucketing; nil means UTC.
func NewManager(logger *zap.Logger, db *gorm.DB, location *time.Location) (*Manager, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize usage.Manager")
	}
	if location == nil {
		location = time.UTC
	}
	return &Manager{
		db:       db,
		logger:   logger,
		location: location,
	}, nil
}

func (m *Manager) currentPeriodKey() string {
	return PeriodKey(time.Now(), m.location)
}

// CheckQuota decides whether requestedChars fits in the user's remaining
// monthly budget, lazily creating the period's record. This pre-check is
// read-only and best-effort: concurrent commits may land between the read
// and the eventual commit, which is the accepted bounded overshoot.
func (m *Manager) CheckQuota(ctx context.Context, userID, subscriptionID string, requestedChars, planLimit int64) (*Quota, error) {
	record, err := m.currentRecord(ctx, userID, subscriptionID, true)
	if err != nil {
		return nil, err
	}

	quota := Evaluate(record.CharactersUsed, requestedChars, planLimit)
	quota.Record = record
	return &quota, nil
}

// Snapshot reports the current period's usage without creating a record
func (m *Manager) Snapshot(ctx context.Context, userID string, planLimit int64) (*Quota, error) {
	record, err := m.currentRecord(ctx, userID, "", false)
	if err != nil {
		return nil, err
	}
	var used int64
	if record != nil {
		used = record.CharactersUsed
	}
	quota := Evaluate(used, 0, planLimit)
	quota.Record = record
	return &quota, nil
}

func (m *Manager) currentRecord(ctx context.Context, userID, subscriptionID string, create bool) (*Record, error) {
	periodKey := m.currentPeriodKey()

	var record Record
	result := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("period_key = ?", periodKey).
		First(&record)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if !create {
			return nil, nil
		}
		record = Record{
			ID:             shortuuid.New(),
			UserID:         userID,
			SubscriptionID: subscriptionID,
			PeriodKey:      periodKey,
		}
		createRes := m.db.WithContext(ctx).Create(&record)
		if createRes.Error != nil {
			// a parallel request won the creation race, read theirs
			retryRes := m.db.WithContext(ctx).
				Where("user_id = ?", userID).
				Where("period_key = ?", periodKey).
				First(&record)
			if retryRes.Error != nil {
				return nil, extErrors.Wrap(createRes.Error, "Cannot create usage record")
			}
		}
		return &record, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get usage record")
	}
	return &record, nil
}

// committedRecord builds a fresh period row that already carries one commit,
// for when the row the pre-check read no longer exists at commit time
func committedRecord(base *Record, periodKey string, billedChars, durationSeconds int64, now time.Time) *Record {
	return &Record{
		ID:                        shortuuid.New(),
		UserID:                    base.UserID,
		SubscriptionID:            base.SubscriptionID,
		PeriodKey:                 periodKey,
		CharactersUsed:            billedChars,
		RequestsCount:             1,
		AudioFilesGenerated:       1,
		TotalAudioDurationSeconds: durationSeconds,
		LastUsedAt:                now,
	}
}

// Commit applies a successful synthesis to the ledger as a single atomic
// increment keyed on (user, period), so parallel commits never lose an
// update. billedChars is the provider-reported count, not the request length.
func (m *Manager) Commit(ctx context.Context, record *Record, billedChars, durationSeconds int64) (*Record, error) {
	now := time.Now()
	var created *Record
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Record{}).
			Where("user_id = ?", record.UserID).
			Where("period_key = ?", record.PeriodKey).
			UpdateColumns(map[string]interface{}{
				"characters_used":              gorm.Expr("characters_used + ?", billedChars),
				"requests_count":               gorm.Expr("requests_count + ?", 1),
				"audio_files_generated":        gorm.Expr("audio_files_generated + ?", 1),
				"total_audio_duration_seconds": gorm.Expr("total_audio_duration_seconds + ?", durationSeconds),
				"last_used_at":                 now,
				"updated_at":                   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		// the row the pre-check saw is gone from under us, re-create the
		// period with the commit already applied
		created = committedRecord(record, m.currentPeriodKey(), billedChars, durationSeconds, now)
		return tx.Create(created).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		m.logger.Error("Unable to commit usage",
			zap.String("UserID", record.UserID),
			zap.String("PeriodKey", record.PeriodKey),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot commit usage")
	}
	if created != nil {
		// the fresh row already is the committed state, no reload needed
		return created, nil
	}

	var updated Record
	result := m.db.WithContext(ctx).
		Where("user_id = ?", record.UserID).
		Where("period_key = ?", record.PeriodKey).
		First(&updated)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot reload usage record")
	}
	return &updated, nil
}
