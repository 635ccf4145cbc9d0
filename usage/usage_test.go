package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Run("WithinQuota", func(t *testing.T) {
		q := Evaluate(1000, 500, 5000)
		assert.True(t, q.Allowed)
		assert.Equal(t, int64(1000), q.CharactersUsed)
		assert.Equal(t, int64(5000), q.CharactersLimit)
		assert.Equal(t, int64(4000), q.Remaining)
		assert.InDelta(t, 20.0, q.UsagePercentage, 0.001)
	})

	t.Run("ExactBoundaryIsAllowed", func(t *testing.T) {
		q := Evaluate(4500, 500, 5000)
		assert.True(t, q.Allowed)
		assert.Equal(t, int64(500), q.Remaining)
	})

	t.Run("OneOverBoundaryIsDenied", func(t *testing.T) {
		q := Evaluate(4500, 501, 5000)
		assert.False(t, q.Allowed)
	})

	t.Run("DenialReportsPreRequestTelemetry", func(t *testing.T) {
		q := Evaluate(4990, 20, 5000)
		require.False(t, q.Allowed)
		assert.Equal(t, int64(4990), q.CharactersUsed)
		assert.Equal(t, int64(10), q.Remaining)
		assert.InDelta(t, 99.8, q.UsagePercentage, 0.001)
	})

	t.Run("UsedBeyondLimitClampsRemaining", func(t *testing.T) {
		q := Evaluate(5200, 1, 5000)
		assert.False(t, q.Allowed)
		assert.Equal(t, int64(0), q.Remaining)
		assert.InDelta(t, 104.0, q.UsagePercentage, 0.001)
	})

	t.Run("ZeroLimitDeniesEverything", func(t *testing.T) {
		q := Evaluate(0, 1, 0)
		assert.False(t, q.Allowed)
		assert.Equal(t, float64(0), q.UsagePercentage)
	})

	t.Run("ZeroRequestAgainstZeroLimit", func(t *testing.T) {
		q := Evaluate(0, 0, 0)
		assert.True(t, q.Allowed)
	})
}

func TestCommittedRecord(t *testing.T) {
	now := time.Date(2026, time.August, 1, 0, 5, 0, 0, time.UTC)
	base := &Record{
		ID:             "old-row",
		UserID:         "user-1",
		SubscriptionID: "sub-1",
		PeriodKey:      "2026-07",
		CharactersUsed: 4000,
	}

	fresh := committedRecord(base, "2026-08", 120, 30, now)

	// the row carries the key it is written under, plus exactly one commit
	assert.Equal(t, "2026-08", fresh.PeriodKey)
	assert.Equal(t, int64(120), fresh.CharactersUsed)
	assert.Equal(t, int64(1), fresh.RequestsCount)
	assert.Equal(t, int64(1), fresh.AudioFilesGenerated)
	assert.Equal(t, int64(30), fresh.TotalAudioDurationSeconds)
	assert.Equal(t, now, fresh.LastUsedAt)
	assert.Equal(t, "user-1", fresh.UserID)
	assert.Equal(t, "sub-1", fresh.SubscriptionID)
	require.NotEmpty(t, fresh.ID)
	assert.NotEqual(t, base.ID, fresh.ID)
}

func TestPeriodKey(t *testing.T) {
	utcLate := time.Date(2026, time.January, 31, 23, 30, 0, 0, time.UTC)

	t.Run("UTC", func(t *testing.T) {
		assert.Equal(t, "2026-01", PeriodKey(utcLate, time.UTC))
	})

	t.Run("NilLocationDefaultsToUTC", func(t *testing.T) {
		assert.Equal(t, "2026-01", PeriodKey(utcLate, nil))
	})

	t.Run("TimezoneShiftsPeriodBoundary", func(t *testing.T) {
		tokyo, err := time.LoadLocation("Asia/Tokyo")
		require.NoError(t, err)
		// 23:30 UTC on Jan 31 is already February in Tokyo
		assert.Equal(t, "2026-02", PeriodKey(utcLate, tokyo))
	})
}
