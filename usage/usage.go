package usage

import (
	"time"
)

// Record is the per-user, per-billing-period usage counter. One row exists
// per (UserID, PeriodKey); it is created lazily on first use within a period
// and its counters only ever grow.
type Record struct {
	ID                        string    `json:"-" gorm:"primaryKey"`
	UserID                    string    `json:"userId" gorm:"uniqueIndex:idx_usage_user_period"`
	SubscriptionID            string    `json:"subscriptionId" gorm:"index"`
	PeriodKey                 string    `json:"periodKey" gorm:"uniqueIndex:idx_usage_user_period"`
	CharactersUsed            int64     `json:"charactersUsed"`
	RequestsCount             int64     `json:"requestsCount"`
	AudioFilesGenerated       int64     `json:"audioFilesGenerated"`
	TotalAudioDurationSeconds int64     `json:"totalAudioDurationSeconds"`
	LastUsedAt                time.Time `json:"lastUsedAt"`
	CreatedAt                 time.Time `json:"-"`
	UpdatedAt                 time.Time `json:"-"`
}

// PeriodKey buckets a point in time into its calendar month, evaluated in the
// deployment's reference timezone
func PeriodKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}

// Quota is the admission decision plus the telemetry a client needs to act on it
type Quota struct {
	Allowed         bool    `json:"allowed"`
	CharactersUsed  int64   `json:"charactersUsed"`
	CharactersLimit int64   `json:"charactersLimit"`
	Remaining       int64   `json:"remaining"`
	UsagePercentage float64 `json:"usagePercentage"`

	Record *Record `json:"-"`
}

// Evaluate decides admission for a requested character count against the
// current period's usage. Percentage reflects usage before the request.
func Evaluate(used, requested, limit int64) Quota {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	var percentage float64
	if limit > 0 {
		percentage = float64(used) / float64(limit) * 100
	}
	return Quota{
		Allowed:         used+requested <= limit,
		CharactersUsed:  used,
		CharactersLimit: limit,
		Remaining:       remaining,
		UsagePercentage: percentage,
	}
}
