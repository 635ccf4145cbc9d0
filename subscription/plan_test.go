package subscription

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeaturesAllowsFormat(t *testing.T) {
	f := Features{
		AudioFormats: []string{"mp3", "wav"},
	}
	assert.True(t, f.AllowsFormat("mp3"))
	assert.True(t, f.AllowsFormat("MP3"))
	assert.True(t, f.AllowsFormat("wav"))
	assert.False(t, f.AllowsFormat("ogg"))

	empty := Features{}
	assert.False(t, empty.AllowsFormat("mp3"))
}

func TestFeaturesEffectiveConcurrencyLimit(t *testing.T) {
	assert.Equal(t, DefaultConcurrencyLimit, Features{}.EffectiveConcurrencyLimit())
	assert.Equal(t, int64(1), Features{ConcurrencyLimit: 1}.EffectiveConcurrencyLimit())
	assert.Equal(t, DefaultConcurrencyLimit, Features{ConcurrencyLimit: -3}.EffectiveConcurrencyLimit())
}

func TestSubscriptionExpired(t *testing.T) {
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	ended := Subscription{EndDate: now.Add(-time.Minute)}
	assert.True(t, ended.Expired(now))

	running := Subscription{EndDate: now.Add(time.Minute)}
	assert.False(t, running.Expired(now))

	lifetime := Subscription{}
	assert.False(t, lifetime.Expired(now))
}

func TestLoadPlansFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{
			"id": "starter",
			"name": "Starter",
			"description": "For trying things out",
			"priceAmount": 500,
			"currency": "usd",
			"billingPeriod": "monthly",
			"features": {
				"charactersPerMonth": 5000,
				"voicesAvailable": 5,
				"audioFormats": ["mp3"],
				"concurrencyLimit": 1
			}
		},
		{
			"id": "studio",
			"name": "Studio",
			"description": "Full catalog access",
			"priceAmount": 2900,
			"currency": "usd",
			"billingPeriod": "monthly",
			"features": {
				"charactersPerMonth": 500000,
				"voicesAvailable": 0,
				"audioFormats": ["mp3", "wav", "ogg"]
			},
			"retired": true
		}
	]`), 0644))

	plans, err := loadPlansFromFile(path)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.Equal(t, "starter", plans[0].ID)
	assert.Equal(t, PeriodMonthly, plans[0].BillingPeriod)
	assert.Equal(t, int64(5000), plans[0].Features.CharactersPerMonth)
	assert.Equal(t, int64(1), plans[0].Features.EffectiveConcurrencyLimit())

	assert.True(t, plans[1].Retired)
	assert.True(t, plans[1].Features.AllowsFormat("ogg"))

	t.Run("MissingFile", func(t *testing.T) {
		_, err := loadPlansFromFile(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})
}
