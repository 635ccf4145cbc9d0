package response

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/utterlabs/utter/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFault(t *testing.T) {
	cases := []struct {
		kind   fault.Kind
		status int
	}{
		{fault.KindInvalidInput, http.StatusBadRequest},
		{fault.KindUnsupportedFormat, http.StatusBadRequest},
		{fault.KindUnsupportedEngine, http.StatusBadRequest},
		{fault.KindInvalidVoice, http.StatusBadRequest},
		{fault.KindNoSubscription, http.StatusPaymentRequired},
		{fault.KindSubscriptionInactive, http.StatusPaymentRequired},
		{fault.KindSubscriptionExpired, http.StatusPaymentRequired},
		{fault.KindQuotaExceeded, http.StatusTooManyRequests},
		{fault.KindConcurrencyLimitExceeded, http.StatusTooManyRequests},
		{fault.KindSynthesisProviderError, http.StatusBadGateway},
		{fault.KindStorageError, http.StatusInternalServerError},
		{fault.KindSigningError, http.StatusInternalServerError},
		{fault.KindNotFound, http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(string(c.kind), func(t *testing.T) {
			httpErr := FromFault(fault.New(c.kind, "boom"))
			assert.Equal(t, c.status, httpErr.StatusCode)
			assert.Equal(t, string(c.kind), httpErr.Kind)
		})
	}

	t.Run("UnclassifiedErrorIsUnexpected", func(t *testing.T) {
		httpErr := FromFault(fmt.Errorf("plain failure"))
		assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	})

	t.Run("QuotaTelemetryRidesInResult", func(t *testing.T) {
		err := fault.New(fault.KindQuotaExceeded, "monthly character quota exceeded").
			WithQuota(fault.QuotaTelemetry{
				CharactersUsed:  4990,
				CharactersLimit: 5000,
				Remaining:       10,
				UsagePercentage: 99.8,
			})
		httpErr := FromFault(err)
		telemetry, ok := httpErr.Result.(*fault.QuotaTelemetry)
		require.True(t, ok)
		assert.Equal(t, int64(10), telemetry.Remaining)
	})

	t.Run("ConcurrencyTelemetryRidesInResult", func(t *testing.T) {
		err := fault.New(fault.KindConcurrencyLimitExceeded, "too many jobs").
			WithConcurrency(fault.ConcurrencyTelemetry{Active: 5, Allowed: 5})
		httpErr := FromFault(err)
		telemetry, ok := httpErr.Result.(*fault.ConcurrencyTelemetry)
		require.True(t, ok)
		assert.Equal(t, int64(5), telemetry.Allowed)
	})
}
