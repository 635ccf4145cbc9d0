package subscription

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/utterlabs/utter/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	subscription *Subscription
	getErr       error
	markErr      error

	markedExpired []string
}

func (f *fakeSource) GetCurrent(ctx context.Context, userID string) (*Subscription, error) {
	return f.subscription, f.getErr
}

func (f *fakeSource) MarkExpired(ctx context.Context, subscriptionID string) error {
	f.markedExpired = append(f.markedExpired, subscriptionID)
	return f.markErr
}

type fakePlans struct {
	plans map[string]Plan
}

func (f *fakePlans) GetDefinedPlanByID(planID string) (Plan, bool) {
	p, ok := f.plans[planID]
	return p, ok
}

func testGate(t *testing.T, source Source, plans PlanResolver, now time.Time) *Gate {
	t.Helper()
	gate, err := NewGate(GateOptions{
		Source: source,
		Plans:  plans,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return gate
}

func TestGateResolve(t *testing.T) {
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	plans := &fakePlans{
		plans: map[string]Plan{
			"starter": {
				ID:   "starter",
				Name: "Starter",
				Features: Features{
					CharactersPerMonth: 5000,
				},
			},
		},
	}

	t.Run("NoSubscription", func(t *testing.T) {
		gate := testGate(t, &fakeSource{}, plans, now)
		_, err := gate.Resolve(context.Background(), "user-1")
		require.Error(t, err)
		assert.Equal(t, fault.KindNoSubscription, fault.KindOf(err))
	})

	t.Run("SourceErrorSurfaces", func(t *testing.T) {
		gate := testGate(t, &fakeSource{getErr: fmt.Errorf("db down")}, plans, now)
		_, err := gate.Resolve(context.Background(), "user-1")
		require.Error(t, err)
		assert.Equal(t, fault.Kind(""), fault.KindOf(err))
	})

	t.Run("ActivePastEndDateExpiresLazily", func(t *testing.T) {
		source := &fakeSource{
			subscription: &Subscription{
				ID:      "sub-1",
				PlanID:  "starter",
				Status:  StateActive,
				EndDate: now.Add(-time.Hour),
			},
		}
		gate := testGate(t, source, plans, now)
		_, err := gate.Resolve(context.Background(), "user-1")
		require.Error(t, err)
		assert.Equal(t, fault.KindSubscriptionExpired, fault.KindOf(err))
		assert.Equal(t, []string{"sub-1"}, source.markedExpired)
	})

	t.Run("ExpiryWriteFailureStillResolvesExpired", func(t *testing.T) {
		source := &fakeSource{
			subscription: &Subscription{
				ID:      "sub-1",
				PlanID:  "starter",
				Status:  StateActive,
				EndDate: now.Add(-time.Hour),
			},
			markErr: fmt.Errorf("db down"),
		}
		gate := testGate(t, source, plans, now)
		_, err := gate.Resolve(context.Background(), "user-1")
		require.Error(t, err)
		assert.Equal(t, fault.KindSubscriptionExpired, fault.KindOf(err))
	})

	t.Run("InactiveStates", func(t *testing.T) {
		for _, state := range []State{StatePending, StateCancelled, StateExpired} {
			source := &fakeSource{
				subscription: &Subscription{
					ID:     "sub-1",
					PlanID: "starter",
					Status: state,
				},
			}
			gate := testGate(t, source, plans, now)
			_, err := gate.Resolve(context.Background(), "user-1")
			require.Error(t, err, "state %s", state)
			assert.Equal(t, fault.KindSubscriptionInactive, fault.KindOf(err))
			assert.Empty(t, source.markedExpired)
		}
	})

	t.Run("RetiredPlanResolvesInactive", func(t *testing.T) {
		source := &fakeSource{
			subscription: &Subscription{
				ID:      "sub-1",
				PlanID:  "gone",
				Status:  StateActive,
				EndDate: now.Add(time.Hour * 24),
			},
		}
		gate := testGate(t, source, plans, now)
		_, err := gate.Resolve(context.Background(), "user-1")
		require.Error(t, err)
		assert.Equal(t, fault.KindSubscriptionInactive, fault.KindOf(err))
	})

	t.Run("ActiveWithinWindow", func(t *testing.T) {
		source := &fakeSource{
			subscription: &Subscription{
				ID:      "sub-1",
				PlanID:  "starter",
				Status:  StateActive,
				EndDate: now.Add(time.Hour * 24),
			},
		}
		gate := testGate(t, source, plans, now)
		ent, err := gate.Resolve(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "sub-1", ent.Subscription.ID)
		assert.Equal(t, int64(5000), ent.Plan.Features.CharactersPerMonth)
		assert.Empty(t, source.markedExpired)
	})

	t.Run("LifetimeNeverExpires", func(t *testing.T) {
		source := &fakeSource{
			subscription: &Subscription{
				ID:     "sub-1",
				PlanID: "starter",
				Status: StateActive,
				// zero EndDate
			},
		}
		gate := testGate(t, source, plans, now.AddDate(10, 0, 0))
		ent, err := gate.Resolve(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "sub-1", ent.Subscription.ID)
	})
}
