package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/utterlabs/utter/fault"

	"go.uber.org/zap"
)

// Entitlement is a user's currently valid right to consume the service
type Entitlement struct {
	Subscription *Subscription
	Plan         Plan
}

// Source supplies subscription records to the Gate
type Source interface {
	// GetCurrent returns the user's most recent subscription, nil if none
	GetCurrent(ctx context.Context, userID string) (*Subscription, error)
	// MarkExpired idempotently transitions an active subscription to expired
	MarkExpired(ctx context.Context, subscriptionID string) error
}

// PlanResolver looks up the read-only plan catalog
type PlanResolver interface {
	GetDefinedPlanByID(planID string) (Plan, bool)
}

// GateOptions contains the dependencies for the entitlement Gate
type GateOptions struct {
	Source Source
	Plans  PlanResolver
	Logger *zap.Logger

	// Now is overridable for tests, defaults to time.Now
	Now func() time.Time
}

// Gate resolves a user's entitlement before any synthesis work is admitted.
// Resolution is a pure read except for the lazy expiry write, which is the
// one mutation this path is authorized to perform.
type Gate struct {
	GateOptions
}

// NewGate will create an entitlement Gate
func NewGate(option GateOptions) (*Gate, error) {
	if option.Source == nil {
		return nil, fmt.Errorf("nil Source is invalid")
	}
	if option.Plans == nil {
		return nil, fmt.Errorf("nil Plans is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Gate{
		GateOptions: option,
	}, nil
}

// Resolve returns the subscription and plan backing the user's entitlement.
// No retries here: a failed lookup surfaces directly to the caller.
func (g *Gate) Resolve(ctx context.Context, userID string) (*Entitlement, error) {
	sub, err := g.Source.GetCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fault.New(fault.KindNoSubscription, "no subscription found for user")
	}

	if sub.Status == StateActive && sub.Expired(g.Now()) {
		if err := g.Source.MarkExpired(ctx, sub.ID); err != nil {
			// the read still resolves to expired, the write will be retried
			// on the next resolution
			g.Logger.Error("Unable to lazily expire subscription",
				zap.String("SubscriptionID", sub.ID),
				zap.Error(err),
			)
		}
		return nil, fault.New(fault.KindSubscriptionExpired, "subscription period has ended")
	}

	if sub.Status != StateActive {
		return nil, fault.New(fault.KindSubscriptionInactive, fmt.Sprintf("subscription is %s", sub.Status))
	}

	plan, ok := g.Plans.GetDefinedPlanByID(sub.PlanID)
	if !ok {
		g.Logger.Error("Active subscription references unknown plan",
			zap.String("SubscriptionID", sub.ID),
			zap.String("PlanID", sub.PlanID),
		)
		return nil, fault.New(fault.KindSubscriptionInactive, "subscription is tied to a retired plan")
	}

	return &Entitlement{
		Subscription: sub,
		Plan:         plan,
	}, nil
}
