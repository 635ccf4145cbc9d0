package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions contains the dependencies for the subscription Manager
type ManagerOptions struct {
	StripeClient   *client.API
	DB             *gorm.DB
	Logger         *zap.Logger
	PathToPlanJSON string
}

// Manager handles the database operations relating to Subscription,
// and owns the read-only Plan catalog
type Manager struct {
	ManagerOptions
	planArray      []Plan
	planIDIndexMap map[string]int
}

// NewManager returns a new Manager for subscriptions
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.PathToPlanJSON) == 0 {
		return nil, fmt.Errorf("empty PathToPlanJSON is invalid")
	}
	if err := option.DB.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}

	plans, err := loadPlansFromFile(option.PathToPlanJSON)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot populate defined Plans")
	}

	planMap := make(map[string]int)
	for index, p := range plans {
		if err := p.ensureExistence(context.Background(), option.StripeClient); err != nil {
			return nil, extErrors.Wrap(err, "Cannot ensure Plan existence on Stripe")
		}
		planMap[p.ID] = index + 1
		plans[index] = p
	}

	return &Manager{
		ManagerOptions: option,
		planIDIndexMap: planMap,
		planArray:      plans,
	}, nil
}

// ListDefinedPlans returns the catalog as loaded at startup
func (m *Manager) ListDefinedPlans() []Plan {
	return m.planArray
}

// GetDefinedPlanByID looks up a Plan in the catalog
func (m *Manager) GetDefinedPlanByID(planID string) (Plan, bool) {
	index := m.planIDIndexMap[planID]
	if index == 0 {
		return Plan{}, false
	}
	return m.planArray[index-1], true
}

// Create persists a new subscription record
func (m *Manager) Create(ctx context.Context, sub *Subscription) error {
	result := m.DB.WithContext(ctx).Create(sub)
	if result.Error != nil {
		m.Logger.Error("Unable to create new subscription in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create subscription")
	}
	return nil
}

// GetCurrent returns the user's most recent subscription, or nil if the
// user never subscribed
func (m *Manager) GetCurrent(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get current subscription")
	}
	return &sub, nil
}

// GetByID returns a subscription scoped to its owner, or nil when absent
func (m *Manager) GetByID(ctx context.Context, userID, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("id = ?", subscriptionID).
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by id")
	}
	return &sub, nil
}

// MarkExpired transitions an active subscription to expired. This is the lazy
// expiry write the entitlement gate is authorized to perform during resolution;
// the conditional makes repeated invocations idempotent.
func (m *Manager) MarkExpired(ctx context.Context, subscriptionID string) error {
	result := m.DB.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Where("status = ?", StateActive).
		Update("status", StateExpired)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark subscription as expired")
	}
	return nil
}

// Activate flips a pending subscription to active
func (m *Manager) Activate(ctx context.Context, subscriptionID string) error {
	result := m.DB.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Where("status = ?", StatePending).
		Update("status", StateActive)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark subscription as active")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no pending subscription with id %s", subscriptionID)
	}
	return nil
}

// Cancel transitions the user's subscription to cancelled
func (m *Manager) Cancel(ctx context.Context, userID, subscriptionID string) error {
	result := m.DB.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Where("user_id = ?", userID).
		Where("status IN ?", []State{StatePending, StateActive}).
		Update("status", StateCancelled)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot cancel subscription")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no cancellable subscription with id %s", subscriptionID)
	}
	return nil
}

// Window computes the billing window for a plan starting now.
// Lifetime plans get a zero EndDate.
func Window(plan Plan, now time.Time) (time.Time, time.Time) {
	switch plan.BillingPeriod {
	case PeriodYearly:
		return now, now.AddDate(1, 0, 0)
	case PeriodLifetime:
		return now, time.Time{}
	default:
		return now, now.AddDate(0, 1, 0)
	}
}
