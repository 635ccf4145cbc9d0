package subscription

import "time"

// Subscription ties a user to a Plan for a billing window.
// At most one subscription per user may be in the active state at any time.
type Subscription struct {
	ID                   string        `json:"id" gorm:"primaryKey"`
	UserID               string        `json:"userId" gorm:"index"`
	PlanID               string        `json:"planId" gorm:"index"`
	Status               State         `json:"status" gorm:"index"`
	StartDate            time.Time     `json:"startDate"`
	EndDate              time.Time     `json:"endDate"` // zero for lifetime plans
	PaymentMethod        PaymentMethod `json:"paymentMethod"`
	StripeSubscriptionID string        `json:"-"` // populated for card payments only
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"-"`
}

// Expired reports whether the subscription's billing window has passed.
// Lifetime subscriptions carry a zero EndDate and never expire.
func (s *Subscription) Expired(now time.Time) bool {
	if s.EndDate.IsZero() {
		return false
	}
	return s.EndDate.Before(now)
}
