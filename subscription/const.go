package subscription

// State is the custom type to define the current state of a subscription
type State string

// Defining different States for a Subscription
const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// BillingPeriod is the custom type for how often a Plan renews
type BillingPeriod string

// Defining constants
const (
	PeriodMonthly  BillingPeriod = "monthly"
	PeriodYearly   BillingPeriod = "yearly"
	PeriodLifetime BillingPeriod = "lifetime"
)

// PaymentMethod identifies how a subscription is paid for.
// Card payments activate immediately through Stripe; everything else
// stays pending until the approval workflow flips it.
type PaymentMethod string

// Defining constants
const (
	PaymentCard   PaymentMethod = "card"
	PaymentManual PaymentMethod = "manual"
)

// DefaultConcurrencyLimit applies when a Plan does not set one
const DefaultConcurrencyLimit int64 = 5
