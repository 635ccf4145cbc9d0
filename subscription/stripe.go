package subscription

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
)

// AttachPaymentOptions identifies the Stripe customer and their payment method
type AttachPaymentOptions struct {
	StripeCustomerID string
	PaymentMethodID  string
}

// AttachPayment attaches a payment method to the Stripe customer and makes
// it the default for invoices
func (m *Manager) AttachPayment(ctx context.Context, opt AttachPaymentOptions) error {
	if len(opt.StripeCustomerID) == 0 {
		return fmt.Errorf("AttachPaymentOptions.StripeCustomerID is required")
	}
	if len(opt.PaymentMethodID) == 0 {
		return fmt.Errorf("AttachPaymentOptions.PaymentMethodID is required")
	}
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(opt.StripeCustomerID),
	}
	pm, err := m.StripeClient.PaymentMethods.Attach(
		opt.PaymentMethodID,
		params,
	)
	if err != nil {
		return err
	}

	customerParams := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(pm.ID),
		},
	}
	if _, err := m.StripeClient.Customers.Update(
		opt.StripeCustomerID,
		customerParams,
	); err != nil {
		return err
	}

	return nil
}

// CreateStripeSubscription starts a Stripe subscription for a card-paid plan
func (m *Manager) CreateStripeSubscription(ctx context.Context, stripeCustomerID string, plan Plan) (*stripe.Subscription, error) {
	if len(stripeCustomerID) == 0 {
		return nil, fmt.Errorf("stripeCustomerID is required")
	}
	if plan.BillingPeriod == PeriodLifetime {
		return nil, fmt.Errorf("lifetime plans are not billable through Stripe")
	}
	if len(plan.StripePriceID) == 0 {
		return nil, fmt.Errorf("Plan %s was not synchronized with Stripe", plan.ID)
	}

	subscriptionParams := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer: stripe.String(stripeCustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	subscriptionParams.AddExpand("latest_invoice.payment_intent")
	subscriptionParams.AddExpand("pending_setup_intent")

	return m.StripeClient.Subscriptions.New(subscriptionParams)
}

// SynchronizeSubscriptionStatus re-fetches the Stripe subscription and mirrors
// an active status into the local record. Card-paid subscriptions activate
// through this path instead of the manual approval workflow.
func (m *Manager) SynchronizeSubscriptionStatus(ctx context.Context, sub *Subscription) error {
	if len(sub.StripeSubscriptionID) == 0 {
		return fmt.Errorf("subscription %s has no Stripe backing", sub.ID)
	}
	subscriptionParams := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	subscriptionParams.AddExpand("pending_setup_intent")
	stripeSub, err := m.StripeClient.Subscriptions.Get(sub.StripeSubscriptionID, subscriptionParams)
	if err != nil {
		return extErrors.Wrap(err, "Unable to fetch from Stripe to synchronize status")
	}
	if stripeSub.Status == stripe.SubscriptionStatusActive && stripeSub.PendingSetupIntent == nil {
		if err := m.Activate(ctx, sub.ID); err != nil {
			return extErrors.Wrap(err, "Unable to mark subscription as active in database")
		}
		sub.Status = StateActive
	}
	return nil
}
