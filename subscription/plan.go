package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// loadPlansFromFile will read from the plan JSON file to define what plans are available for purchase.
// Stripe ID fields will be populated via ensureExistence().
// Note, if you change Plan.Name, Plan.Currency, Plan.BillingPeriod, or Plan.PriceAmount,
// a new Product and Price will be created on Stripe. To reprice an existing Plan,
// make a new Plan and mark the old one as Retired.
func loadPlansFromFile(filename string) ([]Plan, error) {
	jsonBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open plans JSON file")
	}
	plans := make([]Plan, 0, 1)
	if err := json.Unmarshal(jsonBytes, &plans); err != nil {
		return nil, extErrors.Wrap(err, "Invalid plan JSON file")
	}
	return plans, nil
}

var lookupKeyRegex = regexp.MustCompile("[^a-zA-Z0-9]+")

// Features describes what a Plan entitles its subscriber to consume
type Features struct {
	CharactersPerMonth int64    `json:"charactersPerMonth"` // monthly character quota for synthesis
	VoicesAvailable    int      `json:"voicesAvailable"`    // how many catalog voices are usable, 0 for all
	AudioFormats       []string `json:"audioFormats"`       // output formats the plan allows
	ConcurrencyLimit   int64    `json:"concurrencyLimit"`   // simultaneous in-flight jobs, 0 for default
}

// AllowsFormat reports whether the plan permits the given output format
func (f Features) AllowsFormat(format string) bool {
	for _, allowed := range f.AudioFormats {
		if strings.EqualFold(allowed, format) {
			return true
		}
	}
	return false
}

// EffectiveConcurrencyLimit applies the default ceiling when the plan leaves it unset
func (f Features) EffectiveConcurrencyLimit() int64 {
	if f.ConcurrencyLimit <= 0 {
		return DefaultConcurrencyLimit
	}
	return f.ConcurrencyLimit
}

// Plan describes a purchasable tier. This corresponds to Stripe's "Product".
// The catalog is immutable from the pipeline's perspective: read-only lookups only.
type Plan struct {
	ID            string        `json:"id"`            // stable catalog identifier, referenced by Subscription.PlanID
	Name          string        `json:"name"`          // shown to the customer and on Stripe
	Description   string        `json:"description"`   // shown to the customer
	PriceAmount   float64       `json:"priceAmount"`   // amount in cents per billing period
	Currency      string        `json:"currency"`      // ISO currency code (e.g. usd)
	BillingPeriod BillingPeriod `json:"billingPeriod"` // monthly, yearly, or lifetime
	Features      Features      `json:"features"`
	Retired       bool          `json:"retired"` // no longer purchasable (archived on Stripe)

	StripeProductID string `json:"-"` // populated by ensureExistence
	StripePriceID   string `json:"-"` // populated by ensureExistence
}

// lookupKey generates a unique LookupKey on Stripe to identify the Plan's Price
func (p *Plan) lookupKey() string {
	planName := lookupKeyRegex.ReplaceAllString(p.Name, "-")
	amountPart := fmt.Sprintf("%f", p.PriceAmount)
	return strings.ToLower(fmt.Sprintf("%s_%s_%s_%s", planName, p.BillingPeriod, p.Currency, amountPart))
}

func (p *Plan) stripeInterval() string {
	switch p.BillingPeriod {
	case PeriodYearly:
		return "year"
	default:
		return "month"
	}
}

// ensureExistence makes sure the Plan exists as a Product with a recurring Price
// on Stripe, populating the Stripe ID fields. Lifetime plans are activated through
// the approval workflow instead of Stripe and are skipped here.
func (p *Plan) ensureExistence(ctx context.Context, s *client.API) error {
	if p.BillingPeriod == PeriodLifetime {
		return nil
	}
	if len(p.StripePriceID) > 0 {
		return nil
	}

	lookupParams := &stripe.PriceListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
		},
		Active:     stripe.Bool(true),
		LookupKeys: []*string{stripe.String(p.lookupKey())},
	}
	pricesIter := s.Prices.List(lookupParams)
	for pricesIter.Next() {
		price := pricesIter.Price()
		p.StripePriceID = price.ID
		p.StripeProductID = price.Product.ID
	}
	if pricesIter.Err() != nil {
		return extErrors.Wrap(pricesIter.Err(), "Cannot ensure Plan existence on Stripe")
	}

	if len(p.StripePriceID) > 0 {
		// synchronize retired/archived status on Stripe
		if _, err := s.Products.Update(p.StripeProductID, &stripe.ProductParams{
			Params: stripe.Params{
				Context: ctx,
			},
			Active: stripe.Bool(!p.Retired),
		}); err != nil {
			return extErrors.Wrap(err, "Cannot synchronize Plan Retired/Product Archived status on Stripe")
		}
		return nil
	}

	return p.createPlanOnStripe(ctx, s)
}

// createPlanOnStripe will create the missing Plan as Product and Price on Stripe
func (p *Plan) createPlanOnStripe(ctx context.Context, s *client.API) error {
	prodParams := &stripe.ProductParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"PlanID": p.ID,
			},
		},
		Active:      stripe.Bool(true),
		Name:        stripe.String(p.Name),
		Description: stripe.String(p.Description),
	}
	stripeProduct, err := s.Products.New(prodParams)
	if err != nil {
		return extErrors.Wrap(err, "Cannot create Plan as Product on Stripe")
	}
	p.StripeProductID = stripeProduct.ID

	priceParams := &stripe.PriceParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active:            stripe.Bool(true),
		Nickname:          stripe.String(p.Name),
		BillingScheme:     stripe.String("per_unit"),
		Currency:          stripe.String(p.Currency),
		UnitAmountDecimal: stripe.Float64(p.PriceAmount),
		Product:           stripe.String(p.StripeProductID),
		LookupKey:         stripe.String(p.lookupKey()),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(p.stripeInterval()),
			IntervalCount: stripe.Int64(1),
			UsageType:     stripe.String("licensed"),
		},
	}
	price, err := s.Prices.New(priceParams)
	if err != nil {
		return extErrors.Wrap(err, "Cannot create Plan Price on Stripe")
	}
	p.StripePriceID = price.ID
	return nil
}
