package external

import (
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// NewStripeClient returns an initialized Stripe client identifying
// this application on every API call
func NewStripeClient(key string) *client.API {
	stripe.SetAppInfo(&stripe.AppInfo{
		Name: "utter",
		URL:  "https://github.com/utterlabs/utter",
	})
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}
