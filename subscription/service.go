package subscription

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/utterlabs/utter/auth"
	resp "github.com/utterlabs/utter/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	SubscriptionManager *Manager
	Logger              *zap.Logger
}

// Service is the subscription API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) listPlans(w http.ResponseWriter, r *http.Request) {
	plans := make([]Plan, 0, 4)
	for _, p := range s.SubscriptionManager.ListDefinedPlans() {
		if p.Retired {
			continue
		}
		plans = append(plans, p)
	}
	resp.WriteResponse(w, r, plans)
}

func (s *Service) getCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	sub, err := s.SubscriptionManager.GetCurrent(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to query current subscription",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get current subscription"))
		return
	}
	if sub == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No subscription found"))
		return
	}

	resp.WriteResponse(w, r, sub)
}

// NewSubscriptionRequest contains the request from client to subscribe to a plan
type NewSubscriptionRequest struct {
	PlanID           string `json:"planId" validate:"required"`
	PaymentMethod    string `json:"paymentMethod" validate:"required,oneof=card manual"`
	StripeCustomerID string `json:"stripeCustomerId" validate:"required_if=PaymentMethod card"`
	PaymentMethodID  string `json:"paymentMethodId" validate:"required_if=PaymentMethod card"`
}

func (s *Service) newSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req NewSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	plan, ok := s.SubscriptionManager.GetDefinedPlanByID(req.PlanID)
	if !ok || plan.Retired {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown or retired plan"))
		return
	}

	existing, err := s.SubscriptionManager.GetCurrent(ctx, claims.ID)
	if err != nil {
		logger.Error("Unable to check for existing subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create subscription"))
		return
	}
	if existing != nil && (existing.Status == StateActive || existing.Status == StatePending) {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("An open subscription already exists"))
		return
	}

	start, end := Window(plan, time.Now())
	sub := Subscription{
		ID:            uuid.New().String(),
		UserID:        claims.ID,
		PlanID:        plan.ID,
		Status:        StatePending,
		StartDate:     start,
		EndDate:       end,
		PaymentMethod: PaymentMethod(req.PaymentMethod),
	}

	if sub.PaymentMethod == PaymentCard {
		if err := s.SubscriptionManager.AttachPayment(ctx, AttachPaymentOptions{
			StripeCustomerID: req.StripeCustomerID,
			PaymentMethodID:  req.PaymentMethodID,
		}); err != nil {
			logger.Error("Unable to attach payment method",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unable to attach payment method"))
			return
		}
		stripeSub, err := s.SubscriptionManager.CreateStripeSubscription(ctx, req.StripeCustomerID, plan)
		if err != nil {
			logger.Error("Unable to create subscription on Stripe",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create subscription"))
			return
		}
		sub.StripeSubscriptionID = stripeSub.ID
	}

	if err := s.SubscriptionManager.Create(ctx, &sub); err != nil {
		logger.Error("Unable to create subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create subscription"))
		return
	}

	if sub.PaymentMethod == PaymentCard {
		// card payments activate immediately once Stripe reports active
		if err := s.SubscriptionManager.SynchronizeSubscriptionStatus(ctx, &sub); err != nil {
			logger.Error("Unable to synchronize subscription status",
				zap.String("SubscriptionID", sub.ID),
				zap.Error(err),
			)
			// fail through: the record stays pending and can be synchronized later
		}
	}

	resp.WriteResponse(w, r, sub)
}

func (s *Service) cancelCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	sub, err := s.SubscriptionManager.GetCurrent(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to query current subscription",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to cancel subscription"))
		return
	}
	if sub == nil || (sub.Status != StateActive && sub.Status != StatePending) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No open subscription found"))
		return
	}

	if err := s.SubscriptionManager.Cancel(ctx, claims.ID, sub.ID); err != nil {
		s.Logger.Error("Unable to cancel subscription",
			zap.String("SubscriptionID", sub.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to cancel subscription"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Router will return the routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/plans", s.listPlans)
	r.Get("/current", s.getCurrent)
	r.Post("/", s.newSubscription)
	r.Delete("/current", s.cancelCurrent)

	return r
}
