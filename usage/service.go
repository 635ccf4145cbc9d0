package usage

import (
	"context"
	"fmt"
	"net/http"

	"github.com/utterlabs/utter/auth"
	resp "github.com/utterlabs/utter/response"
	"github.com/utterlabs/utter/subscription"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// EntitlementResolver resolves the caller's subscription and plan
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID string) (*subscription.Entitlement, error)
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Gate         EntitlementResolver
	UsageManager *Manager
	Logger       *zap.Logger
}

// Service is the usage API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the usage API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Gate == nil {
		return nil, fmt.Errorf("nil Gate is invalid")
	}
	if option.UsageManager == nil {
		return nil, fmt.Errorf("nil UsageManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) getCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	ent, err := s.Gate.Resolve(ctx, claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.FromFault(err))
		return
	}

	quota, err := s.UsageManager.Snapshot(ctx, claims.ID, ent.Plan.Features.CharactersPerMonth)
	if err != nil {
		s.Logger.Error("Unable to snapshot usage",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get usage"))
		return
	}

	resp.WriteResponse(w, r, quota)
}

// Router will return the routes under usage API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/current", s.getCurrent)

	return r
}
