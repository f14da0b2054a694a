package service

import (
	"context"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// EntitlementService gates resource creation on subscription state and the
// tier usage ceiling. Reservation is atomic at the store, so concurrent
// creates against one account can never overshoot the ceiling.
type EntitlementService interface {
	GetSubscription(ctx context.Context, accountID string) (*model.Subscription, error)
	// CheckAndReserve permits one resource creation, incrementing usage.
	// Returns repository.ErrNoActiveSubscription or repository.ErrQuotaExceeded
	// on denial.
	CheckAndReserve(ctx context.Context, accountID string) (*model.Subscription, error)
	// Release returns one unit of usage, clamped at zero.
	Release(ctx context.Context, accountID string) error
}

type entitlementService struct {
	subRepo repository.SubscriptionRepository
	logger  zerolog.Logger
}

// NewEntitlementService creates a new EntitlementService with a scoped logger.
func NewEntitlementService(subRepo repository.SubscriptionRepository, logger zerolog.Logger) EntitlementService {
	return &entitlementService{
		subRepo: subRepo,
		logger:  logger.With().Str("service", "EntitlementService").Logger(),
	}
}

func (s *entitlementService) GetSubscription(ctx context.Context, accountID string) (*model.Subscription, error) {
	sub, err := s.subRepo.GetByAccount(ctx, accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to fetch subscription")
		return nil, err
	}
	return sub, nil
}

func (s *entitlementService) CheckAndReserve(ctx context.Context, accountID string) (*model.Subscription, error) {
	sub, err := s.subRepo.GetByAccount(ctx, accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to fetch subscription for reservation")
		return nil, err
	}
	if sub == nil || !sub.Status.Entitled() {
		return nil, repository.ErrNoActiveSubscription
	}
	// The ceiling is re-checked inside the conditional update; the read
	// above only resolves the tier.
	reserved, err := s.subRepo.CheckAndReserve(ctx, accountID, sub.Tier.MaxUsage())
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("account_id", accountID).Int("usage", reserved.Usage).Msg("Usage reserved")
	return reserved, nil
}

func (s *entitlementService) Release(ctx context.Context, accountID string) error {
	if err := s.subRepo.Release(ctx, accountID); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to release usage")
		return err
	}
	return nil
}
