package service

import (
	"context"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// AccountService defines business logic methods for accounts.
type AccountService interface {
	// Signup creates the account on first call and returns the stored record
	// on every call after that.
	Signup(ctx context.Context, subject, username, email string) (*model.Account, error)
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
}

type accountService struct {
	repo   repository.AccountRepository
	logger zerolog.Logger
}

// NewAccountService creates a new AccountService with a scoped logger.
func NewAccountService(repo repository.AccountRepository, logger zerolog.Logger) AccountService {
	return &accountService{
		repo:   repo,
		logger: logger.With().Str("service", "AccountService").Logger(),
	}
}

func (s *accountService) Signup(ctx context.Context, subject, username, email string) (*model.Account, error) {
	acct := &model.Account{
		AccountID: model.NormalizeAccountID(subject),
		Username:  username,
		Email:     email,
	}
	created, err := s.repo.Upsert(ctx, acct)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", acct.AccountID).Msg("Failed to upsert account")
		return nil, err
	}
	return created, nil
}

func (s *accountService) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	acct, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to fetch account")
		return nil, err
	}
	return acct, nil
}
