package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckoutSessionRepository stores the short-lived link between an account
// and its intended tier while a provider-hosted payment flow is in progress.
// Consumed sessions are retained so webhook redelivery can be recognised.
type CheckoutSessionRepository interface {
	Insert(ctx context.Context, s *model.CheckoutSession) error
	// Get returns the session regardless of consumption state, or nil.
	Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error)
	MarkConsumed(ctx context.Context, sessionID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

type checkoutSessionRepo struct {
	pool *pgxpool.Pool
}

// NewCheckoutSessionRepo creates a new CheckoutSessionRepository.
func NewCheckoutSessionRepo(pool *pgxpool.Pool) CheckoutSessionRepository {
	return &checkoutSessionRepo{pool: pool}
}

func (r *checkoutSessionRepo) Insert(ctx context.Context, s *model.CheckoutSession) error {
	const q = `
        INSERT INTO checkout_sessions (session_id, account_id, tier, created_at)
        VALUES ($1, $2, $3, NOW())
    `
	if _, err := r.pool.Exec(ctx, q, s.SessionID, s.AccountID, s.Tier); err != nil {
		return fmt.Errorf("insert checkout session %s: %w", s.SessionID, err)
	}
	return nil
}

func (r *checkoutSessionRepo) Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	const q = `
        SELECT session_id, account_id, tier, created_at, consumed_at
        FROM checkout_sessions
        WHERE session_id = $1
    `
	var s model.CheckoutSession
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(
		&s.SessionID,
		&s.AccountID,
		&s.Tier,
		&s.CreatedAt,
		&s.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch checkout session %s: %w", sessionID, err)
	}
	return &s, nil
}

func (r *checkoutSessionRepo) MarkConsumed(ctx context.Context, sessionID string) error {
	const q = `
        UPDATE checkout_sessions
        SET consumed_at = NOW()
        WHERE session_id = $1
          AND consumed_at IS NULL
    `
	if _, err := r.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("consume checkout session %s: %w", sessionID, err)
	}
	return nil
}

func (r *checkoutSessionRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	const q = `DELETE FROM checkout_sessions WHERE account_id = $1`
	if _, err := r.pool.Exec(ctx, q, accountID); err != nil {
		return fmt.Errorf("delete checkout sessions for account %s: %w", accountID, err)
	}
	return nil
}
