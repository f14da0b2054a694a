package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrQuotaExceeded is returned when an account has reached its tier ceiling.
var ErrQuotaExceeded = errors.New("quota_exceeded")

// ErrNoActiveSubscription is returned when an account has no subscription in
// a state that grants resource creation.
var ErrNoActiveSubscription = errors.New("no_active_subscription")

// ErrSubscriptionExists is returned when a subscription is created for an
// account that already has a live one. A live record is never overwritten;
// only a terminated row yields its slot to a new subscription.
var ErrSubscriptionExists = errors.New("subscription_exists")

// ErrSubscriptionNotFound is returned by transitions targeting a provider
// subscription id the store has never seen.
var ErrSubscriptionNotFound = errors.New("subscription_not_found")

// SubscriptionRepository is the sole mutator of subscription state. Usage
// reservation and release are single conditional statements so concurrent
// requests against one account serialize at the row.
type SubscriptionRepository interface {
	// GetByAccount returns the account's subscription, or nil when none exists.
	GetByAccount(ctx context.Context, accountID string) (*model.Subscription, error)
	// GetByProviderID returns the subscription for a provider-issued id, or nil.
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
	// Create establishes the one account-subscription edge. A terminated row
	// is replaced so the account can subscribe again; a create against a live
	// subscription fails with ErrSubscriptionExists.
	Create(ctx context.Context, sub *model.Subscription) error
	// Transition moves the subscription to the new status. Terminated rows
	// are never modified: the stored row is returned unchanged so callers
	// can recognise and ignore stale events.
	Transition(ctx context.Context, providerSubscriptionID string, status model.SubscriptionStatus, startsAt, endsAt *time.Time) (*model.Subscription, error)
	// CheckAndReserve atomically increments usage if the subscription is
	// entitled and below max. Returns ErrNoActiveSubscription or
	// ErrQuotaExceeded on denial.
	CheckAndReserve(ctx context.Context, accountID string, max int) (*model.Subscription, error)
	// Release decrements usage, clamped at zero.
	Release(ctx context.Context, accountID string) error
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionCols = `account_id, provider_subscription_id, tier, status, usage_count, starts_at, ends_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(
		&s.AccountID,
		&s.ProviderSubscriptionID,
		&s.Tier,
		&s.Status,
		&s.Usage,
		&s.StartsAt,
		&s.EndsAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepo) GetByAccount(ctx context.Context, accountID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE account_id = $1`
	sub, err := scanSubscription(r.pool.QueryRow(ctx, q, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch subscription for account %s: %w", accountID, err)
	}
	return sub, nil
}

func (r *subscriptionRepo) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE provider_subscription_id = $1`
	sub, err := scanSubscription(r.pool.QueryRow(ctx, q, providerSubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", providerSubscriptionID, err)
	}
	return sub, nil
}

func (r *subscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	// A terminated row is a spent tombstone; the conditional DO UPDATE hands
	// its slot to the new subscription while a live row still wins the
	// conflict and surfaces ErrSubscriptionExists.
	const q = `
        INSERT INTO subscriptions (account_id, provider_subscription_id, tier, status, usage_count, starts_at, ends_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, $5, $6, NOW(), NOW())
        ON CONFLICT (account_id) DO UPDATE
        SET provider_subscription_id = EXCLUDED.provider_subscription_id,
            tier = EXCLUDED.tier,
            status = EXCLUDED.status,
            usage_count = 0,
            starts_at = EXCLUDED.starts_at,
            ends_at = EXCLUDED.ends_at,
            created_at = NOW(),
            updated_at = NOW()
        WHERE subscriptions.status = 'terminated'
        RETURNING created_at, updated_at
    `
	err := r.pool.QueryRow(ctx, q,
		sub.AccountID,
		sub.ProviderSubscriptionID,
		sub.Tier,
		sub.Status,
		sub.StartsAt,
		sub.EndsAt,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSubscriptionExists
		}
		return fmt.Errorf("create subscription for account %s: %w", sub.AccountID, err)
	}
	return nil
}

func (r *subscriptionRepo) Transition(ctx context.Context, providerSubscriptionID string, status model.SubscriptionStatus, startsAt, endsAt *time.Time) (*model.Subscription, error) {
	q := `
        UPDATE subscriptions
        SET status = $2,
            starts_at = COALESCE($3, starts_at),
            ends_at = COALESCE($4, ends_at),
            updated_at = NOW()
        WHERE provider_subscription_id = $1
          AND status <> 'terminated'
        RETURNING ` + subscriptionCols
	sub, err := scanSubscription(r.pool.QueryRow(ctx, q, providerSubscriptionID, status, startsAt, endsAt))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition subscription %s to %s: %w", providerSubscriptionID, status, err)
	}
	// Either the row is absent or it is already terminated. A terminated row
	// is returned as-is so redelivered or stale events become no-ops.
	existing, err := r.GetByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, providerSubscriptionID)
	}
	return existing, nil
}

func (r *subscriptionRepo) CheckAndReserve(ctx context.Context, accountID string, max int) (*model.Subscription, error) {
	// The status and ceiling checks live in the UPDATE itself: two
	// concurrent reservations cannot both observe usage below max.
	q := `
        UPDATE subscriptions
        SET usage_count = usage_count + 1,
            updated_at = NOW()
        WHERE account_id = $1
          AND status IN ('active', 'cancelling')
          AND usage_count < $2
        RETURNING ` + subscriptionCols
	sub, err := scanSubscription(r.pool.QueryRow(ctx, q, accountID, max))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve usage for account %s: %w", accountID, err)
	}
	// Denied. Re-read to report which condition failed.
	existing, err := r.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if existing == nil || !existing.Status.Entitled() {
		return nil, ErrNoActiveSubscription
	}
	return nil, ErrQuotaExceeded
}

func (r *subscriptionRepo) Release(ctx context.Context, accountID string) error {
	const q = `
        UPDATE subscriptions
        SET usage_count = GREATEST(usage_count - 1, 0),
            updated_at = NOW()
        WHERE account_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, accountID); err != nil {
		return fmt.Errorf("release usage for account %s: %w", accountID, err)
	}
	return nil
}
