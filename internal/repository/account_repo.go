package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository defines methods for accessing account records.
type AccountRepository interface {
	// Upsert creates the account if it does not exist and returns the stored
	// row either way. Display attributes of an existing account are left
	// untouched, which makes signup replays harmless.
	Upsert(ctx context.Context, acct *model.Account) (*model.Account, error)
	GetByID(ctx context.Context, accountID string) (*model.Account, error)
}

type accountRepo struct {
	pool *pgxpool.Pool
}

// NewAccountRepo creates a new AccountRepository.
func NewAccountRepo(pool *pgxpool.Pool) AccountRepository {
	return &accountRepo{pool: pool}
}

func (r *accountRepo) Upsert(ctx context.Context, acct *model.Account) (*model.Account, error) {
	const q = `
        INSERT INTO accounts (account_id, username, email, created_at, updated_at)
        VALUES ($1, $2, $3, NOW(), NOW())
        ON CONFLICT (account_id) DO UPDATE SET updated_at = accounts.updated_at
        RETURNING account_id, username, email, created_at, updated_at
    `
	var a model.Account
	err := r.pool.QueryRow(ctx, q, acct.AccountID, acct.Username, acct.Email).Scan(
		&a.AccountID,
		&a.Username,
		&a.Email,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert account %s: %w", acct.AccountID, err)
	}
	return &a, nil
}

func (r *accountRepo) GetByID(ctx context.Context, accountID string) (*model.Account, error) {
	const q = `
        SELECT account_id, username, email, created_at, updated_at
        FROM accounts
        WHERE account_id = $1
    `
	var a model.Account
	err := r.pool.QueryRow(ctx, q, accountID).Scan(
		&a.AccountID,
		&a.Username,
		&a.Email,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch account %s: %w", accountID, err)
	}
	return &a, nil
}
