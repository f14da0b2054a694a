package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QRCodeRepository stores dynamic QR link records.
type QRCodeRepository interface {
	Insert(ctx context.Context, qr *model.DynamicQR) error
	// GetByID returns the record, or nil when it does not exist.
	GetByID(ctx context.Context, id string) (*model.DynamicQR, error)
	ListByAccount(ctx context.Context, accountID string) ([]model.DynamicQR, error)
	// UpdateTarget retargets a record owned by the given account. Returns nil
	// when no such owned record exists.
	UpdateTarget(ctx context.Context, id, accountID, targetURL string) (*model.DynamicQR, error)
	// Delete removes a record owned by the given account and reports whether
	// a row was removed.
	Delete(ctx context.Context, id, accountID string) (bool, error)
	// ResolveAndRecordAccess looks up the target for a server key and bumps
	// the access metadata in the same statement.
	ResolveAndRecordAccess(ctx context.Context, serverURL string) (string, bool, error)
	DeleteByAccount(ctx context.Context, accountID string) error
}

type qrCodeRepo struct {
	pool *pgxpool.Pool
}

// NewQRCodeRepo creates a new QRCodeRepository.
func NewQRCodeRepo(pool *pgxpool.Pool) QRCodeRepository {
	return &qrCodeRepo{pool: pool}
}

const qrCols = `id, account_id, server_url, target_url, access_count, last_accessed_at, created_at, updated_at`

func scanQR(row pgx.Row) (*model.DynamicQR, error) {
	var qr model.DynamicQR
	err := row.Scan(
		&qr.ID,
		&qr.AccountID,
		&qr.ServerURL,
		&qr.TargetURL,
		&qr.AccessCount,
		&qr.LastAccessedAt,
		&qr.CreatedAt,
		&qr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &qr, nil
}

func (r *qrCodeRepo) Insert(ctx context.Context, qr *model.DynamicQR) error {
	const q = `
        INSERT INTO dynamic_qrcodes (id, account_id, server_url, target_url, access_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
        RETURNING created_at, updated_at
    `
	err := r.pool.QueryRow(ctx, q, qr.ID, qr.AccountID, qr.ServerURL, qr.TargetURL).Scan(&qr.CreatedAt, &qr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert qr code %s: %w", qr.ID, err)
	}
	return nil
}

func (r *qrCodeRepo) GetByID(ctx context.Context, id string) (*model.DynamicQR, error) {
	q := `SELECT ` + qrCols + ` FROM dynamic_qrcodes WHERE id = $1`
	qr, err := scanQR(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch qr code %s: %w", id, err)
	}
	return qr, nil
}

func (r *qrCodeRepo) ListByAccount(ctx context.Context, accountID string) ([]model.DynamicQR, error) {
	q := `SELECT ` + qrCols + ` FROM dynamic_qrcodes WHERE account_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, fmt.Errorf("list qr codes for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []model.DynamicQR
	for rows.Next() {
		qr, err := scanQR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan qr code row: %w", err)
		}
		out = append(out, *qr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list qr codes for account %s: %w", accountID, err)
	}
	return out, nil
}

func (r *qrCodeRepo) UpdateTarget(ctx context.Context, id, accountID, targetURL string) (*model.DynamicQR, error) {
	q := `
        UPDATE dynamic_qrcodes
        SET target_url = $3,
            updated_at = NOW()
        WHERE id = $1
          AND account_id = $2
        RETURNING ` + qrCols
	qr, err := scanQR(r.pool.QueryRow(ctx, q, id, accountID, targetURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update qr code %s: %w", id, err)
	}
	return qr, nil
}

func (r *qrCodeRepo) Delete(ctx context.Context, id, accountID string) (bool, error) {
	const q = `DELETE FROM dynamic_qrcodes WHERE id = $1 AND account_id = $2`
	tag, err := r.pool.Exec(ctx, q, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete qr code %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *qrCodeRepo) ResolveAndRecordAccess(ctx context.Context, serverURL string) (string, bool, error) {
	const q = `
        UPDATE dynamic_qrcodes
        SET access_count = access_count + 1,
            last_accessed_at = NOW()
        WHERE server_url = $1
        RETURNING target_url
    `
	var target string
	if err := r.pool.QueryRow(ctx, q, serverURL).Scan(&target); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve server url %s: %w", serverURL, err)
	}
	return target, true, nil
}

func (r *qrCodeRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	const q = `DELETE FROM dynamic_qrcodes WHERE account_id = $1`
	if _, err := r.pool.Exec(ctx, q, accountID); err != nil {
		return fmt.Errorf("delete qr codes for account %s: %w", accountID, err)
	}
	return nil
}
