package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"app/internal/model"
	"app/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQRCodeNotFound is returned when a record does not exist or is owned by
// another account. The two cases are deliberately indistinguishable so a
// caller cannot probe for other accounts' records.
var ErrQRCodeNotFound = errors.New("qrcode_not_found")

// QRCodeService defines business logic methods for dynamic QR links.
type QRCodeService interface {
	// Create reserves quota for the account and stores a new record. The
	// server key is generated here.
	Create(ctx context.Context, accountID, targetURL string) (*model.DynamicQR, error)
	// Scan resolves a server key to its target and records the access.
	Scan(ctx context.Context, serverURL string) (string, error)
	List(ctx context.Context, accountID string) ([]model.DynamicQR, error)
	Get(ctx context.Context, accountID, id string) (*model.DynamicQR, error)
	UpdateTarget(ctx context.Context, accountID, id, targetURL string) (*model.DynamicQR, error)
	// Delete removes an owned record and releases its quota unit.
	Delete(ctx context.Context, accountID, id string) error
}

type qrCodeService struct {
	repo        repository.QRCodeRepository
	entitlement EntitlementService
	logger      zerolog.Logger
}

// NewQRCodeService creates a new QRCodeService with a scoped logger.
func NewQRCodeService(repo repository.QRCodeRepository, entitlement EntitlementService, logger zerolog.Logger) QRCodeService {
	return &qrCodeService{
		repo:        repo,
		entitlement: entitlement,
		logger:      logger.With().Str("service", "QRCodeService").Logger(),
	}
}

func (s *qrCodeService) Create(ctx context.Context, accountID, targetURL string) (*model.DynamicQR, error) {
	if _, err := s.entitlement.CheckAndReserve(ctx, accountID); err != nil {
		return nil, err
	}

	key, err := newServerKey()
	if err != nil {
		// The reservation is already durable, give it back.
		if relErr := s.entitlement.Release(ctx, accountID); relErr != nil {
			s.logger.Error().Err(relErr).Str("account_id", accountID).Msg("Failed to release reservation after key generation failure")
		}
		return nil, fmt.Errorf("generate server key: %w", err)
	}

	qr := &model.DynamicQR{
		ID:        uuid.NewString(),
		AccountID: accountID,
		ServerURL: key,
		TargetURL: targetURL,
	}
	if err := s.repo.Insert(ctx, qr); err != nil {
		if relErr := s.entitlement.Release(ctx, accountID); relErr != nil {
			s.logger.Error().Err(relErr).Str("account_id", accountID).Msg("Failed to release reservation after insert failure")
		}
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to insert qr code")
		return nil, err
	}
	return qr, nil
}

func (s *qrCodeService) Scan(ctx context.Context, serverURL string) (string, error) {
	target, found, err := s.repo.ResolveAndRecordAccess(ctx, serverURL)
	if err != nil {
		s.logger.Error().Err(err).Str("server_url", serverURL).Msg("Failed to resolve server url")
		return "", err
	}
	if !found {
		return "", ErrQRCodeNotFound
	}
	return target, nil
}

func (s *qrCodeService) List(ctx context.Context, accountID string) ([]model.DynamicQR, error) {
	qrs, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to list qr codes")
		return nil, err
	}
	return qrs, nil
}

func (s *qrCodeService) Get(ctx context.Context, accountID, id string) (*model.DynamicQR, error) {
	qr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("qr_id", id).Msg("Failed to fetch qr code")
		return nil, err
	}
	if qr == nil || qr.AccountID != accountID {
		return nil, ErrQRCodeNotFound
	}
	return qr, nil
}

func (s *qrCodeService) UpdateTarget(ctx context.Context, accountID, id, targetURL string) (*model.DynamicQR, error) {
	qr, err := s.repo.UpdateTarget(ctx, id, accountID, targetURL)
	if err != nil {
		s.logger.Error().Err(err).Str("qr_id", id).Msg("Failed to update qr code")
		return nil, err
	}
	if qr == nil {
		return nil, ErrQRCodeNotFound
	}
	return qr, nil
}

func (s *qrCodeService) Delete(ctx context.Context, accountID, id string) error {
	deleted, err := s.repo.Delete(ctx, id, accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("qr_id", id).Msg("Failed to delete qr code")
		return err
	}
	if !deleted {
		return ErrQRCodeNotFound
	}
	return s.entitlement.Release(ctx, accountID)
}

// newServerKey generates the short lookup key embedded in a QR code.
func newServerKey() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	key := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return strings.ToLower(key), nil
}
