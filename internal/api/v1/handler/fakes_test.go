package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"app/internal/auth"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/repository"

	"github.com/dgrijalva/jwt-go"
)

// testAuth stands in for the verifying middleware and injects already
// verified claims.
func testAuth(claims *auth.Claims) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFor(subject string, scopes ...auth.Scope) *auth.Claims {
	perms := make([]string, len(scopes))
	for i, s := range scopes {
		perms[i] = string(s)
	}
	return &auth.Claims{
		StandardClaims: jwt.StandardClaims{Subject: subject},
		Permissions:    perms,
	}
}

func allScopes() []auth.Scope {
	return []auth.Scope{auth.ScopeReadQR, auth.ScopeWriteQR, auth.ScopeDeleteQR}
}

type memSubscriptionRepo struct {
	mu         sync.Mutex
	byAccount  map[string]*model.Subscription
	byProvider map[string]string
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{
		byAccount:  map[string]*model.Subscription{},
		byProvider: map[string]string{},
	}
}

func (f *memSubscriptionRepo) put(sub model.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byAccount[sub.AccountID] = &sub
	f.byProvider[sub.ProviderSubscriptionID] = sub.AccountID
}

func (f *memSubscriptionRepo) GetByAccount(ctx context.Context, accountID string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byAccount[accountID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (f *memSubscriptionRepo) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accountID, ok := f.byProvider[providerSubscriptionID]
	if !ok {
		return nil, nil
	}
	cp := *f.byAccount[accountID]
	return &cp, nil
}

func (f *memSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byAccount[sub.AccountID]; ok {
		if !existing.Status.Terminal() {
			return repository.ErrSubscriptionExists
		}
		delete(f.byProvider, existing.ProviderSubscriptionID)
	}
	cp := *sub
	f.byAccount[sub.AccountID] = &cp
	f.byProvider[sub.ProviderSubscriptionID] = sub.AccountID
	return nil
}

func (f *memSubscriptionRepo) Transition(ctx context.Context, providerSubscriptionID string, status model.SubscriptionStatus, startsAt, endsAt *time.Time) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accountID, ok := f.byProvider[providerSubscriptionID]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	sub := f.byAccount[accountID]
	if !sub.Status.Terminal() {
		sub.Status = status
		if startsAt != nil {
			sub.StartsAt = *startsAt
		}
		if endsAt != nil {
			t := *endsAt
			sub.EndsAt = &t
		}
	}
	cp := *sub
	return &cp, nil
}

func (f *memSubscriptionRepo) CheckAndReserve(ctx context.Context, accountID string, max int) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byAccount[accountID]
	if !ok || !sub.Status.Entitled() {
		return nil, repository.ErrNoActiveSubscription
	}
	if sub.Usage >= max {
		return nil, repository.ErrQuotaExceeded
	}
	sub.Usage++
	cp := *sub
	return &cp, nil
}

func (f *memSubscriptionRepo) Release(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.byAccount[accountID]; ok && sub.Usage > 0 {
		sub.Usage--
	}
	return nil
}

type memQRCodeRepo struct {
	mu   sync.Mutex
	byID map[string]*model.DynamicQR
}

func newMemQRCodeRepo() *memQRCodeRepo {
	return &memQRCodeRepo{byID: map[string]*model.DynamicQR{}}
}

func (f *memQRCodeRepo) Insert(ctx context.Context, qr *model.DynamicQR) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	qr.CreatedAt = now
	qr.UpdatedAt = now
	cp := *qr
	f.byID[qr.ID] = &cp
	return nil
}

func (f *memQRCodeRepo) GetByID(ctx context.Context, id string) (*model.DynamicQR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *qr
	return &cp, nil
}

func (f *memQRCodeRepo) ListByAccount(ctx context.Context, accountID string) ([]model.DynamicQR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DynamicQR
	for _, qr := range f.byID {
		if qr.AccountID == accountID {
			out = append(out, *qr)
		}
	}
	return out, nil
}

func (f *memQRCodeRepo) UpdateTarget(ctx context.Context, id, accountID, targetURL string) (*model.DynamicQR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.byID[id]
	if !ok || qr.AccountID != accountID {
		return nil, nil
	}
	qr.TargetURL = targetURL
	cp := *qr
	return &cp, nil
}

func (f *memQRCodeRepo) Delete(ctx context.Context, id, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.byID[id]
	if !ok || qr.AccountID != accountID {
		return false, nil
	}
	delete(f.byID, id)
	return true, nil
}

func (f *memQRCodeRepo) ResolveAndRecordAccess(ctx context.Context, serverURL string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.byID {
		if qr.ServerURL == serverURL {
			qr.AccessCount++
			now := time.Now()
			qr.LastAccessedAt = &now
			return qr.TargetURL, true, nil
		}
	}
	return "", false, nil
}

func (f *memQRCodeRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, qr := range f.byID {
		if qr.AccountID == accountID {
			delete(f.byID, id)
		}
	}
	return nil
}

type memAccountRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{byID: map[string]*model.Account{}}
}

func (f *memAccountRepo) Upsert(ctx context.Context, acct *model.Account) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byID[acct.AccountID]; ok {
		cp := *existing
		return &cp, nil
	}
	now := time.Now()
	cp := *acct
	cp.CreatedAt = now
	cp.UpdatedAt = now
	f.byID[acct.AccountID] = &cp
	out := cp
	return &out, nil
}

func (f *memAccountRepo) GetByID(ctx context.Context, accountID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.byID[accountID]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}
