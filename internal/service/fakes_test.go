package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"app/internal/model"
	"app/internal/repository"
)

// In-memory repository doubles. The subscription fake mirrors the store's
// conditional update semantics under a mutex so concurrency tests observe the
// same serialization guarantees as the real store.

type fakeSubscriptionRepo struct {
	mu         sync.Mutex
	byAccount  map[string]*model.Subscription
	byProvider map[string]string
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{
		byAccount:  map[string]*model.Subscription{},
		byProvider: map[string]string{},
	}
}

func (f *fakeSubscriptionRepo) put(sub model.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byAccount[sub.AccountID] = &sub
	f.byProvider[sub.ProviderSubscriptionID] = sub.AccountID
}

func (f *fakeSubscriptionRepo) GetByAccount(ctx context.Context, accountID string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byAccount[accountID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeSubscriptionRepo) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accountID, ok := f.byProvider[providerSubscriptionID]
	if !ok {
		return nil, nil
	}
	cp := *f.byAccount[accountID]
	return &cp, nil
}

func (f *fakeSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byAccount[sub.AccountID]; ok {
		if !existing.Status.Terminal() {
			return repository.ErrSubscriptionExists
		}
		delete(f.byProvider, existing.ProviderSubscriptionID)
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	f.byAccount[sub.AccountID] = &cp
	f.byProvider[sub.ProviderSubscriptionID] = sub.AccountID
	return nil
}

func (f *fakeSubscriptionRepo) Transition(ctx context.Context, providerSubscriptionID string, status model.SubscriptionStatus, startsAt, endsAt *time.Time) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accountID, ok := f.byProvider[providerSubscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrSubscriptionNotFound, providerSubscriptionID)
	}
	sub := f.byAccount[accountID]
	if sub.Status.Terminal() {
		cp := *sub
		return &cp, nil
	}
	sub.Status = status
	if startsAt != nil {
		sub.StartsAt = *startsAt
	}
	if endsAt != nil {
		t := *endsAt
		sub.EndsAt = &t
	}
	sub.UpdatedAt = time.Now()
	cp := *sub
	return &cp, nil
}

func (f *fakeSubscriptionRepo) CheckAndReserve(ctx context.Context, accountID string, max int) (*model.Subscription, error) {
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
	sub.UpdatedAt = time.Now()
	cp := *sub
	return &cp, nil
}

func (f *fakeSubscriptionRepo) Release(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byAccount[accountID]
	if !ok {
		return nil
	}
	if sub.Usage > 0 {
		sub.Usage--
	}
	return nil
}

type fakeQRCodeRepo struct {
	mu   sync.Mutex
	byID map[string]*model.DynamicQR
}

func newFakeQRCodeRepo() *fakeQRCodeRepo {
	return &fakeQRCodeRepo{byID: map[string]*model.DynamicQR{}}
}

func (f *fakeQRCodeRepo) Insert(ctx context.Context, qr *model.DynamicQR) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	qr.CreatedAt = now
	qr.UpdatedAt = now
	cp := *qr
	f.byID[qr.ID] = &cp
	return nil
}

func (f *fakeQRCodeRepo) GetByID(ctx context.Context, id string) (*model.DynamicQR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *qr
	return &cp, nil
}

func (f *fakeQRCodeRepo) ListByAccount(ctx context.Context, accountID string) ([]model.DynamicQR, error) {
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

func (f *fakeQRCodeRepo) UpdateTarget(ctx context.Context, id, accountID, targetURL string) (*model.DynamicQR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.byID[id]
	if !ok || qr.AccountID != accountID {
		return nil, nil
	}
	qr.TargetURL = targetURL
	qr.UpdatedAt = time.Now()
	cp := *qr
	return &cp, nil
}

func (f *fakeQRCodeRepo) Delete(ctx context.Context, id, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.byID[id]
	if !ok || qr.AccountID != accountID {
		return false, nil
	}
	delete(f.byID, id)
	return true, nil
}

func (f *fakeQRCodeRepo) ResolveAndRecordAccess(ctx context.Context, serverURL string) (string, bool, error) {
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

func (f *fakeQRCodeRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, qr := range f.byID {
		if qr.AccountID == accountID {
			delete(f.byID, id)
		}
	}
	return nil
}

func (f *fakeQRCodeRepo) count(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, qr := range f.byID {
		if qr.AccountID == accountID {
			n++
		}
	}
	return n
}

type fakeCheckoutSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*model.CheckoutSession
}

func newFakeCheckoutSessionRepo() *fakeCheckoutSessionRepo {
	return &fakeCheckoutSessionRepo{byID: map[string]*model.CheckoutSession{}}
}

func (f *fakeCheckoutSessionRepo) Insert(ctx context.Context, s *model.CheckoutSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.CreatedAt = time.Now()
	cp := *s
	f.byID[s.SessionID] = &cp
	return nil
}

func (f *fakeCheckoutSessionRepo) Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeCheckoutSessionRepo) MarkConsumed(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[sessionID]; ok && s.ConsumedAt == nil {
		now := time.Now()
		s.ConsumedAt = &now
	}
	return nil
}

func (f *fakeCheckoutSessionRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.byID {
		if s.AccountID == accountID {
			delete(f.byID, id)
		}
	}
	return nil
}

type fakeAccountRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{byID: map[string]*model.Account{}}
}

func (f *fakeAccountRepo) Upsert(ctx context.Context, acct *model.Account) (*model.Account, error) {
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

func (f *fakeAccountRepo) GetByID(ctx context.Context, accountID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.byID[accountID]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
	topics   []string
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, payload)
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}
