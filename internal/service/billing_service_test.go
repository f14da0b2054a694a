package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"app/internal/config"
	"app/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

const testWebhookSecret = "whsec_test_secret"

type billingFixture struct {
	svc      *BillingService
	accounts *fakeAccountRepo
	subs     *fakeSubscriptionRepo
	sessions *fakeCheckoutSessionRepo
	qrs      *fakeQRCodeRepo
	events   *fakePublisher
}

func newBillingFixture() *billingFixture {
	f := &billingFixture{
		accounts: newFakeAccountRepo(),
		subs:     newFakeSubscriptionRepo(),
		sessions: newFakeCheckoutSessionRepo(),
		qrs:      newFakeQRCodeRepo(),
		events:   &fakePublisher{},
	}
	cfg := &config.Config{
		StripeWebhookSecret:    testWebhookSecret,
		EntitlementEventsTopic: "entitlement-events",
	}
	f.svc = NewBillingService(cfg, f.accounts, f.subs, f.sessions, f.qrs, f.events, zerolog.Nop())
	return f
}

func rawEvent(eventType string, object string) stripe.Event {
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(object)},
	}
}

func checkoutCompletedEvent(sessionID, subscriptionID string) stripe.Event {
	return rawEvent("checkout.session.completed",
		fmt.Sprintf(`{"id":%q,"subscription":{"id":%q}}`, sessionID, subscriptionID))
}

func TestCheckoutCompletedActivatesSubscription(t *testing.T) {
	f := newBillingFixture()
	if err := f.sessions.Insert(context.Background(), &model.CheckoutSession{
		SessionID: "cs_1", AccountID: "acct_1", Tier: model.TierPro,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := f.svc.ReconcileEvent(context.Background(), checkoutCompletedEvent("cs_1", "sub_1")); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}

	sub, err := f.subs.GetByAccount(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("GetByAccount() returned error: %v", err)
	}
	if sub == nil {
		t.Fatal("subscription not created")
	}
	if sub.Status != model.StatusActive {
		t.Errorf("Status = %s, want %s", sub.Status, model.StatusActive)
	}
	if sub.Tier != model.TierPro {
		t.Errorf("Tier = %s, want %s", sub.Tier, model.TierPro)
	}
	if sub.Usage != 0 {
		t.Errorf("Usage = %d, want 0", sub.Usage)
	}
	if sub.EndsAt != nil {
		t.Errorf("EndsAt = %v, want unset until the provider reports period boundaries", sub.EndsAt)
	}

	sess, err := f.sessions.Get(context.Background(), "cs_1")
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.ConsumedAt == nil {
		t.Error("session not marked consumed")
	}
	if got := f.events.published(); got != 1 {
		t.Errorf("published %d events, want 1", got)
	}
}

func TestCheckoutCompletedRedeliveryIsNoOp(t *testing.T) {
	f := newBillingFixture()
	if err := f.sessions.Insert(context.Background(), &model.CheckoutSession{
		SessionID: "cs_1", AccountID: "acct_1", Tier: model.TierLite,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := f.svc.ReconcileEvent(context.Background(), checkoutCompletedEvent("cs_1", "sub_1")); err != nil {
			t.Fatalf("ReconcileEvent() delivery #%d returned error: %v", i, err)
		}
	}
	if got := f.events.published(); got != 1 {
		t.Errorf("published %d events, want 1", got)
	}
}

func TestCheckoutCompletedUnknownSessionFailsClosed(t *testing.T) {
	f := newBillingFixture()
	err := f.svc.ReconcileEvent(context.Background(), checkoutCompletedEvent("cs_never_issued", "sub_1"))
	if !errors.Is(err, ErrUnknownCheckoutSession) {
		t.Fatalf("ReconcileEvent() error = %v, want ErrUnknownCheckoutSession", err)
	}
	sub, _ := f.subs.GetByProviderID(context.Background(), "sub_1")
	if sub != nil {
		t.Error("subscription created for unknown session")
	}
}

func TestCheckoutCompletedAfterTerminationDoesNotResurrect(t *testing.T) {
	f := newBillingFixture()
	f.subs.put(model.Subscription{
		AccountID:              "acct_1",
		ProviderSubscriptionID: "sub_1",
		Tier:                   model.TierLite,
		Status:                 model.StatusTerminated,
	})
	if err := f.sessions.Insert(context.Background(), &model.CheckoutSession{
		SessionID: "cs_1", AccountID: "acct_1", Tier: model.TierLite,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := f.svc.ReconcileEvent(context.Background(), checkoutCompletedEvent("cs_1", "sub_1")); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}
	sub, _ := f.subs.GetByAccount(context.Background(), "acct_1")
	if sub.Status != model.StatusTerminated {
		t.Errorf("Status = %s, want %s", sub.Status, model.StatusTerminated)
	}
	if got := f.events.published(); got != 0 {
		t.Errorf("published %d events, want 0", got)
	}
}

func TestCheckoutCompletedAfterTerminationStartsNewSubscription(t *testing.T) {
	f := newBillingFixture()
	if err := f.sessions.Insert(context.Background(), &model.CheckoutSession{
		SessionID: "cs_1", AccountID: "acct_1", Tier: model.TierLite,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := f.svc.ReconcileEvent(context.Background(), checkoutCompletedEvent("cs_1", "sub_1")); err != nil {
		t.Fatalf("ReconcileEvent() first checkout returned error: %v", err)
	}
	deleted := rawEvent("customer.subscription.deleted", `{"id":"sub_1","status":"canceled"}`)
	if err := f.svc.ReconcileEvent(context.Background(), deleted); err != nil {
		t.Fatalf("ReconcileEvent() deletion returned error: %v", err)
	}

	// The account pays again: a fresh session and a fresh provider
	// subscription must replace the terminated row.
	if err := f.sessions.Insert(context.Background(), &model.CheckoutSession{
		SessionID: "cs_2", AccountID: "acct_1", Tier: model.TierPro,
	}); err != nil {
		t.Fatalf("seed second session: %v", err)
	}
	if err := f.svc.ReconcileEvent(context.Background(), checkoutCompletedEvent("cs_2", "sub_2")); err != nil {
		t.Fatalf("ReconcileEvent() re-subscription returned error: %v", err)
	}

	sub, err := f.subs.GetByAccount(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("GetByAccount() returned error: %v", err)
	}
	if sub == nil {
		t.Fatal("no subscription after re-subscribing")
	}
	if sub.Status != model.StatusActive {
		t.Errorf("Status = %s, want %s", sub.Status, model.StatusActive)
	}
	if sub.ProviderSubscriptionID != "sub_2" {
		t.Errorf("ProviderSubscriptionID = %s, want sub_2", sub.ProviderSubscriptionID)
	}
	if sub.Tier != model.TierPro {
		t.Errorf("Tier = %s, want %s", sub.Tier, model.TierPro)
	}
	if sub.Usage != 0 {
		t.Errorf("Usage = %d, want 0", sub.Usage)
	}

	// A stale deletion for the old provider id must not touch the new
	// subscription.
	if err := f.svc.ReconcileEvent(context.Background(), deleted); err != nil {
		t.Fatalf("ReconcileEvent() stale deletion returned error: %v", err)
	}
	sub, _ = f.subs.GetByAccount(context.Background(), "acct_1")
	if sub.Status != model.StatusActive {
		t.Errorf("Status after stale deletion = %s, want %s", sub.Status, model.StatusActive)
	}
}

func TestSubscriptionUpdatedCancelAtPeriodEnd(t *testing.T) {
	f := newBillingFixture()
	f.subs.put(model.Subscription{
		AccountID:              "acct_1",
		ProviderSubscriptionID: "sub_1",
		Tier:                   model.TierPro,
		Status:                 model.StatusActive,
	})

	start := time.Now().Unix()
	end := time.Now().AddDate(0, 1, 0).Unix()
	event := rawEvent("customer.subscription.updated", fmt.Sprintf(
		`{"id":"sub_1","cancel_at_period_end":true,"status":"active","items":{"data":[{"current_period_start":%d,"current_period_end":%d}]}}`,
		start, end))

	if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}
	sub, _ := f.subs.GetByAccount(context.Background(), "acct_1")
	if sub.Status != model.StatusCancelling {
		t.Errorf("Status = %s, want %s", sub.Status, model.StatusCancelling)
	}
	if sub.EndsAt == nil || sub.EndsAt.Unix() != end {
		t.Errorf("EndsAt = %v, want %d", sub.EndsAt, end)
	}
}

func TestSubscriptionUpdatedResume(t *testing.T) {
	f := newBillingFixture()
	f.subs.put(model.Subscription{
		AccountID:              "acct_1",
		ProviderSubscriptionID: "sub_1",
		Tier:                   model.TierPro,
		Status:                 model.StatusCancelling,
	})

	event := rawEvent("customer.subscription.updated",
		`{"id":"sub_1","cancel_at_period_end":false,"status":"active"}`)
	if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}
	sub, _ := f.subs.GetByAccount(context.Background(), "acct_1")
	if sub.Status != model.StatusActive {
		t.Errorf("Status = %s, want %s", sub.Status, model.StatusActive)
	}
}

func TestSubscriptionUpdatedUnknownAcknowledged(t *testing.T) {
	f := newBillingFixture()
	event := rawEvent("customer.subscription.updated",
		`{"id":"sub_untracked","cancel_at_period_end":false,"status":"active"}`)
	if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}
}

func TestSubscriptionUpdatedAfterTerminationIgnored(t *testing.T) {
	f := newBillingFixture()
	f.subs.put(model.Subscription{
		AccountID:              "acct_1",
		ProviderSubscriptionID: "sub_1",
		Tier:                   model.TierLite,
		Status:                 model.StatusTerminated,
	})

	event := rawEvent("customer.subscription.updated",
		`{"id":"sub_1","cancel_at_period_end":false,"status":"active"}`)
	if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}
	sub, _ := f.subs.GetByAccount(context.Background(), "acct_1")
	if sub.Status != model.StatusTerminated {
		t.Errorf("Status = %s, want %s", sub.Status, model.StatusTerminated)
	}
}

func TestSubscriptionDeletedTerminatesAndCascades(t *testing.T) {
	f := newBillingFixture()
	f.subs.put(model.Subscription{
		AccountID:              "acct_1",
		ProviderSubscriptionID: "sub_1",
		Tier:                   model.TierLite,
		Status:                 model.StatusActive,
		Usage:                  2,
	})
	for i := 0; i < 2; i++ {
		if err := f.qrs.Insert(context.Background(), &model.DynamicQR{
			ID: fmt.Sprintf("qr_%d", i), AccountID: "acct_1", ServerURL: fmt.Sprintf("key%d", i), TargetURL: "https://example.com",
		}); err != nil {
			t.Fatalf("seed qr: %v", err)
		}
	}
	if err := f.sessions.Insert(context.Background(), &model.CheckoutSession{
		SessionID: "cs_1", AccountID: "acct_1", Tier: model.TierLite,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	event := rawEvent("customer.subscription.deleted", `{"id":"sub_1","status":"canceled"}`)
	if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}

	sub, _ := f.subs.GetByAccount(context.Background(), "acct_1")
	if sub == nil {
		t.Fatal("subscription row removed, want terminated tombstone")
	}
	if sub.Status != model.StatusTerminated {
		t.Errorf("Status = %s, want %s", sub.Status, model.StatusTerminated)
	}
	if got := f.qrs.count("acct_1"); got != 0 {
		t.Errorf("%d qr records remain, want 0", got)
	}
	if sess, _ := f.sessions.Get(context.Background(), "cs_1"); sess != nil {
		t.Error("checkout session remains after termination")
	}
}

func TestSubscriptionDeletedRedeliveryIsNoOp(t *testing.T) {
	f := newBillingFixture()
	f.subs.put(model.Subscription{
		AccountID:              "acct_1",
		ProviderSubscriptionID: "sub_1",
		Tier:                   model.TierLite,
		Status:                 model.StatusActive,
	})

	event := rawEvent("customer.subscription.deleted", `{"id":"sub_1","status":"canceled"}`)
	for i := 0; i < 3; i++ {
		if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
			t.Fatalf("ReconcileEvent() delivery #%d returned error: %v", i, err)
		}
	}
	if got := f.events.published(); got != 1 {
		t.Errorf("published %d events, want 1", got)
	}
}

func TestSubscriptionDeletedUnknownAcknowledged(t *testing.T) {
	f := newBillingFixture()
	event := rawEvent("customer.subscription.deleted", `{"id":"sub_untracked","status":"canceled"}`)
	if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}
}

func TestUnhandledEventTypeAcknowledged(t *testing.T) {
	f := newBillingFixture()
	event := rawEvent("invoice.paid", `{"id":"in_1"}`)
	if err := f.svc.ReconcileEvent(context.Background(), event); err != nil {
		t.Fatalf("ReconcileEvent() returned error: %v", err)
	}
}

// signWebhookPayload builds a Stripe-Signature header value for the payload.
func signWebhookPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func webhookRequest(payload []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	return req
}

func eventPayload(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripe.APIVersion, eventType, object))
}

func TestHandleWebhookValidSignature(t *testing.T) {
	f := newBillingFixture()
	if err := f.sessions.Insert(context.Background(), &model.CheckoutSession{
		SessionID: "cs_1", AccountID: "acct_1", Tier: model.TierLite,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	payload := eventPayload("checkout.session.completed", `{"id":"cs_1","subscription":{"id":"sub_1"}}`)
	rec := httptest.NewRecorder()
	f.svc.HandleWebhook(rec, webhookRequest(payload, signWebhookPayload(payload, testWebhookSecret, time.Now())))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %q", rec.Code, http.StatusOK, rec.Body.String())
	}
	sub, _ := f.subs.GetByAccount(context.Background(), "acct_1")
	if sub == nil || sub.Status != model.StatusActive {
		t.Errorf("subscription = %+v, want active", sub)
	}
}

func TestHandleWebhookBadSignature(t *testing.T) {
	f := newBillingFixture()
	payload := eventPayload("checkout.session.completed", `{"id":"cs_1","subscription":{"id":"sub_1"}}`)
	rec := httptest.NewRecorder()
	f.svc.HandleWebhook(rec, webhookRequest(payload, signWebhookPayload(payload, "whsec_wrong_secret", time.Now())))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebhookTamperedPayload(t *testing.T) {
	f := newBillingFixture()
	payload := eventPayload("checkout.session.completed", `{"id":"cs_1","subscription":{"id":"sub_1"}}`)
	sig := signWebhookPayload(payload, testWebhookSecret, time.Now())
	tampered := bytes.Replace(payload, []byte("cs_1"), []byte("cs_2"), 1)
	rec := httptest.NewRecorder()
	f.svc.HandleWebhook(rec, webhookRequest(tampered, sig))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebhookReconcileFailureReturns500(t *testing.T) {
	f := newBillingFixture()
	payload := eventPayload("checkout.session.completed", `{"id":"cs_never_issued","subscription":{"id":"sub_1"}}`)
	rec := httptest.NewRecorder()
	f.svc.HandleWebhook(rec, webhookRequest(payload, signWebhookPayload(payload, testWebhookSecret, time.Now())))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
