package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"app/internal/config"
	"app/internal/model"
	"app/internal/pubsub"
	"app/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// SubscriptionAction is a service-initiated change to a live subscription.
type SubscriptionAction string

const (
	ActionCancel SubscriptionAction = "cancel"
	ActionResume SubscriptionAction = "resume"
)

// ErrUnknownCheckoutSession is returned when a completion event references a
// checkout session this service never issued. The event fails closed so the
// provider redelivers and the failure stays visible.
var ErrUnknownCheckoutSession = errors.New("unknown_checkout_session")

// ErrAccountNotFound is returned when a billing operation targets an account
// that does not exist.
var ErrAccountNotFound = errors.New("account_not_found")

// entitlementEvent is the payload published on subscription transitions.
type entitlementEvent struct {
	AccountID              string                   `json:"account_id"`
	ProviderSubscriptionID string                   `json:"provider_subscription_id"`
	Tier                   model.Tier               `json:"tier"`
	Status                 model.SubscriptionStatus `json:"status"`
	OccurredAt             time.Time                `json:"occurred_at"`
}

// BillingService manages the Stripe integration: checkout sessions, outbound
// cancel/resume calls, and reconciliation of the asynchronous webhook feed
// into subscription state.
type BillingService struct {
	cfg         *config.Config
	accountRepo repository.AccountRepository
	subRepo     repository.SubscriptionRepository
	sessionRepo repository.CheckoutSessionRepository
	qrRepo      repository.QRCodeRepository
	publisher   pubsub.Publisher
	logger      zerolog.Logger
}

// NewBillingService initializes the Stripe key and returns the service with a
// scoped logger. The publisher may be nil; transition events are then skipped.
func NewBillingService(
	cfg *config.Config,
	accountRepo repository.AccountRepository,
	subRepo repository.SubscriptionRepository,
	sessionRepo repository.CheckoutSessionRepository,
	qrRepo repository.QRCodeRepository,
	publisher pubsub.Publisher,
	logger zerolog.Logger,
) *BillingService {
	stripe.Key = cfg.StripeSecretKey
	return &BillingService{
		cfg:         cfg,
		accountRepo: accountRepo,
		subRepo:     subRepo,
		sessionRepo: sessionRepo,
		qrRepo:      qrRepo,
		publisher:   publisher,
		logger:      logger.With().Str("service", "BillingService").Logger(),
	}
}

// priceForTier resolves a tier onto its configured Stripe price identifier.
func (s *BillingService) priceForTier(tier model.Tier) (string, error) {
	switch tier {
	case model.TierLite:
		return s.cfg.StripePriceLite, nil
	case model.TierPro:
		return s.cfg.StripePricePro, nil
	default:
		return "", fmt.Errorf("no price configured for tier %q", tier)
	}
}

// CreateCheckoutSession starts a provider-hosted payment flow for the account
// and records the session so the completion webhook can be resolved back to
// the account.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, accountID string, tier model.Tier) (string, error) {
	acct, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("fetch account: %w", err)
	}
	if acct == nil {
		return "", ErrAccountNotFound
	}

	priceID, err := s.priceForTier(tier)
	if err != nil {
		return "", err
	}

	cust, err := customerpkg.New(&stripe.CustomerParams{
		Email:    stripe.String(acct.Email),
		Name:     stripe.String(acct.Username),
		Metadata: map[string]string{"account_id": acct.AccountID},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("create stripe customer: %w", err)
	}

	sess, err := checkoutsession.New(&stripe.CheckoutSessionParams{
		Customer:           stripe.String(cust.ID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(s.cfg.CheckoutSuccessURL),
		CancelURL:          stripe.String(s.cfg.CheckoutCancelURL),
		Metadata:           map[string]string{"account_id": acct.AccountID},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Str("tier", string(tier)).Msg("Failed to create Stripe checkout session")
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	if err := s.sessionRepo.Insert(ctx, &model.CheckoutSession{
		SessionID: sess.ID,
		AccountID: acct.AccountID,
		Tier:      tier,
	}); err != nil {
		return "", err
	}
	return sess.URL, nil
}

// UpdateSubscription applies a cancel or resume against the provider and,
// once acknowledged, mirrors the change locally.
func (s *BillingService) UpdateSubscription(ctx context.Context, accountID string, action SubscriptionAction) (*model.Subscription, error) {
	sub, err := s.subRepo.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.Status.Terminal() {
		return nil, repository.ErrSubscriptionNotFound
	}

	var target model.SubscriptionStatus
	switch action {
	case ActionCancel:
		target = model.StatusCancelling
	case ActionResume:
		target = model.StatusActive
	default:
		return nil, fmt.Errorf("invalid subscription action: %s", action)
	}

	if _, err := subscriptionpkg.Update(sub.ProviderSubscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(action == ActionCancel),
	}); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Str("action", string(action)).Msg("Stripe subscription update failed")
		return nil, fmt.Errorf("update stripe subscription: %w", err)
	}

	updated, err := s.subRepo.Transition(ctx, sub.ProviderSubscriptionID, target, nil, nil)
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, updated)
	return updated, nil
}

// CancelSubscriptionNow terminates the subscription at the provider
// immediately and applies the terminal transition locally after the
// acknowledgement. The deletion webhook that follows is a no-op.
func (s *BillingService) CancelSubscriptionNow(ctx context.Context, accountID string) error {
	sub, err := s.subRepo.GetByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if sub == nil || sub.Status.Terminal() {
		return repository.ErrSubscriptionNotFound
	}

	if _, err := subscriptionpkg.Cancel(sub.ProviderSubscriptionID, &stripe.SubscriptionCancelParams{
		Prorate:    stripe.Bool(true),
		InvoiceNow: stripe.Bool(true),
	}); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Stripe subscription cancel failed")
		return fmt.Errorf("cancel stripe subscription: %w", err)
	}

	return s.terminate(ctx, sub.ProviderSubscriptionID)
}

// HandleWebhook processes inbound Stripe webhook events. The body signature
// is verified over the raw payload before any parsing; failures are rejected
// without revealing which check failed.
func (s *BillingService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "invalid webhook request", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "invalid webhook request", http.StatusBadRequest)
		return
	}
	s.logger.Info().Str("event_type", string(event.Type)).Msg("Stripe webhook received")

	if err := s.ReconcileEvent(r.Context(), event); err != nil {
		// Failure here means the transition did not commit; the provider's
		// retry policy redelivers the event.
		s.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to reconcile Stripe event")
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ReconcileEvent drives the subscription state machine from one verified
// provider event. Every branch is safe under redelivery, and event types the
// service does not track are acknowledged without state change.
func (s *BillingService) ReconcileEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("invalid checkout.session payload: %w", err)
		}
		if cs.Subscription == nil || cs.Subscription.ID == "" {
			return errors.New("checkout.session.completed without subscription id")
		}
		return s.checkoutCompleted(ctx, cs.ID, cs.Subscription.ID)

	case "customer.subscription.updated":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return fmt.Errorf("invalid subscription payload: %w", err)
		}
		return s.subscriptionUpdated(ctx, &ss)

	case "customer.subscription.deleted":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return fmt.Errorf("invalid subscription payload: %w", err)
		}
		return s.subscriptionDeleted(ctx, ss.ID)

	default:
		// Acknowledged without state change; anything else would trigger the
		// provider's retry storm for events we never act on.
		s.logger.Info().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
		return nil
	}
}

func (s *BillingService) checkoutCompleted(ctx context.Context, sessionID, providerSubscriptionID string) error {
	existing, err := s.subRepo.GetByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Status.Terminal() {
			// A stale completion delivered after the subscription already
			// terminated must not resurrect it.
			s.logger.Warn().Str("provider_subscription_id", providerSubscriptionID).Msg("Ignoring checkout completion for terminated subscription")
			return nil
		}
		// Redelivery of an event that already committed.
		return nil
	}

	sess, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCheckoutSession, sessionID)
	}

	sub := &model.Subscription{
		AccountID:              sess.AccountID,
		ProviderSubscriptionID: providerSubscriptionID,
		Tier:                   sess.Tier,
		Status:                 model.StatusActive,
		StartsAt:               time.Now(),
		// EndsAt stays unset until a customer.subscription.updated event
		// carries the real period boundaries.
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrSubscriptionExists) {
			// The account already holds a different live subscription; never
			// silently overwrite it. A terminated row does not block here:
			// the store hands its slot to the new subscription.
			return fmt.Errorf("account %s already subscribed: %w", sess.AccountID, err)
		}
		return err
	}
	if err := s.sessionRepo.MarkConsumed(ctx, sessionID); err != nil {
		return err
	}

	s.logger.Info().Str("account_id", sess.AccountID).Str("provider_subscription_id", providerSubscriptionID).Str("tier", string(sess.Tier)).Msg("Subscription activated")
	s.publishTransition(ctx, sub)
	return nil
}

func (s *BillingService) subscriptionUpdated(ctx context.Context, ss *stripe.Subscription) error {
	existing, err := s.subRepo.GetByProviderID(ctx, ss.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		// An update for a subscription this service never tracked; ack so the
		// provider does not retry forever.
		s.logger.Warn().Str("provider_subscription_id", ss.ID).Msg("Update for unknown subscription, acknowledged")
		return nil
	}
	if existing.Status.Terminal() {
		s.logger.Warn().Str("provider_subscription_id", ss.ID).Msg("Ignoring update for terminated subscription")
		return nil
	}

	status := model.StatusActive
	if ss.CancelAtPeriodEnd || ss.Status == stripe.SubscriptionStatusCanceled {
		status = model.StatusCancelling
	}

	var startsAt, endsAt *time.Time
	if ss.Items != nil && len(ss.Items.Data) > 0 {
		item := ss.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			t := time.Unix(item.CurrentPeriodStart, 0)
			startsAt = &t
		}
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0)
			endsAt = &t
		}
	}

	updated, err := s.subRepo.Transition(ctx, ss.ID, status, startsAt, endsAt)
	if err != nil {
		return err
	}
	s.publishTransition(ctx, updated)
	return nil
}

func (s *BillingService) subscriptionDeleted(ctx context.Context, providerSubscriptionID string) error {
	sub, err := s.subRepo.GetByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.logger.Warn().Str("provider_subscription_id", providerSubscriptionID).Msg("Deletion for unknown subscription, acknowledged")
		return nil
	}
	if sub.Status.Terminal() {
		// Redelivered deletion, already terminated.
		return nil
	}
	return s.terminate(ctx, providerSubscriptionID)
}

// terminate applies the absorbing transition and cascades removal of the
// account's dependent records. The subscription row itself is retained as a
// tombstone so stale events for its provider id cannot resurrect it; the
// account's next completed checkout replaces the tombstone.
func (s *BillingService) terminate(ctx context.Context, providerSubscriptionID string) error {
	sub, err := s.subRepo.Transition(ctx, providerSubscriptionID, model.StatusTerminated, nil, nil)
	if err != nil {
		return err
	}
	if err := s.qrRepo.DeleteByAccount(ctx, sub.AccountID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByAccount(ctx, sub.AccountID); err != nil {
		return err
	}
	s.logger.Info().Str("account_id", sub.AccountID).Str("provider_subscription_id", providerSubscriptionID).Msg("Subscription terminated")
	s.publishTransition(ctx, sub)
	return nil
}

// publishTransition emits the transition to the entitlement event topic,
// best effort.
func (s *BillingService) publishTransition(ctx context.Context, sub *model.Subscription) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(entitlementEvent{
		AccountID:              sub.AccountID,
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		Tier:                   sub.Tier,
		Status:                 sub.Status,
		OccurredAt:             time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal entitlement event")
		return
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.EntitlementEventsTopic, payload); err != nil {
		s.logger.Error().Err(err).Str("account_id", sub.AccountID).Msg("Failed to publish entitlement event")
	}
}
