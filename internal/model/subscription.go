package model

import (
	"strings"
	"time"
)

// Tier is a named subscription level with a fixed usage ceiling.
type Tier string

const (
	TierLite Tier = "lite"
	TierPro  Tier = "pro"
)

// MaxUsage returns the number of live QR links the tier allows.
func (t Tier) MaxUsage() int {
	switch t {
	case TierLite:
		return 5
	case TierPro:
		return 25
	default:
		return 0
	}
}

// ParseTier maps a client-supplied tier name onto the closed tier set.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(s)) {
	case TierLite:
		return TierLite, true
	case TierPro:
		return TierPro, true
	default:
		return "", false
	}
}

// SubscriptionStatus is the billing-provider-driven lifecycle state of a
// subscription. Terminated is absorbing.
type SubscriptionStatus string

const (
	StatusPendingCheckout SubscriptionStatus = "pending_checkout"
	StatusActive          SubscriptionStatus = "active"
	StatusCancelling      SubscriptionStatus = "cancelling"
	StatusTerminated      SubscriptionStatus = "terminated"
)

// Entitled reports whether the status still grants resource creation.
// Cancelling counts: paid users keep access until the period ends.
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusCancelling
}

// Terminal reports whether the status can never change again.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusTerminated
}

// Subscription is an account's billing state. It is mutated only by the
// webhook reconciler or an acknowledged provider call, never by client writes.
type Subscription struct {
	AccountID              string             `db:"account_id" json:"account_id"`
	ProviderSubscriptionID string             `db:"provider_subscription_id" json:"provider_subscription_id"`
	Tier                   Tier               `db:"tier" json:"tier"`
	Status                 SubscriptionStatus `db:"status" json:"status"`
	Usage                  int                `db:"usage_count" json:"usage"`
	StartsAt               time.Time          `db:"starts_at" json:"starts_at"`
	// EndsAt is unset until the provider reports real period boundaries.
	EndsAt *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	CreatedAt              time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time          `db:"updated_at" json:"updated_at"`
}

// CheckoutSession links an account to its intended tier while a
// provider-hosted payment flow is in progress. Consumed sessions are retained
// so that webhook redelivery can be recognised instead of failing.
type CheckoutSession struct {
	SessionID  string     `db:"session_id" json:"session_id"`
	AccountID  string     `db:"account_id" json:"account_id"`
	Tier       Tier       `db:"tier" json:"tier"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
}
