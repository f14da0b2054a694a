package dto

import "time"

// CheckoutRequest starts a provider-hosted payment flow for a tier.
type CheckoutRequest struct {
	Tier string `json:"tier" validate:"required"`
}

// SubscriptionUpdateRequest applies a service-initiated action.
type SubscriptionUpdateRequest struct {
	Action string `json:"action" validate:"required,oneof=cancel resume"`
}

// SubscriptionResponse is the public view of a subscription.
type SubscriptionResponse struct {
	Tier     string    `json:"tier"`
	Status   string    `json:"status"`
	Usage    int       `json:"usage"`
	MaxUsage int       `json:"max_usage"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}
