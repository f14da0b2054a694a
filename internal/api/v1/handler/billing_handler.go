package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/model"
	"app/internal/repository"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// BillingHandler handles subscription and webhook endpoints.
type BillingHandler struct {
	billingService     *service.BillingService
	entitlementService service.EntitlementService
	validate           *validator.Validate
	logger             zerolog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(billingService *service.BillingService, entitlementService service.EntitlementService, validate *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		billingService:     billingService,
		entitlementService: entitlementService,
		validate:           validate,
		logger:             logger,
	}
}

// RegisterRoutes mounts the authenticated subscription routes.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /accounts/{accountID}/subscription/checkout", authMw(http.HandlerFunc(h.checkout)))
	mux.Handle("GET /accounts/{accountID}/subscription", authMw(http.HandlerFunc(h.getSubscription)))
	mux.Handle("PUT /accounts/{accountID}/subscription", authMw(http.HandlerFunc(h.updateSubscription)))
	mux.Handle("DELETE /accounts/{accountID}/subscription", authMw(http.HandlerFunc(h.cancelNow)))
}

// RegisterWebhook mounts the unauthenticated, signature-verified webhook.
func (h *BillingHandler) RegisterWebhook(mux *http.ServeMux) {
	mux.HandleFunc("POST /billing/webhook", h.billingService.HandleWebhook)
}

// checkout godoc
// @Summary Start a Stripe Checkout session for a tier
// @Tags billing
// @Accept json
// @Produce json
// @Param accountID path string true "Account ID"
// @Param checkout body dto.CheckoutRequest true "Checkout request"
// @Success 201 {object} map[string]string "URL of the Stripe Checkout session"
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "account not found"
// @Router /accounts/{accountID}/subscription/checkout [post]
func (h *BillingHandler) checkout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorizeOwner(w, r)
	if !ok {
		return
	}
	var req dto.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	tier, ok := model.ParseTier(req.Tier)
	if !ok {
		http.Error(w, "invalid tier", http.StatusBadRequest)
		return
	}
	url, err := h.billingService.CreateCheckoutSession(r.Context(), accountID, tier)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to create checkout session")
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// getSubscription godoc
// @Summary Fetch the account's subscription
// @Tags billing
// @Produce json
// @Param accountID path string true "Account ID"
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "no subscription"
// @Router /accounts/{accountID}/subscription [get]
func (h *BillingHandler) getSubscription(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorizeOwner(w, r)
	if !ok {
		return
	}
	sub, err := h.entitlementService.GetSubscription(r.Context(), accountID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to fetch subscription")
		http.Error(w, "failed to fetch subscription", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "no subscription", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// updateSubscription godoc
// @Summary Cancel or resume the subscription at period end
// @Description Applied locally only after the billing provider acknowledges the change.
// @Tags billing
// @Accept json
// @Produce json
// @Param accountID path string true "Account ID"
// @Param update body dto.SubscriptionUpdateRequest true "Update request"
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "no subscription"
// @Failure 502 {string} string "billing provider unavailable"
// @Router /accounts/{accountID}/subscription [put]
func (h *BillingHandler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorizeOwner(w, r)
	if !ok {
		return
	}
	var req dto.SubscriptionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	sub, err := h.billingService.UpdateSubscription(r.Context(), accountID, service.SubscriptionAction(req.Action))
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			http.Error(w, "no subscription", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to update subscription")
		http.Error(w, "billing provider unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *BillingHandler) cancelNow(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorizeOwner(w, r)
	if !ok {
		return
	}
	if err := h.billingService.CancelSubscriptionNow(r.Context(), accountID); err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			http.Error(w, "no subscription", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to cancel subscription")
		http.Error(w, "billing provider unavailable", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSubscriptionResponse(sub *model.Subscription) dto.SubscriptionResponse {
	return dto.SubscriptionResponse{
		Tier:     string(sub.Tier),
		Status:   string(sub.Status),
		Usage:    sub.Usage,
		MaxUsage: sub.Tier.MaxUsage(),
		StartsAt: sub.StartsAt,
		EndsAt:   sub.EndsAt,
	}
}
