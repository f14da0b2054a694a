package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// AccountHandler handles account-related endpoints.
type AccountHandler struct {
	accountService service.AccountService
	validate       *validator.Validate
	logger         zerolog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService service.AccountService, validate *validator.Validate, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{accountService: accountService, validate: validate, logger: logger}
}

// RegisterRoutes mounts account routes.
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /accounts", authMw(http.HandlerFunc(h.signup)))
	mux.Handle("GET /accounts/{accountID}", authMw(http.HandlerFunc(h.getAccount)))
}

// signup godoc
// @Summary Register the authenticated account
// @Description Creates the account record on first call; replays return the stored record.
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body dto.AccountSignupRequest true "Signup request"
// @Success 201 {object} dto.AccountResponse
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "unauthorized"
// @Router /accounts [post]
func (h *AccountHandler) signup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.AccountSignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	acct, err := h.accountService.Signup(r.Context(), claims.Subject, req.Username, req.Email)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to sign up account")
		http.Error(w, "failed to sign up account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, dto.AccountResponse{
		AccountID: acct.AccountID,
		Username:  acct.Username,
		Email:     acct.Email,
		CreatedAt: acct.CreatedAt,
	})
}

// getAccount godoc
// @Summary Fetch the account profile
// @Tags accounts
// @Produce json
// @Param accountID path string true "Account ID"
// @Success 200 {object} dto.AccountResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "account not found"
// @Router /accounts/{accountID} [get]
func (h *AccountHandler) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorizeOwner(w, r)
	if !ok {
		return
	}
	acct, err := h.accountService.GetAccount(r.Context(), accountID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to fetch account")
		http.Error(w, "failed to fetch account", http.StatusInternalServerError)
		return
	}
	if acct == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dto.AccountResponse{
		AccountID: acct.AccountID,
		Username:  acct.Username,
		Email:     acct.Email,
		CreatedAt: acct.CreatedAt,
	})
}

// writeJSON encodes v with the usual headers.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
