package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"app/internal/api/v1/dto"
	"app/internal/auth"
	"app/internal/model"
	"app/internal/repository"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// QRCodeHandler handles dynamic QR link endpoints.
type QRCodeHandler struct {
	qrService service.QRCodeService
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewQRCodeHandler creates a new QRCodeHandler.
func NewQRCodeHandler(qrService service.QRCodeService, validate *validator.Validate, logger zerolog.Logger) *QRCodeHandler {
	return &QRCodeHandler{qrService: qrService, validate: validate, logger: logger}
}

// RegisterRoutes mounts the gated QR link routes.
func (h *QRCodeHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /accounts/{accountID}/qrcodes", authMw(http.HandlerFunc(h.create)))
	mux.Handle("GET /accounts/{accountID}/qrcodes", authMw(http.HandlerFunc(h.list)))
	mux.Handle("GET /accounts/{accountID}/qrcodes/{qrID}", authMw(http.HandlerFunc(h.get)))
	mux.Handle("PUT /accounts/{accountID}/qrcodes/{qrID}", authMw(http.HandlerFunc(h.update)))
	mux.Handle("DELETE /accounts/{accountID}/qrcodes/{qrID}", authMw(http.HandlerFunc(h.delete)))
}

// RegisterPublicRoutes mounts the unauthenticated scan redirect.
func (h *QRCodeHandler) RegisterPublicRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /scan/{serverURL}", h.scan)
}

// create godoc
// @Summary Create a dynamic QR link
// @Description Reserves one unit of the account's tier quota and stores a new link.
// @Tags qrcodes
// @Accept json
// @Produce json
// @Param accountID path string true "Account ID"
// @Param qrcode body dto.QRCodeCreateRequest true "Create request"
// @Success 201 {object} dto.QRCodeResponse
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "unauthorized"
// @Failure 402 {string} string "no active subscription"
// @Failure 403 {string} string "quota exceeded"
// @Router /accounts/{accountID}/qrcodes [post]
func (h *QRCodeHandler) create(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorize(w, r, auth.ScopeWriteQR)
	if !ok {
		return
	}
	var req dto.QRCodeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	qr, err := h.qrService.Create(r.Context(), accountID, req.TargetURL)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNoActiveSubscription):
			http.Error(w, "no active subscription", http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrQuotaExceeded):
			http.Error(w, "quota exceeded", http.StatusForbidden)
		default:
			h.logger.Error().Err(err).Msg("failed to create qr code")
			http.Error(w, "failed to create qr code", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toQRResponse(qr))
}

// list godoc
// @Summary List the account's dynamic QR links
// @Tags qrcodes
// @Produce json
// @Param accountID path string true "Account ID"
// @Success 200 {array} dto.QRCodeResponse
// @Failure 401 {string} string "unauthorized"
// @Router /accounts/{accountID}/qrcodes [get]
func (h *QRCodeHandler) list(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorize(w, r, auth.ScopeReadQR)
	if !ok {
		return
	}
	qrs, err := h.qrService.List(r.Context(), accountID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list qr codes")
		http.Error(w, "failed to list qr codes", http.StatusInternalServerError)
		return
	}
	out := make([]dto.QRCodeResponse, 0, len(qrs))
	for i := range qrs {
		out = append(out, toQRResponse(&qrs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *QRCodeHandler) get(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorize(w, r, auth.ScopeReadQR)
	if !ok {
		return
	}
	qr, err := h.qrService.Get(r.Context(), accountID, r.PathValue("qrID"))
	if err != nil {
		h.respondQRError(w, err, "failed to fetch qr code")
		return
	}
	writeJSON(w, http.StatusOK, toQRResponse(qr))
}

func (h *QRCodeHandler) update(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorize(w, r, auth.ScopeWriteQR)
	if !ok {
		return
	}
	var req dto.QRCodeUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	qr, err := h.qrService.UpdateTarget(r.Context(), accountID, r.PathValue("qrID"), req.TargetURL)
	if err != nil {
		h.respondQRError(w, err, "failed to update qr code")
		return
	}
	writeJSON(w, http.StatusOK, toQRResponse(qr))
}

// delete godoc
// @Summary Delete a dynamic QR link
// @Description Removes the link and releases its quota unit.
// @Tags qrcodes
// @Param accountID path string true "Account ID"
// @Param qrID path string true "QR link ID"
// @Success 204 {string} string ""
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "qr code not found"
// @Router /accounts/{accountID}/qrcodes/{qrID} [delete]
func (h *QRCodeHandler) delete(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authorize(w, r, auth.ScopeDeleteQR)
	if !ok {
		return
	}
	if err := h.qrService.Delete(r.Context(), accountID, r.PathValue("qrID")); err != nil {
		h.respondQRError(w, err, "failed to delete qr code")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// scan godoc
// @Summary Resolve a scanned QR key
// @Description Redirects to the stored target and records the access.
// @Tags qrcodes
// @Param serverURL path string true "Server key"
// @Success 302 {string} string ""
// @Failure 404 {string} string "not found"
// @Router /scan/{serverURL} [get]
func (h *QRCodeHandler) scan(w http.ResponseWriter, r *http.Request) {
	target, err := h.qrService.Scan(r.Context(), r.PathValue("serverURL"))
	if err != nil {
		if errors.Is(err, service.ErrQRCodeNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error().Err(err).Msg("failed to resolve scan")
		http.Error(w, "failed to resolve scan", http.StatusInternalServerError)
		return
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// respondQRError maps service errors onto responses. Records owned by other
// accounts surface as not found, never as unauthorized.
func (h *QRCodeHandler) respondQRError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, service.ErrQRCodeNotFound) {
		http.Error(w, "qr code not found", http.StatusNotFound)
		return
	}
	h.logger.Error().Err(err).Msg(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func toQRResponse(qr *model.DynamicQR) dto.QRCodeResponse {
	return dto.QRCodeResponse{
		ID:             qr.ID,
		ServerURL:      qr.ServerURL,
		TargetURL:      qr.TargetURL,
		AccessCount:    qr.AccessCount,
		LastAccessedAt: qr.LastAccessedAt,
		CreatedAt:      qr.CreatedAt,
		UpdatedAt:      qr.UpdatedAt,
	}
}
