package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"esimstore/backend/internal/models"
	"esimstore/backend/internal/qrimg"
	"esimstore/backend/internal/repository"
	"esimstore/backend/internal/wata"

	"github.com/go-chi/chi/v5"
)

type createOrderRequest struct {
	PlanID int64  `json:"planId" validate:"required,gt=0"`
	Email  string `json:"email" validate:"omitempty,email"`
	Phone  string `json:"phone" validate:"omitempty,min=5,max=32"`
}

type createOrderResponse struct {
	Order   models.Order    `json:"order"`
	Payment *paymentSummary `json:"payment,omitempty"`
}

type paymentSummary struct {
	PaymentID string `json:"paymentId,omitempty"`
	URL       string `json:"url"`
}

// voucherResponse is the customer-visible voucher shape. Hidden notes
// stay on the admin surface.
type voucherResponse struct {
	ID          string `json:"id"`
	QRURL       string `json:"qrUrl"`
	CountryName string `json:"countryName,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	ESIMNumber  string `json:"esimNumber,omitempty"`
	PinCode     string `json:"pinCode,omitempty"`
	PukCode     string `json:"pukCode,omitempty"`
}

func publicVoucher(v models.Voucher) voucherResponse {
	return voucherResponse{
		ID:          v.ID,
		QRURL:       v.QRURL,
		CountryName: v.CountryName,
		CountryCode: v.CountryCode,
		ESIMNumber:  v.ESIMNumber,
		PinCode:     v.PinCode,
		PukCode:     v.PukCode,
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if ok, retryIn := h.orderLimiter.Allow(clientKey(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryIn.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "too many orders, slow down")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("create_order", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order request")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	plan, err := h.repo.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		logger.Error("create_order", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if !plan.IsActive {
		writeError(w, http.StatusConflict, "plan is not available")
		return
	}
	if h.wata == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	order, err := h.repo.CreateOrder(ctx, models.CreateOrderParams{
		PlanID:        plan.ID,
		CustomerEmail: strings.TrimSpace(req.Email),
		CustomerPhone: strings.TrimSpace(req.Phone),
		AmountCents:   plan.PriceCents,
		Currency:      plan.Currency,
	})
	if err != nil {
		logger.Error("create_order", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}

	link, err := h.wata.CreatePaymentLink(ctx, wata.PaymentLinkRequest{
		OrderID:     order.ID,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
		Description: fmt.Sprintf("eSIM %s", plan.Name),
		SuccessURL:  h.redirectURL("/payment/success", order.ID),
		FailURL:     h.redirectURL("/payment/fail", order.ID),
	})
	if err != nil {
		// The order exists, the customer can retry payment later.
		logger.Error("create_order", "status", "wata_error", "order_id", order.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": "payment provider unavailable",
			"order": order,
		})
		return
	}

	if link.PaymentID != "" {
		if err := h.repo.SetOrderPaymentRef(ctx, order.ID, link.PaymentID); err != nil {
			logger.Warn("create_order", "status", "payment_ref_failed", "order_id", order.ID, "error", err)
		} else {
			order.PaymentID = link.PaymentID
		}
	}
	if _, err := h.repo.UpsertPayment(ctx, models.Payment{
		OrderID:           order.ID,
		Provider:          models.PaymentProviderWata,
		ProviderPaymentID: link.PaymentID,
		AmountCents:       order.AmountCents,
		Status:            "created",
		RawResponseJSON:   link.Raw,
	}); err != nil {
		logger.Warn("create_order", "status", "payment_upsert_failed", "order_id", order.ID, "error", err)
	}

	logger.Info("order_created", "order_id", order.ID, "plan_id", plan.ID, "amount_cents", order.AmountCents)
	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:   order,
		Payment: &paymentSummary{PaymentID: link.PaymentID, URL: link.URL},
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.repo.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerForRequest(r).Error("get_order", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

// OrderVoucher returns the voucher for a paid order. A paid order that
// lost its allocation (crash, empty pool at payment time) gets one more
// allocation attempt right here.
func (h *Handler) OrderVoucher(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	voucher, status, msg := h.voucherForOrder(ctx, r, logger)
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"voucher": publicVoucher(voucher)})
}

// VoucherQR serves the voucher as an image: a redirect when the stored
// payload already is a hosted image, a generated QR code otherwise.
func (h *Handler) VoucherQR(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	voucher, status, msg := h.voucherForOrder(ctx, r, logger)
	if msg != "" {
		writeError(w, status, msg)
		return
	}

	if strings.HasPrefix(voucher.QRURL, "http://") || strings.HasPrefix(voucher.QRURL, "https://") {
		http.Redirect(w, r, voucher.QRURL, http.StatusFound)
		return
	}

	png, err := qrimg.RenderPNG(voucher.QRURL, 0)
	if err != nil {
		logger.Error("voucher_qr", "status", "render_error", "error", err)
		writeError(w, http.StatusInternalServerError, "qr render error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(png)
}

func (h *Handler) voucherForOrder(ctx context.Context, r *http.Request, logger *slog.Logger) (models.Voucher, int, string) {
	order, err := h.repo.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return models.Voucher{}, http.StatusNotFound, "order not found"
		}
		logger.Error("order_voucher", "status", "db_error", "error", err)
		return models.Voucher{}, http.StatusInternalServerError, "db error"
	}
	if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusCompleted {
		return models.Voucher{}, http.StatusForbidden, "order is not paid"
	}

	voucher, err := h.engine.EnsureAllocated(ctx, order)
	switch {
	case err == nil:
		return voucher, 0, ""
	case errors.Is(err, repository.ErrNoAvailableVoucher):
		return models.Voucher{}, http.StatusConflict, "voucher is not available yet"
	default:
		logger.Error("order_voucher", "status", "allocate_error", "order_id", order.ID, "error", err)
		return models.Voucher{}, http.StatusInternalServerError, "db error"
	}
}

func (h *Handler) redirectURL(pathPart, orderID string) string {
	base := strings.TrimRight(h.cfg.BaseURL, "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s%s?orderId=%s", base, pathPart, orderID)
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
