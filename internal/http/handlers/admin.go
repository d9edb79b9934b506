package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"esimstore/backend/internal/auth"
	"esimstore/backend/internal/models"
	"esimstore/backend/internal/repository"

	"github.com/go-chi/chi/v5"
)

type adminLoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) AuthAdmin(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)

	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	if req.Login != h.cfg.AdminLogin || !auth.CheckPassword(h.cfg.AdminPassHash, h.cfg.AdminPassword, req.Password) {
		logger.Warn("admin_login", "status", "rejected", "login", req.Login)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.SignAdminToken(h.cfg.JWTSecret, req.Login)
	if err != nil {
		logger.Error("admin_login", "status", "sign_error", "error", err)
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	logger.Info("admin_login", "status", "ok", "login", req.Login)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) CreateAdminVoucher(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)

	var req models.VoucherInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "planId and qrUrl are required")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	voucher, err := h.repo.CreateVoucher(ctx, req)
	if err != nil {
		logger.Error("create_voucher", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	logger.Info("voucher_created", "voucher_id", voucher.ID, "plan_id", voucher.PlanID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"voucher": voucher})
}

// UploadAdminVoucherImage stores a QR image in object storage and
// returns the URL to use as a voucher's qrUrl.
func (h *Handler) UploadAdminVoucherImage(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if h.s3 == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	url, err := h.s3.UploadQRImage(r.Context(), header.Filename, contentType, file, header.Size)
	if err != nil {
		logger.Error("voucher_image_upload", "status", "s3_error", "error", err)
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (h *Handler) ListAdminVouchers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	var planID *int64
	if raw := r.URL.Query().Get("planId"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid planId")
			return
		}
		planID = &parsed
	}
	var used *bool
	if raw := r.URL.Query().Get("used"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid used flag")
			return
		}
		used = &parsed
	}
	limit, offset := paginationParams(r, 50)

	vouchers, total, err := h.repo.ListVouchers(ctx, planID, used, limit, offset)
	if err != nil {
		h.loggerForRequest(r).Error("list_vouchers", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vouchers": vouchers, "total": total})
}

func (h *Handler) AdminVoucherStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	counts, err := h.repo.VoucherCounts(ctx)
	if err != nil {
		h.loggerForRequest(r).Error("voucher_stats", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": counts})
}

func (h *Handler) ReleaseAdminVoucher(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	voucherID := chi.URLParam(r, "id")
	if err := h.repo.ReleaseVoucher(ctx, voucherID); err != nil {
		if errors.Is(err, repository.ErrVoucherNotFound) {
			writeError(w, http.StatusNotFound, "voucher not found")
			return
		}
		logger.Error("release_voucher", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	logger.Info("voucher_released", "voucher_id", voucherID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) ListAdminOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit, offset := paginationParams(r, 50)

	orders, total, err := h.repo.ListOrders(ctx, status, limit, offset)
	if err != nil {
		h.loggerForRequest(r).Error("list_orders", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "total": total})
}

func (h *Handler) GetAdminOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	order, err := h.repo.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerForRequest(r).Error("get_admin_order", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}

	out := map[string]interface{}{"order": order}
	if voucher, err := h.repo.GetVoucherByOrder(ctx, order.ID); err == nil {
		out["voucher"] = voucher
	}
	if payment, err := h.repo.GetPaymentByOrder(ctx, order.ID, models.PaymentProviderWata); err == nil {
		out["payment"] = payment
	}
	writeJSON(w, http.StatusOK, out)
}

// AllocateAdminOrder manually triggers voucher allocation, used after
// restocking a plan that ran dry.
func (h *Handler) AllocateAdminOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	order, err := h.repo.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		logger.Error("allocate_order", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusCompleted {
		writeError(w, http.StatusConflict, "order is not paid")
		return
	}

	voucher, err := h.engine.EnsureAllocated(ctx, order)
	if err != nil {
		if errors.Is(err, repository.ErrNoAvailableVoucher) {
			writeError(w, http.StatusConflict, "no available voucher for plan")
			return
		}
		logger.Error("allocate_order", "status", "allocate_error", "order_id", order.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	logger.Info("order_allocated", "order_id", order.ID, "voucher_id", voucher.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"voucher": voucher})
}

func (h *Handler) AdminSalesStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	period := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("period")))
	if period == "" {
		period = "today"
	}
	now := time.Now()
	var since time.Time
	switch period {
	case "today":
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, -1, 0)
	default:
		writeError(w, http.StatusBadRequest, "period must be today, week or month")
		return
	}

	stats, err := h.repo.SalesStats(ctx, since, period)
	if err != nil {
		h.loggerForRequest(r).Error("sales_stats", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *Handler) ListAdminPlans(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	plans, err := h.repo.ListPlans(ctx, false)
	if err != nil {
		h.loggerForRequest(r).Error("list_plans", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

func (h *Handler) CreateAdminPlan(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)

	var req models.Plan
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.PriceCents <= 0 {
		writeError(w, http.StatusBadRequest, "name and positive priceCents are required")
		return
	}
	if req.Currency == "" {
		req.Currency = "RUB"
	}
	req.IsActive = true

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	plan, err := h.repo.CreatePlan(ctx, req)
	if err != nil {
		logger.Error("create_plan", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"plan": plan})
}

func (h *Handler) SetAdminPlanActive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	planID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}
	var req struct {
		IsActive bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.repo.SetPlanActive(ctx, planID, req.IsActive); err != nil {
		if errors.Is(err, repository.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		h.loggerForRequest(r).Error("set_plan_active", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func paginationParams(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
