package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"esimstore/backend/internal/fulfillment"
	"esimstore/backend/internal/notify"
	"esimstore/backend/internal/repository"
	"esimstore/backend/internal/wata"
)

const webhookBodyLimit = 1 << 20

// WataWebhook receives payment notifications. The response contract
// matters: 2xx stops provider retries, so only persistence failures
// answer 5xx.
func (h *Handler) WataWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !wata.VerifySignature(h.cfg.Wata.WebhookSecret, r.Header.Get("X-Signature"), body) {
		logger.Warn("wata_webhook", "status", "bad_signature")
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	res, err := h.processor.ProcessWebhook(ctx, body)
	switch {
	case err == nil:
	case errors.Is(err, wata.ErrMalformedPayload):
		logger.Warn("wata_webhook", "status", "malformed", "error", err)
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	case errors.Is(err, repository.ErrOrderNotFound):
		logger.Warn("wata_webhook", "status", "order_not_found")
		writeError(w, http.StatusNotFound, "order not found")
		return
	default:
		logger.Error("wata_webhook", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}

	if res.Unrecognized {
		// Acknowledged so the provider stops retrying; nothing changed.
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "ignored": true})
		return
	}

	if res.Notify {
		// The slot is already claimed; delivery happens off the
		// request path and its failures only reach the log.
		go h.dispatchNotification(res)
	}

	logger.Info("wata_webhook", "order_id", res.Order.ID, "status", res.Order.Status, "changed", res.Changed)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orderId": res.Order.ID,
		"status":  res.Order.Status,
	})
}

func (h *Handler) dispatchNotification(res fulfillment.Result) {
	if h.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var text string
	switch res.NotifyKind {
	case fulfillment.NotifySale:
		if res.Voucher == nil {
			return
		}
		text = notify.SaleMessage(res.Order, *res.Voucher)
	case fulfillment.NotifyNoVoucher:
		text = notify.NoVoucherMessage(res.Order)
	default:
		return
	}
	report := h.dispatcher.Dispatch(ctx, text)
	h.logger.Info("notification_dispatched", "order_id", res.Order.ID, "kind", res.NotifyKind, "sent", report.Sent, "failed", report.Failed)
}
