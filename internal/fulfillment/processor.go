package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"esimstore/backend/internal/models"
	"esimstore/backend/internal/repository"
	"esimstore/backend/internal/wata"
)

// NotificationQuietPeriod suppresses repeat notifications for the same
// order. Replayed webhooks inside the window stay silent.
const NotificationQuietPeriod = 24 * time.Hour

const (
	NotifySale      = "sale"
	NotifyNoVoucher = "no_voucher"
)

// Result describes what a webhook did, for the HTTP layer to respond
// and decide about notifications.
type Result struct {
	Order        models.Order
	Voucher      *models.Voucher
	Status       string
	Changed      bool
	Unrecognized bool
	Notify       bool
	NotifyKind   string
}

// Processor applies payment webhooks to order state. It is synchronous;
// callers own any background dispatch.
type Processor struct {
	orders   OrderStore
	payments PaymentStore
	engine   *Engine
	logger   *slog.Logger
}

func NewProcessor(orders OrderStore, payments PaymentStore, engine *Engine, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{orders: orders, payments: payments, engine: engine, logger: logger}
}

// ProcessWebhook parses a provider notification and moves the order
// through status update, voucher allocation and the notification claim.
// Replays and out-of-order deliveries are safe: every mutation is a
// conditional update keyed on current state.
func (p *Processor) ProcessWebhook(ctx context.Context, body []byte) (Result, error) {
	event, err := wata.ParseEvent(body)
	if err != nil {
		return Result{}, err
	}

	status, ok := wata.CanonicalStatus(event.RawStatus)
	if !ok {
		// Unknown vocabulary is acknowledged without touching state,
		// so the provider stops retrying.
		p.logger.Warn("webhook_status_unrecognized", "order_id", event.OrderID, "raw_status", event.RawStatus)
		return Result{Unrecognized: true}, nil
	}

	order, changed, err := p.orders.ApplyWebhookStatus(ctx, event.OrderID, status)
	if err != nil {
		return Result{}, err
	}
	out := Result{Order: order, Status: status, Changed: changed}

	if event.TransactionID != "" && order.PaymentID == "" {
		if err := p.orders.SetOrderPaymentRef(ctx, order.ID, event.TransactionID); err != nil {
			p.logger.Warn("payment_ref_update_failed", "order_id", order.ID, "error", err)
		}
	}
	if _, err := p.payments.UpsertPayment(ctx, models.Payment{
		OrderID:           order.ID,
		Provider:          models.PaymentProviderWata,
		ProviderPaymentID: event.TransactionID,
		AmountCents:       int64(math.Round(event.Amount * 100)),
		Status:            event.RawStatus,
		RawResponseJSON:   event.Raw,
	}); err != nil {
		// Payment audit rows are best effort, the order row is the
		// source of truth.
		p.logger.Warn("payment_upsert_failed", "order_id", order.ID, "error", err)
	}

	if status != models.OrderStatusPaid {
		return out, nil
	}

	// Allocation works off the fresh read, not the webhook: a replay
	// whose order already holds a voucher allocates nothing.
	voucher, err := p.engine.EnsureAllocated(ctx, order)
	switch {
	case err == nil:
		out.Voucher = &voucher
		out.Order.VoucherID = &voucher.ID
		out.Order.Status = models.OrderStatusCompleted
		out.NotifyKind = NotifySale
	case errors.Is(err, repository.ErrNoAvailableVoucher):
		p.logger.Error("voucher_pool_exhausted", "order_id", order.ID, "plan_id", order.PlanID)
		out.NotifyKind = NotifyNoVoucher
	default:
		return out, err
	}

	claimed, err := p.orders.ClaimNotificationSlot(ctx, order.ID, NotificationQuietPeriod)
	if err != nil {
		p.logger.Warn("notification_claim_failed", "order_id", order.ID, "error", err)
		return out, nil
	}
	out.Notify = claimed
	return out, nil
}
