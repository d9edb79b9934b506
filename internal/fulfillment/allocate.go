package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"esimstore/backend/internal/models"
	"esimstore/backend/internal/repository"
)

// maxClaimAttempts bounds the claim loop when concurrent orders race
// for the same vouchers. Each lost race retries against the next oldest
// free voucher.
const maxClaimAttempts = 5

// Engine assigns free vouchers to paid orders. All correctness comes
// from the store's conditional updates; the engine itself holds no
// locks.
type Engine struct {
	orders   OrderStore
	vouchers VoucherStore
	logger   *slog.Logger
}

func NewEngine(orders OrderStore, vouchers VoucherStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{orders: orders, vouchers: vouchers, logger: logger}
}

// EnsureAllocated gives the order a voucher, or confirms the one it
// already has. Safe to call repeatedly and concurrently for the same
// order. Returns repository.ErrNoAvailableVoucher when the plan's pool
// is exhausted; the order is left untouched for a later retry.
func (e *Engine) EnsureAllocated(ctx context.Context, order models.Order) (models.Voucher, error) {
	if order.VoucherID != nil {
		return e.vouchers.GetVoucher(ctx, *order.VoucherID)
	}

	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		candidate, err := e.vouchers.NextFreeVoucher(ctx, order.PlanID)
		if err != nil {
			return models.Voucher{}, err
		}
		claimed, err := e.vouchers.ClaimVoucher(ctx, candidate.ID, order.ID)
		if err != nil {
			return models.Voucher{}, err
		}
		if !claimed {
			// Lost the race for this voucher, try the next oldest.
			e.logger.Debug("voucher_claim_lost", "order_id", order.ID, "voucher_id", candidate.ID, "attempt", attempt)
			continue
		}

		bound, err := e.orders.SetOrderVoucher(ctx, order.ID, candidate.ID)
		if err != nil {
			return models.Voucher{}, err
		}
		if !bound {
			// Another allocation finished first; our claim stays on
			// the voucher until an operator releases it. The reconcile
			// worker reports these.
			e.logger.Warn("voucher_bind_conflict", "order_id", order.ID, "voucher_id", candidate.ID)
			return e.vouchers.GetVoucherByOrder(ctx, order.ID)
		}
		return e.vouchers.GetVoucher(ctx, candidate.ID)
	}

	// Only reachable when every attempt lost its claim race.
	if _, err := e.vouchers.NextFreeVoucher(ctx, order.PlanID); errors.Is(err, repository.ErrNoAvailableVoucher) {
		return models.Voucher{}, err
	}
	return models.Voucher{}, fmt.Errorf("voucher claim attempts exhausted for order %s", order.ID)
}
