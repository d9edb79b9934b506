package fulfillment

import (
	"context"
	"errors"
	"log/slog"

	"esimstore/backend/internal/models"
	"esimstore/backend/internal/repository"
)

const reconcileBatch = 100

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	Repaired  int
	Conflicts []models.DanglingAllocation
	Allocated []models.Order
	Exhausted []models.Order
}

// Reconciler repairs interrupted allocations and retries orders that
// paid while the voucher pool was empty.
type Reconciler struct {
	orders   OrderStore
	vouchers VoucherStore
	engine   *Engine
	logger   *slog.Logger
}

func NewReconciler(orders OrderStore, vouchers VoucherStore, engine *Engine, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{orders: orders, vouchers: vouchers, engine: engine, logger: logger}
}

func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	dangling, err := r.vouchers.ListDanglingAllocations(ctx, reconcileBatch)
	if err != nil {
		return report, err
	}
	for _, d := range dangling {
		if d.OrderVoucherID != nil {
			// The order settled on a different voucher. Releasing the
			// extra claim needs an operator decision, so it is only
			// surfaced here.
			r.logger.Warn("allocation_conflict", "order_id", d.OrderID, "voucher_id", d.VoucherID, "order_voucher_id", *d.OrderVoucherID)
			report.Conflicts = append(report.Conflicts, d)
			continue
		}
		bound, err := r.orders.SetOrderVoucher(ctx, d.OrderID, d.VoucherID)
		if err != nil {
			return report, err
		}
		if bound {
			r.logger.Info("allocation_repaired", "order_id", d.OrderID, "voucher_id", d.VoucherID)
			report.Repaired++
		}
	}

	pending, err := r.orders.ListPaidUnassigned(ctx, reconcileBatch)
	if err != nil {
		return report, err
	}
	for _, order := range pending {
		if _, err := r.engine.EnsureAllocated(ctx, order); err != nil {
			if errors.Is(err, repository.ErrNoAvailableVoucher) {
				report.Exhausted = append(report.Exhausted, order)
				continue
			}
			return report, err
		}
		report.Allocated = append(report.Allocated, order)
	}
	return report, nil
}
