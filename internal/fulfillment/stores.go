package fulfillment

import (
	"context"
	"time"

	"esimstore/backend/internal/models"
)

// OrderStore is the slice of the repository the fulfillment flow needs
// for orders.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	ApplyWebhookStatus(ctx context.Context, orderID, status string) (models.Order, bool, error)
	SetOrderVoucher(ctx context.Context, orderID, voucherID string) (bool, error)
	SetOrderPaymentRef(ctx context.Context, orderID, paymentID string) error
	ClaimNotificationSlot(ctx context.Context, orderID string, quiet time.Duration) (bool, error)
	ListPaidUnassigned(ctx context.Context, limit int) ([]models.Order, error)
}

// VoucherStore is the slice of the repository the fulfillment flow
// needs for vouchers.
type VoucherStore interface {
	NextFreeVoucher(ctx context.Context, planID int64) (models.Voucher, error)
	ClaimVoucher(ctx context.Context, voucherID, orderID string) (bool, error)
	GetVoucher(ctx context.Context, voucherID string) (models.Voucher, error)
	GetVoucherByOrder(ctx context.Context, orderID string) (models.Voucher, error)
	ListDanglingAllocations(ctx context.Context, limit int) ([]models.DanglingAllocation, error)
}

// PaymentStore records provider payment state.
type PaymentStore interface {
	UpsertPayment(ctx context.Context, p models.Payment) (models.Payment, error)
}
