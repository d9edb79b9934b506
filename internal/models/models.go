package models

import "time"

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusPaid       = "paid"
	OrderStatusCompleted  = "completed"
	OrderStatusFailed     = "failed"
)

// statusRank orders payment states so updates never move an order
// backwards. A late "failed" from the provider must not overwrite a
// paid or completed order, while "paid" may supersede "failed".
var statusRank = map[string]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusFailed:     1,
	OrderStatusPaid:       2,
	OrderStatusCompleted:  3,
}

// StatusRank returns the monotonicity rank for an order status.
// Unknown statuses rank below pending.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return -1
}

const PaymentProviderWata = "wata"

// Plan represents an eSIM plan offered in the catalog.
type Plan struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CountryName string    `json:"countryName,omitempty"`
	CountryCode string    `json:"countryCode,omitempty"`
	DataGB      float64   `json:"dataGb,omitempty"`
	Days        int       `json:"days,omitempty"`
	PriceCents  int64     `json:"priceCents"`
	Currency    string    `json:"currency"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Order represents a purchase of one eSIM plan.
type Order struct {
	ID                 string     `json:"id"`
	PlanID             int64      `json:"planId"`
	PlanName           string     `json:"planName,omitempty"`
	CustomerEmail      string     `json:"customerEmail,omitempty"`
	CustomerPhone      string     `json:"customerPhone,omitempty"`
	AmountCents        int64      `json:"amountCents"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	VoucherID          *string    `json:"voucherId,omitempty"`
	PaymentID          string     `json:"paymentId,omitempty"`
	NotificationSentAt *time.Time `json:"notificationSentAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Voucher represents a single eSIM QR voucher in stock.
type Voucher struct {
	ID          string     `json:"id"`
	PlanID      int64      `json:"planId"`
	QRURL       string     `json:"qrUrl"`
	CountryName string     `json:"countryName,omitempty"`
	CountryCode string     `json:"countryCode,omitempty"`
	ESIMNumber  string     `json:"esimNumber,omitempty"`
	PinCode     string     `json:"pinCode,omitempty"`
	PukCode     string     `json:"pukCode,omitempty"`
	HiddenNotes string     `json:"hiddenNotes,omitempty"`
	IsUsed      bool       `json:"isUsed"`
	OrderID     *string    `json:"orderId,omitempty"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// VoucherInput represents voucher create input.
type VoucherInput struct {
	PlanID      int64  `json:"planId" validate:"required"`
	QRURL       string `json:"qrUrl" validate:"required"`
	CountryName string `json:"countryName"`
	CountryCode string `json:"countryCode"`
	ESIMNumber  string `json:"esimNumber"`
	PinCode     string `json:"pinCode"`
	PukCode     string `json:"pukCode"`
	HiddenNotes string `json:"hiddenNotes"`
}

// Payment represents the provider-side payment record for an order.
type Payment struct {
	ID                string                 `json:"id"`
	OrderID           string                 `json:"orderId"`
	Provider          string                 `json:"provider"`
	ProviderPaymentID string                 `json:"providerPaymentId,omitempty"`
	AmountCents       int64                  `json:"amountCents"`
	Status            string                 `json:"status"`
	RawResponseJSON   map[string]interface{} `json:"rawResponseJson,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

// CreateOrderParams represents create order params.
type CreateOrderParams struct {
	PlanID        int64
	CustomerEmail string
	CustomerPhone string
	AmountCents   int64
	Currency      string
}

// VoucherPlanCount represents per-plan stock counts.
type VoucherPlanCount struct {
	PlanID   int64  `json:"planId"`
	PlanName string `json:"planName"`
	Total    int64  `json:"total"`
	Free     int64  `json:"free"`
	Used     int64  `json:"used"`
}

// DanglingAllocation represents a voucher bound to an order that does
// not reference it back.
type DanglingAllocation struct {
	VoucherID      string  `json:"voucherId"`
	OrderID        string  `json:"orderId"`
	OrderVoucherID *string `json:"orderVoucherId,omitempty"`
}

// SalesStats represents sales aggregates over a period.
type SalesStats struct {
	Period         string `json:"period"`
	OrdersTotal    int64  `json:"ordersTotal"`
	OrdersPaid     int64  `json:"ordersPaid"`
	RevenueCents   int64  `json:"revenueCents"`
	VouchersIssued int64  `json:"vouchersIssued"`
}
