package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"esimstore/backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `o.id::text, o.plan_id, p.name, o.customer_email, o.customer_phone,
	o.amount_cents, o.currency, o.status, o.voucher_id::text, o.payment_id,
	o.notification_sent_at, o.created_at, o.updated_at`

// statusRankSQL mirrors models.StatusRank so the monotonicity guard can
// run inside a single conditional UPDATE.
const statusRankSQL = `CASE %s
	WHEN 'pending' THEN 0
	WHEN 'processing' THEN 1
	WHEN 'failed' THEN 1
	WHEN 'paid' THEN 2
	WHEN 'completed' THEN 3
	ELSE -1
END`

func (r *Repository) CreateOrder(ctx context.Context, params models.CreateOrderParams) (models.Order, error) {
	id := uuid.NewString()
	row := r.pool.QueryRow(ctx, `
WITH inserted AS (
	INSERT INTO orders (id, plan_id, customer_email, customer_phone, amount_cents, currency)
	VALUES ($1::uuid, $2, $3, $4, $5, $6)
	RETURNING *
)
SELECT `+strings.ReplaceAll(orderColumns, "o.", "inserted.")+`
FROM inserted
JOIN esim_plans p ON p.id = inserted.plan_id;`,
		id,
		params.PlanID,
		nullString(params.CustomerEmail),
		nullString(params.CustomerPhone),
		params.AmountCents,
		params.Currency,
	)
	return scanOrder(row)
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+orderColumns+`
FROM orders o
JOIN esim_plans p ON p.id = o.plan_id
WHERE o.id = $1::uuid;`, orderID)
	out, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrOrderNotFound
	}
	return out, err
}

func (r *Repository) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, int, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+orderColumns+`, COUNT(*) OVER() AS total
FROM orders o
JOIN esim_plans p ON p.id = o.plan_id
WHERE ($1::text IS NULL OR o.status = $1)
ORDER BY o.created_at DESC
LIMIT $2 OFFSET $3;`, nullString(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]models.Order, 0)
	total := 0
	for rows.Next() {
		var o models.Order
		var planName sql.NullString
		var email sql.NullString
		var phone sql.NullString
		var voucherID sql.NullString
		var paymentID sql.NullString
		var notifiedAt sql.NullTime
		var rowTotal int
		if err := rows.Scan(
			&o.ID, &o.PlanID, &planName, &email, &phone,
			&o.AmountCents, &o.Currency, &o.Status, &voucherID, &paymentID,
			&notifiedAt, &o.CreatedAt, &o.UpdatedAt, &rowTotal,
		); err != nil {
			return nil, 0, err
		}
		o.PlanName = nullStringToStr(planName)
		o.CustomerEmail = nullStringToStr(email)
		o.CustomerPhone = nullStringToStr(phone)
		o.VoucherID = nullStringToPtr(voucherID)
		o.PaymentID = nullStringToStr(paymentID)
		o.NotificationSentAt = nullTimeToPtr(notifiedAt)
		total = rowTotal
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// ApplyWebhookStatus moves an order to status unless that would rank it
// below its current state. A late failure never downgrades a paid or
// completed order. Returns the fresh order row and whether the status
// actually changed.
func (r *Repository) ApplyWebhookStatus(ctx context.Context, orderID, status string) (models.Order, bool, error) {
	guard := fmt.Sprintf(statusRankSQL, "o.status")
	target := fmt.Sprintf(statusRankSQL, "$2::text")
	row := r.pool.QueryRow(ctx, `
WITH updated AS (
	UPDATE orders o
	SET status = $2, updated_at = now()
	WHERE o.id = $1::uuid
		AND o.status IS DISTINCT FROM $2
		AND (`+guard+`) <= (`+target+`)
	RETURNING *
)
SELECT `+strings.ReplaceAll(orderColumns, "o.", "updated.")+`
FROM updated
JOIN esim_plans p ON p.id = updated.plan_id;`, orderID, status)
	out, err := scanOrder(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, false, err
	}
	// Guard rejected the update or the order does not exist. A fresh
	// read tells them apart and gives the caller current state.
	out, err = r.GetOrder(ctx, orderID)
	return out, false, err
}

// SetOrderVoucher binds a claimed voucher to its order and completes it.
// The voucher_id IS NULL guard keeps a second allocation from replacing
// the first.
func (r *Repository) SetOrderVoucher(ctx context.Context, orderID, voucherID string) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
UPDATE orders
SET voucher_id = $2::uuid, status = $3, updated_at = now()
WHERE id = $1::uuid AND voucher_id IS NULL;`, orderID, voucherID, models.OrderStatusCompleted)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *Repository) SetOrderPaymentRef(ctx context.Context, orderID, paymentID string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE orders SET payment_id = $2, updated_at = now() WHERE id = $1::uuid;`, orderID, nullString(paymentID))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ClaimNotificationSlot marks the order as notified unless a
// notification already went out within the quiet period. Claiming
// before sending means a crash loses at most one notification instead
// of duplicating it.
func (r *Repository) ClaimNotificationSlot(ctx context.Context, orderID string, quiet time.Duration) (bool, error) {
	interval := fmt.Sprintf("%d seconds", int(quiet.Seconds()))
	cmd, err := r.pool.Exec(ctx, `
UPDATE orders
SET notification_sent_at = now(), updated_at = now()
WHERE id = $1::uuid
	AND (notification_sent_at IS NULL OR notification_sent_at <= now() - $2::interval);`, orderID, interval)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListPaidUnassigned returns paid orders still waiting for a voucher,
// oldest first.
func (r *Repository) ListPaidUnassigned(ctx context.Context, limit int) ([]models.Order, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+orderColumns+`
FROM orders o
JOIN esim_plans p ON p.id = o.plan_id
WHERE o.status = $1 AND o.voucher_id IS NULL
ORDER BY o.created_at ASC
LIMIT $2;`, models.OrderStatusPaid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) SalesStats(ctx context.Context, since time.Time, period string) (models.SalesStats, error) {
	row := r.pool.QueryRow(ctx, `
SELECT
	count(*) AS orders_total,
	count(*) FILTER (WHERE status IN ('paid', 'completed')) AS orders_paid,
	COALESCE(sum(amount_cents) FILTER (WHERE status IN ('paid', 'completed')), 0) AS revenue_cents,
	count(*) FILTER (WHERE voucher_id IS NOT NULL) AS vouchers_issued
FROM orders
WHERE created_at >= $1;`, since)
	out := models.SalesStats{Period: period}
	err := row.Scan(&out.OrdersTotal, &out.OrdersPaid, &out.RevenueCents, &out.VouchersIssued)
	return out, err
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var out models.Order
	var planName sql.NullString
	var email sql.NullString
	var phone sql.NullString
	var voucherID sql.NullString
	var paymentID sql.NullString
	var notifiedAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.PlanID,
		&planName,
		&email,
		&phone,
		&out.AmountCents,
		&out.Currency,
		&out.Status,
		&voucherID,
		&paymentID,
		&notifiedAt,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return out, err
	}
	out.PlanName = nullStringToStr(planName)
	out.CustomerEmail = nullStringToStr(email)
	out.CustomerPhone = nullStringToStr(phone)
	out.VoucherID = nullStringToPtr(voucherID)
	out.PaymentID = nullStringToStr(paymentID)
	out.NotificationSentAt = nullTimeToPtr(notifiedAt)
	return out, nil
}
