package repository

import (
	"context"
	"database/sql"
	"errors"

	"esimstore/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const voucherColumns = `id::text, plan_id, qr_url, country_name, country_code,
	esim_number, pin_code, puk_code, hidden_notes, is_used, order_id::text, used_at, created_at`

func (r *Repository) CreateVoucher(ctx context.Context, in models.VoucherInput) (models.Voucher, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO qr_codes (plan_id, qr_url, country_name, country_code, esim_number, pin_code, puk_code, hidden_notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+voucherColumns+`;`,
		in.PlanID,
		in.QRURL,
		nullString(in.CountryName),
		nullString(in.CountryCode),
		nullString(in.ESIMNumber),
		nullString(in.PinCode),
		nullString(in.PukCode),
		nullString(in.HiddenNotes),
	)
	return scanVoucher(row)
}

func (r *Repository) GetVoucher(ctx context.Context, voucherID string) (models.Voucher, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+voucherColumns+` FROM qr_codes WHERE id = $1::uuid;`, voucherID)
	out, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrVoucherNotFound
	}
	return out, err
}

func (r *Repository) GetVoucherByOrder(ctx context.Context, orderID string) (models.Voucher, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+voucherColumns+` FROM qr_codes WHERE order_id = $1::uuid
ORDER BY used_at ASC LIMIT 1;`, orderID)
	out, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrVoucherNotFound
	}
	return out, err
}

func (r *Repository) ListVouchers(ctx context.Context, planID *int64, used *bool, limit, offset int) ([]models.Voucher, int, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+voucherColumns+`, COUNT(*) OVER() AS total
FROM qr_codes
WHERE ($1::bigint IS NULL OR plan_id = $1)
	AND ($2::boolean IS NULL OR is_used = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4;`, int64PtrOrNil(planID), boolPtrOrNil(used), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]models.Voucher, 0)
	total := 0
	for rows.Next() {
		var v models.Voucher
		var countryName, countryCode, esimNumber, pinCode, pukCode, hiddenNotes, orderID sql.NullString
		var usedAt sql.NullTime
		var rowTotal int
		if err := rows.Scan(
			&v.ID, &v.PlanID, &v.QRURL, &countryName, &countryCode,
			&esimNumber, &pinCode, &pukCode, &hiddenNotes, &v.IsUsed, &orderID, &usedAt, &v.CreatedAt,
			&rowTotal,
		); err != nil {
			return nil, 0, err
		}
		v.CountryName = nullStringToStr(countryName)
		v.CountryCode = nullStringToStr(countryCode)
		v.ESIMNumber = nullStringToStr(esimNumber)
		v.PinCode = nullStringToStr(pinCode)
		v.PukCode = nullStringToStr(pukCode)
		v.HiddenNotes = nullStringToStr(hiddenNotes)
		v.OrderID = nullStringToPtr(orderID)
		v.UsedAt = nullTimeToPtr(usedAt)
		total = rowTotal
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (r *Repository) VoucherCounts(ctx context.Context) ([]models.VoucherPlanCount, error) {
	rows, err := r.pool.Query(ctx, `
SELECT p.id, p.name,
	count(q.id) AS total,
	count(q.id) FILTER (WHERE NOT q.is_used) AS free,
	count(q.id) FILTER (WHERE q.is_used) AS used
FROM esim_plans p
LEFT JOIN qr_codes q ON q.plan_id = p.id
GROUP BY p.id, p.name
ORDER BY p.id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.VoucherPlanCount, 0)
	for rows.Next() {
		var c models.VoucherPlanCount
		if err := rows.Scan(&c.PlanID, &c.PlanName, &c.Total, &c.Free, &c.Used); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// NextFreeVoucher returns the oldest unused voucher for a plan. The
// voucher is not reserved; ClaimVoucher decides who wins it.
func (r *Repository) NextFreeVoucher(ctx context.Context, planID int64) (models.Voucher, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+voucherColumns+`
FROM qr_codes
WHERE plan_id = $1 AND is_used = false
ORDER BY created_at ASC, id ASC
LIMIT 1;`, planID)
	out, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNoAvailableVoucher
	}
	return out, err
}

// ClaimVoucher atomically marks a voucher used for an order. Exactly
// one of any number of concurrent claimants sees true; the rest must
// pick another voucher.
func (r *Repository) ClaimVoucher(ctx context.Context, voucherID, orderID string) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
UPDATE qr_codes
SET is_used = true, order_id = $2::uuid, used_at = now()
WHERE id = $1::uuid AND is_used = false;`, voucherID, orderID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ReleaseVoucher returns a voucher to the free pool and clears any
// order still referencing it, in one transaction. Used by the admin
// surface to undo a bad allocation; never called on the payment path.
func (r *Repository) ReleaseVoucher(ctx context.Context, voucherID string) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
UPDATE qr_codes
SET is_used = false, order_id = NULL, used_at = NULL
WHERE id = $1::uuid;`, voucherID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrVoucherNotFound
		}
		_, err = tx.Exec(ctx, `
UPDATE orders
SET voucher_id = NULL, updated_at = now()
WHERE voucher_id = $1::uuid;`, voucherID)
		return err
	})
}

// ListDanglingAllocations finds vouchers claimed for an order that does
// not reference them back, usually after a crash between the claim and
// the order update.
func (r *Repository) ListDanglingAllocations(ctx context.Context, limit int) ([]models.DanglingAllocation, error) {
	rows, err := r.pool.Query(ctx, `
SELECT q.id::text, q.order_id::text, o.voucher_id::text
FROM qr_codes q
JOIN orders o ON o.id = q.order_id
WHERE q.is_used = true
	AND (o.voucher_id IS NULL OR o.voucher_id <> q.id)
ORDER BY q.used_at ASC
LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.DanglingAllocation, 0)
	for rows.Next() {
		var d models.DanglingAllocation
		var orderVoucherID sql.NullString
		if err := rows.Scan(&d.VoucherID, &d.OrderID, &orderVoucherID); err != nil {
			return nil, err
		}
		d.OrderVoucherID = nullStringToPtr(orderVoucherID)
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanVoucher(row pgx.Row) (models.Voucher, error) {
	var out models.Voucher
	var countryName, countryCode, esimNumber, pinCode, pukCode, hiddenNotes, orderID sql.NullString
	var usedAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.PlanID,
		&out.QRURL,
		&countryName,
		&countryCode,
		&esimNumber,
		&pinCode,
		&pukCode,
		&hiddenNotes,
		&out.IsUsed,
		&orderID,
		&usedAt,
		&out.CreatedAt,
	); err != nil {
		return out, err
	}
	out.CountryName = nullStringToStr(countryName)
	out.CountryCode = nullStringToStr(countryCode)
	out.ESIMNumber = nullStringToStr(esimNumber)
	out.PinCode = nullStringToStr(pinCode)
	out.PukCode = nullStringToStr(pukCode)
	out.HiddenNotes = nullStringToStr(hiddenNotes)
	out.OrderID = nullStringToPtr(orderID)
	out.UsedAt = nullTimeToPtr(usedAt)
	return out, nil
}

func int64PtrOrNil(value *int64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func boolPtrOrNil(value *bool) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
