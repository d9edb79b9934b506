package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"esimstore/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

func (r *Repository) UpsertPayment(ctx context.Context, p models.Payment) (models.Payment, error) {
	raw, err := json.Marshal(safeMap(p.RawResponseJSON))
	if err != nil {
		return models.Payment{}, err
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO payments (order_id, provider, provider_payment_id, amount_cents, status, raw_response_json)
VALUES ($1::uuid, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT (order_id, provider) DO UPDATE SET
	provider_payment_id = COALESCE(EXCLUDED.provider_payment_id, payments.provider_payment_id),
	amount_cents = EXCLUDED.amount_cents,
	status = EXCLUDED.status,
	raw_response_json = EXCLUDED.raw_response_json,
	updated_at = now()
RETURNING id::text, order_id::text, provider, provider_payment_id, amount_cents, status, raw_response_json, created_at, updated_at;`,
		p.OrderID,
		p.Provider,
		nullString(p.ProviderPaymentID),
		p.AmountCents,
		p.Status,
		raw,
	)
	return scanPayment(row)
}

func (r *Repository) GetPaymentByOrder(ctx context.Context, orderID, provider string) (models.Payment, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id::text, order_id::text, provider, provider_payment_id, amount_cents, status, raw_response_json, created_at, updated_at
FROM payments
WHERE order_id = $1::uuid AND provider = $2;`, orderID, provider)
	out, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrOrderNotFound
	}
	return out, err
}

func scanPayment(row pgx.Row) (models.Payment, error) {
	var out models.Payment
	var providerPaymentID sql.NullString
	var raw []byte
	if err := row.Scan(
		&out.ID,
		&out.OrderID,
		&out.Provider,
		&providerPaymentID,
		&out.AmountCents,
		&out.Status,
		&raw,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return out, err
	}
	out.ProviderPaymentID = nullStringToStr(providerPaymentID)
	out.RawResponseJSON = decodeJSONMap(raw)
	return out, nil
}
