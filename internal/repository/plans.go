package repository

import (
	"context"
	"database/sql"
	"errors"

	"esimstore/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const planColumns = `id, name, country_name, country_code, COALESCE(data_gb, 0), COALESCE(days, 0), price_cents, currency, is_active, created_at`

func (r *Repository) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+planColumns+`
FROM esim_plans
WHERE ($1::boolean = false OR is_active = true)
ORDER BY id;`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) GetPlan(ctx context.Context, planID int64) (models.Plan, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+planColumns+` FROM esim_plans WHERE id = $1;`, planID)
	out, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrPlanNotFound
	}
	return out, err
}

func (r *Repository) CreatePlan(ctx context.Context, p models.Plan) (models.Plan, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO esim_plans (name, country_name, country_code, data_gb, days, price_cents, currency, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+planColumns+`;`,
		p.Name,
		nullString(p.CountryName),
		nullString(p.CountryCode),
		p.DataGB,
		p.Days,
		p.PriceCents,
		p.Currency,
		p.IsActive,
	)
	return scanPlan(row)
}

func (r *Repository) SetPlanActive(ctx context.Context, planID int64, active bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE esim_plans SET is_active = $2 WHERE id = $1`, planID, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func scanPlan(row pgx.Row) (models.Plan, error) {
	var out models.Plan
	var countryName sql.NullString
	var countryCode sql.NullString
	if err := row.Scan(
		&out.ID,
		&out.Name,
		&countryName,
		&countryCode,
		&out.DataGB,
		&out.Days,
		&out.PriceCents,
		&out.Currency,
		&out.IsActive,
		&out.CreatedAt,
	); err != nil {
		return out, err
	}
	out.CountryName = nullStringToStr(countryName)
	out.CountryCode = nullStringToStr(countryCode)
	return out, nil
}
