package repository

import (
	"context"
	"fmt"

	"github.com/inovexa/billing-gateway/internal/models"
)

// FindPlan возвращает план каталога по его внутреннему идентификатору.
func (s *Storage) FindPlan(ctx context.Context, planID string) (*models.Plan, error) {
	const op = "storage.FindPlan"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, description, price_cents, billing_interval, stripe_price_id,
			      granted_role, is_active, created_at
			  FROM plans
			  WHERE id = $1`
	p := &models.Plan{}
	row := s.DB.QueryRowContext(ctx, query, planID)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Interval,
		&p.StripePriceID, &p.GrantedRole, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// ListActivePlans возвращает все планы, доступные для покупки или отображения.
func (s *Storage) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	const op = "storage.ListActivePlans"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, description, price_cents, billing_interval, stripe_price_id,
			      granted_role, is_active, created_at
			  FROM plans
			  WHERE is_active = true
			  ORDER BY price_cents`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Interval,
			&p.StripePriceID, &p.GrantedRole, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
