package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keyfold/keyfold/pkg/directory"
)

// Service implements seat-count reconciliation against a provider.
type Service struct {
	db       *sql.DB
	provider Provider
}

// NewService creates a billing service.
func NewService(db *sql.DB, provider Provider) *Service {
	return &Service{db: db, provider: provider}
}

// CreateCustomer registers the organisation with the provider and records
// the customer ID locally. The initial subscription covers one seat, the
// owner.
func (s *Service) CreateCustomer(ctx context.Context, org *directory.Organisation, email string) error {
	customerID, err := s.provider.CreateCustomer(ctx, org.Name, email)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (organisation_id, customer_id, seats)
		VALUES ($1, $2, 1)
		ON CONFLICT (organisation_id)
		DO UPDATE SET customer_id = EXCLUDED.customer_id, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, query, org.ID, customerID); err != nil {
		return fmt.Errorf("failed to record subscription: %w", err)
	}
	return nil
}

// UpdateSeatCount pushes the organisation's live member count to the
// provider and records it locally. Organisations without a subscription
// row are skipped; they predate billing or never registered.
func (s *Service) UpdateSeatCount(ctx context.Context, orgID string) error {
	var customerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_id FROM subscriptions WHERE organisation_id = $1`, orgID,
	).Scan(&customerID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	var seats int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organisation_members WHERE organisation_id = $1 AND deleted_at IS NULL`, orgID,
	).Scan(&seats)
	if err != nil {
		return fmt.Errorf("failed to count members: %w", err)
	}

	if err := s.provider.SetSeatCount(ctx, customerID, seats); err != nil {
		return err
	}

	query := `UPDATE subscriptions SET seats = $1, updated_at = NOW() WHERE organisation_id = $2`
	if _, err := s.db.ExecContext(ctx, query, seats, orgID); err != nil {
		return fmt.Errorf("failed to record seat count: %w", err)
	}
	return nil
}
