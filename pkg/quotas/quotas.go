package quotas

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keyfold/keyfold/pkg/directory"
)

// Service answers seat-allowance questions against the directory schema.
type Service struct {
	db *sql.DB
}

// NewService creates a quota service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CanAddAccounts reports whether the organisation can take count more
// accounts. Live members and pending unexpired invites both consume seats.
// Organisations without a seat limit are unlimited.
func (s *Service) CanAddAccounts(ctx context.Context, orgID string, count int) (bool, error) {
	query := `
		SELECT o.seat_limit,
			(SELECT COUNT(*) FROM organisation_members m
				WHERE m.organisation_id = o.id AND m.deleted_at IS NULL) +
			(SELECT COUNT(*) FROM organisation_member_invites i
				WHERE i.organisation_id = o.id AND i.valid = TRUE AND i.expires_at >= NOW())
		FROM organisations o
		WHERE o.id = $1`

	var seatLimit sql.NullInt64
	var used int
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(&seatLimit, &used)
	if err == sql.ErrNoRows {
		return false, directory.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to count seats: %w", err)
	}

	if !seatLimit.Valid {
		return true, nil
	}
	return int64(used+count) <= seatLimit.Int64, nil
}

// SeatUsage returns the number of consumed seats and the limit. A nil
// limit means unlimited.
func (s *Service) SeatUsage(ctx context.Context, orgID string) (used int, limit *int, err error) {
	query := `
		SELECT o.seat_limit,
			(SELECT COUNT(*) FROM organisation_members m
				WHERE m.organisation_id = o.id AND m.deleted_at IS NULL) +
			(SELECT COUNT(*) FROM organisation_member_invites i
				WHERE i.organisation_id = o.id AND i.valid = TRUE AND i.expires_at >= NOW())
		FROM organisations o
		WHERE o.id = $1`

	var seatLimit sql.NullInt64
	err = s.db.QueryRowContext(ctx, query, orgID).Scan(&seatLimit, &used)
	if err == sql.ErrNoRows {
		return 0, nil, directory.ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count seats: %w", err)
	}

	if seatLimit.Valid {
		l := int(seatLimit.Int64)
		limit = &l
	}
	return used, limit, nil
}
