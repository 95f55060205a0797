package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BulkCreateInvites creates invites for a batch of entries in one
// transaction. Each entry is a conditional insert that comes back empty when
// the email already belongs to a live member or already has a live invite;
// such entries are skipped silently, matching the idempotent-on-retry
// contract of bulk invitation. Only invites actually created are returned.
func (p *Postgres) BulkCreateInvites(ctx context.Context, orgID, invitedBy string, entries []InviteEntry, expiresAt time.Time) ([]*OrganisationMemberInvite, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var created []*OrganisationMemberInvite
	for _, entry := range entries {
		email := NormalizeEmail(entry.Email)

		invite := &OrganisationMemberInvite{
			ID:             uuid.NewString(),
			OrganisationID: orgID,
			InvitedBy:      invitedBy,
			InviteeEmail:   email,
			Valid:          true,
			ExpiresAt:      expiresAt,
		}
		var roleID interface{}
		if entry.RoleID != "" {
			roleID = entry.RoleID
			invite.RoleID = &entry.RoleID
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO organisation_member_invites (id, organisation_id, role_id, invited_by, invitee_email, expires_at)
			SELECT $1, $2, $3, $4, $5, $6
			WHERE NOT EXISTS (
				SELECT 1 FROM organisation_members m
				JOIN users u ON u.id = m.user_id
				WHERE m.organisation_id = $2 AND LOWER(u.email) = $5 AND m.deleted_at IS NULL
			) AND NOT EXISTS (
				SELECT 1 FROM organisation_member_invites i
				WHERE i.organisation_id = $2 AND i.invitee_email = $5
				  AND i.valid = TRUE AND i.expires_at >= NOW()
			)
			RETURNING created_at
		`, invite.ID, orgID, roleID, invitedBy, email, expiresAt).Scan(&invite.CreatedAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create invite for %s: %w", email, err)
		}

		// Scope the invite to apps that actually belong to the organisation;
		// unknown ids are dropped rather than rejected.
		for _, appID := range entry.AppIDs {
			var scopedID string
			err := tx.QueryRowContext(ctx, `
				INSERT INTO invite_app_scope (invite_id, app_id)
				SELECT $1, id FROM apps WHERE id = $2 AND organisation_id = $3
				RETURNING app_id
			`, invite.ID, appID, orgID).Scan(&scopedID)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to scope invite to app %s: %w", appID, err)
			}
			invite.AppIDs = append(invite.AppIDs, scopedID)
		}

		created = append(created, invite)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invites: %w", err)
	}
	return created, nil
}

// GetInvite retrieves an invite by id, consumed or not.
func (p *Postgres) GetInvite(ctx context.Context, inviteID string) (*OrganisationMemberInvite, error) {
	invite := &OrganisationMemberInvite{}
	var roleID sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, organisation_id, role_id, invited_by, invitee_email, valid, expires_at, created_at
		FROM organisation_member_invites
		WHERE id = $1
	`, inviteID).Scan(
		&invite.ID, &invite.OrganisationID, &roleID, &invite.InvitedBy,
		&invite.InviteeEmail, &invite.Valid, &invite.ExpiresAt, &invite.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	if roleID.Valid {
		r := roleID.String
		invite.RoleID = &r
	}
	return invite, nil
}

// ListInvites lists the pending (still valid) invites of an organisation.
func (p *Postgres) ListInvites(ctx context.Context, orgID string) ([]*OrganisationMemberInvite, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organisation_id, role_id, invited_by, invitee_email, valid, expires_at, created_at
		FROM organisation_member_invites
		WHERE organisation_id = $1 AND valid = TRUE
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	defer rows.Close()

	var invites []*OrganisationMemberInvite
	for rows.Next() {
		invite := &OrganisationMemberInvite{}
		var roleID sql.NullString
		if err := rows.Scan(
			&invite.ID, &invite.OrganisationID, &roleID, &invite.InvitedBy,
			&invite.InviteeEmail, &invite.Valid, &invite.ExpiresAt, &invite.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		if roleID.Valid {
			r := roleID.String
			invite.RoleID = &r
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

// DeleteInvite hard-deletes an invite. Invites carry no audit trail.
func (p *Postgres) DeleteInvite(ctx context.Context, inviteID string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM organisation_member_invites WHERE id = $1
	`, inviteID)
	if err != nil {
		return fmt.Errorf("failed to delete invite: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredInvites removes invites that expired without being accepted.
// Accepted invites (valid=false) are retained as history.
func (p *Postgres) DeleteExpiredInvites(ctx context.Context) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM organisation_member_invites
		WHERE valid = TRUE AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invites: %w", err)
	}
	return result.RowsAffected()
}
