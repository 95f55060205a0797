package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// GetMember retrieves a live (not soft-deleted) member by id.
func (p *Postgres) GetMember(ctx context.Context, memberID string) (*OrganisationMember, error) {
	member, err := scanMember(p.db.QueryRowContext(ctx, `
		SELECT m.id, m.user_id, m.organisation_id, m.role_id, m.identity_key,
		       m.wrapped_keyring, m.wrapped_recovery, u.email, m.created_at, m.deleted_at
		FROM organisation_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.id = $1 AND m.deleted_at IS NULL
	`, memberID))
	if err != nil {
		return nil, err
	}
	member.AppIDs, err = p.memberAppIDs(ctx, member.ID)
	if err != nil {
		return nil, err
	}
	return member, nil
}

// GetMemberByUser retrieves a user's live membership in an organisation.
func (p *Postgres) GetMemberByUser(ctx context.Context, orgID, userID string) (*OrganisationMember, error) {
	return scanMember(p.db.QueryRowContext(ctx, `
		SELECT m.id, m.user_id, m.organisation_id, m.role_id, m.identity_key,
		       m.wrapped_keyring, m.wrapped_recovery, u.email, m.created_at, m.deleted_at
		FROM organisation_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organisation_id = $1 AND m.user_id = $2 AND m.deleted_at IS NULL
	`, orgID, userID))
}

// ListMembers lists live members of an organisation.
func (p *Postgres) ListMembers(ctx context.Context, orgID string) ([]*OrganisationMember, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.organisation_id, m.role_id, m.identity_key,
		       m.wrapped_keyring, m.wrapped_recovery, u.email, m.created_at, m.deleted_at
		FROM organisation_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organisation_id = $1 AND m.deleted_at IS NULL
		ORDER BY m.created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*OrganisationMember
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// UpdateWrappedSecrets overwrites the wrapped key material of a user's own
// live membership. Zero rows affected surfaces as ErrNotFound: a missing or
// deleted membership is indistinguishable from an unknown organisation.
func (p *Postgres) UpdateWrappedSecrets(ctx context.Context, orgID, userID, wrappedKeyring, wrappedRecovery string) (*OrganisationMember, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE organisation_members
		SET wrapped_keyring = $1, wrapped_recovery = $2
		WHERE organisation_id = $3 AND user_id = $4 AND deleted_at IS NULL
	`, wrappedKeyring, wrappedRecovery, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update wrapped secrets: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}
	return p.GetMemberByUser(ctx, orgID, userID)
}

// UpdateMemberRole reassigns a live member's role in place.
func (p *Postgres) UpdateMemberRole(ctx context.Context, memberID, roleID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE organisation_members
		SET role_id = $1
		WHERE id = $2 AND deleted_at IS NULL
	`, roleID, memberID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
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

// SoftDeleteMember marks a member as deleted. The row is retained; the
// partial unique index on live memberships frees the (organisation, user)
// slot for a future re-invite.
func (p *Postgres) SoftDeleteMember(ctx context.Context, memberID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE organisation_members
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
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

// AcceptInvite consumes an invite and creates the member in one
// transaction. The invite is flipped to valid=false with a conditional
// update; a concurrent acceptance or an expired invite yields zero rows and
// ErrInviteInvalid without any separate existence check. The invite row is
// retained. The member inherits the invite's app scope verbatim.
func (p *Postgres) AcceptInvite(ctx context.Context, in AcceptInviteParams) (*OrganisationMember, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var roleID sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE organisation_member_invites
		SET valid = FALSE
		WHERE id = $1 AND organisation_id = $2 AND valid = TRUE AND expires_at >= NOW()
		RETURNING role_id
	`, in.InviteID, in.OrganisationID).Scan(&roleID)
	if err == sql.ErrNoRows {
		return nil, ErrInviteInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume invite: %w", err)
	}

	// A nil invite role defaults to the organisation's developer role.
	memberRoleID := roleID.String
	if !roleID.Valid {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM roles
			WHERE organisation_id = $1 AND LOWER(name) = $2
		`, in.OrganisationID, RoleDeveloper).Scan(&memberRoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default role: %w", err)
		}
	}

	member := &OrganisationMember{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		OrganisationID:  in.OrganisationID,
		RoleID:          memberRoleID,
		IdentityKey:     in.IdentityKey,
		WrappedKeyring:  in.WrappedKeyring,
		WrappedRecovery: in.WrappedRecovery,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO organisation_members (id, user_id, organisation_id, role_id, identity_key, wrapped_keyring, wrapped_recovery)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, member.ID, member.UserID, member.OrganisationID, member.RoleID,
		member.IdentityKey, member.WrappedKeyring, member.WrappedRecovery).Scan(&member.CreatedAt)
	if isUniqueViolation(err, "organisation_members_live_idx") {
		return nil, ErrAlreadyMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}

	// The welcome and joined emails are addressed to the returned member.
	err = tx.QueryRowContext(ctx, `
		SELECT email FROM users WHERE id = $1
	`, member.UserID).Scan(&member.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve member email: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		INSERT INTO member_app_scope (member_id, app_id)
		SELECT $1, app_id FROM invite_app_scope WHERE invite_id = $2
		RETURNING app_id
	`, member.ID, in.InviteID)
	if err != nil {
		return nil, fmt.Errorf("failed to copy app scope: %w", err)
	}
	for rows.Next() {
		var appID string
		if err := rows.Scan(&appID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan app scope: %w", err)
		}
		member.AppIDs = append(member.AppIDs, appID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to copy app scope: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invite acceptance: %w", err)
	}
	return member, nil
}

func (p *Postgres) memberAppIDs(ctx context.Context, memberID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT app_id FROM member_app_scope WHERE member_id = $1
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to get app scope: %w", err)
	}
	defer rows.Close()

	var appIDs []string
	for rows.Next() {
		var appID string
		if err := rows.Scan(&appID); err != nil {
			return nil, fmt.Errorf("failed to scan app scope: %w", err)
		}
		appIDs = append(appIDs, appID)
	}
	return appIDs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(scanner rowScanner) (*OrganisationMember, error) {
	member := &OrganisationMember{}
	var deletedAt sql.NullTime
	err := scanner.Scan(
		&member.ID, &member.UserID, &member.OrganisationID, &member.RoleID,
		&member.IdentityKey, &member.WrappedKeyring, &member.WrappedRecovery,
		&member.Email, &member.CreatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		member.DeletedAt = &t
	}
	return member, nil
}
