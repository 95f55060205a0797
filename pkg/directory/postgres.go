package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements the directory over a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a new Postgres directory.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// isUniqueViolation reports whether err is a unique constraint violation on
// the named index or constraint.
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}

// CreateOrganisation creates an organisation, seeds its default role set and
// creates the founding member with role owner, all in one transaction. A
// case-insensitive name collision surfaces as ErrNameConflict from the
// unique index, never from a separate existence check.
func (p *Postgres) CreateOrganisation(ctx context.Context, in NewOrganisation) (*Organisation, *OrganisationMember, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	org := &Organisation{
		ID:          in.ID,
		Name:        in.Name,
		IdentityKey: in.IdentityKey,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO organisations (id, name, identity_key)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, org.ID, org.Name, org.IdentityKey).Scan(&org.CreatedAt)
	if isUniqueViolation(err, "organisations_name_lower_idx") {
		return nil, nil, ErrNameConflict
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create organisation: %w", err)
	}

	var ownerRoleID string
	for _, role := range defaultRoles() {
		roleID := uuid.NewString()
		permissionsJSON, err := json.Marshal(role.Permissions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal permissions: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO roles (id, organisation_id, name, description, permissions, global_access, is_default)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, roleID, org.ID, role.Name, role.Description, permissionsJSON, role.GlobalAccess, role.IsDefault)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
		if role.Name == RoleOwner {
			ownerRoleID = roleID
		}
	}

	owner := &OrganisationMember{
		ID:              uuid.NewString(),
		UserID:          in.OwnerUserID,
		OrganisationID:  org.ID,
		RoleID:          ownerRoleID,
		IdentityKey:     in.IdentityKey,
		WrappedKeyring:  in.WrappedKeyring,
		WrappedRecovery: in.WrappedRecovery,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO organisation_members (id, user_id, organisation_id, role_id, identity_key, wrapped_keyring, wrapped_recovery)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, owner.ID, owner.UserID, owner.OrganisationID, owner.RoleID,
		owner.IdentityKey, owner.WrappedKeyring, owner.WrappedRecovery).Scan(&owner.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create owner member: %w", err)
	}

	// The welcome email is addressed to the returned member.
	err = tx.QueryRowContext(ctx, `
		SELECT email FROM users WHERE id = $1
	`, owner.UserID).Scan(&owner.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve owner email: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit organisation: %w", err)
	}

	return org, owner, nil
}

// GetOrganisation retrieves an organisation by id.
func (p *Postgres) GetOrganisation(ctx context.Context, id string) (*Organisation, error) {
	org := &Organisation{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, identity_key, seat_limit, created_at
		FROM organisations
		WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.IdentityKey, &org.SeatLimit, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organisation: %w", err)
	}
	return org, nil
}

// GetRole retrieves a role by id within an organisation.
func (p *Postgres) GetRole(ctx context.Context, orgID, roleID string) (*Role, error) {
	return p.getRole(ctx, `
		SELECT id, organisation_id, name, description, permissions, global_access, is_default
		FROM roles
		WHERE organisation_id = $1 AND id = $2
	`, orgID, roleID)
}

// GetRoleByName retrieves a role by case-insensitive name within an
// organisation.
func (p *Postgres) GetRoleByName(ctx context.Context, orgID, name string) (*Role, error) {
	return p.getRole(ctx, `
		SELECT id, organisation_id, name, description, permissions, global_access, is_default
		FROM roles
		WHERE organisation_id = $1 AND LOWER(name) = LOWER($2)
	`, orgID, name)
}

func (p *Postgres) getRole(ctx context.Context, query string, args ...interface{}) (*Role, error) {
	role := &Role{}
	var permissionsJSON []byte
	err := p.db.QueryRowContext(ctx, query, args...).Scan(
		&role.ID, &role.OrganisationID, &role.Name, &role.Description,
		&permissionsJSON, &role.GlobalAccess, &role.IsDefault,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	return role, nil
}

// GetUser retrieves a user by id.
func (p *Postgres) GetUser(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, name FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByTokenHash resolves an unexpired auth token hash to its user.
func (p *Postgres) GetUserByTokenHash(ctx context.Context, tokenHash string) (*User, error) {
	user := &User{}
	err := p.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name
		FROM auth_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1 AND (t.expires_at IS NULL OR t.expires_at >= NOW())
	`, tokenHash).Scan(&user.ID, &user.Email, &user.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return user, nil
}

// NormalizeEmail lowercases and trims an email address the way invite
// matching expects it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
