package directory

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order at startup. Statements are idempotent so
// the service can be restarted against an existing database.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS auth_tokens (
		token_hash TEXT PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS organisations (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		identity_key TEXT NOT NULL,
		seat_limit INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Case-insensitive uniqueness is enforced here, not by a pre-check.
	`CREATE UNIQUE INDEX IF NOT EXISTS organisations_name_lower_idx
		ON organisations (LOWER(name))`,

	`CREATE TABLE IF NOT EXISTS roles (
		id UUID PRIMARY KEY,
		organisation_id UUID NOT NULL REFERENCES organisations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		permissions JSONB NOT NULL DEFAULT '{}',
		global_access BOOLEAN NOT NULL DEFAULT FALSE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS roles_org_name_lower_idx
		ON roles (organisation_id, LOWER(name))`,

	`CREATE TABLE IF NOT EXISTS apps (
		id UUID PRIMARY KEY,
		organisation_id UUID NOT NULL REFERENCES organisations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS organisation_members (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		organisation_id UUID NOT NULL REFERENCES organisations(id) ON DELETE CASCADE,
		role_id UUID NOT NULL REFERENCES roles(id),
		identity_key TEXT NOT NULL DEFAULT '',
		wrapped_keyring TEXT NOT NULL DEFAULT '',
		wrapped_recovery TEXT NOT NULL DEFAULT '',
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One live membership per user per organisation.
	`CREATE UNIQUE INDEX IF NOT EXISTS organisation_members_live_idx
		ON organisation_members (organisation_id, user_id)
		WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS organisation_member_invites (
		id UUID PRIMARY KEY,
		organisation_id UUID NOT NULL REFERENCES organisations(id) ON DELETE CASCADE,
		role_id UUID REFERENCES roles(id),
		invited_by UUID NOT NULL REFERENCES organisation_members(id),
		invitee_email TEXT NOT NULL,
		valid BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS invites_org_email_idx
		ON organisation_member_invites (organisation_id, invitee_email)`,

	`CREATE TABLE IF NOT EXISTS member_app_scope (
		member_id UUID NOT NULL REFERENCES organisation_members(id) ON DELETE CASCADE,
		app_id UUID NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
		PRIMARY KEY (member_id, app_id)
	)`,

	`CREATE TABLE IF NOT EXISTS invite_app_scope (
		invite_id UUID NOT NULL REFERENCES organisation_member_invites(id) ON DELETE CASCADE,
		app_id UUID NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
		PRIMARY KEY (invite_id, app_id)
	)`,
}

// Migrate applies the directory schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
