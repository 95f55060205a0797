package directory

import (
	"time"
)

// Default role names seeded for every organisation. RoleOwner is created for
// the founding member and is never assignable through the role-update path.
const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleDeveloper = "developer"
	RoleService   = "service"
	RoleViewer    = "viewer"
)

// InviteTTL is how long a newly created invite stays actionable.
const InviteTTL = 3 * 24 * time.Hour

// User is an identity row. Provisioning happens outside this service; the
// directory only reads users for authentication and invite-email matching.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Organisation is the tenant root. Name is immutable after creation and
// unique case-insensitively. IdentityKey is opaque public key material; the
// directory never interprets it. A nil SeatLimit means unlimited seats.
type Organisation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IdentityKey string    `json:"identity_key"`
	SeatLimit   *int      `json:"seat_limit,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is an organisation-scoped role. Permissions maps a resource type to
// the actions it grants (for example "Members" -> ["create", "read"]).
// GlobalAccess marks roles whose holders may act on other global-access
// holders.
type Role struct {
	ID             string              `json:"id"`
	OrganisationID string              `json:"organisation_id"`
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Permissions    map[string][]string `json:"permissions"`
	GlobalAccess   bool                `json:"global_access"`
	IsDefault      bool                `json:"is_default"`
}

// OrganisationMember links a user to an organisation with a role and the
// user's wrapped key material for that organisation. The wrapped blobs are
// opaque ciphertext; they are stored and returned, never decrypted.
// Removal is a soft delete via DeletedAt.
type OrganisationMember struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	OrganisationID  string     `json:"organisation_id"`
	RoleID          string     `json:"role_id"`
	IdentityKey     string     `json:"identity_key,omitempty"`
	WrappedKeyring  string     `json:"wrapped_keyring,omitempty"`
	WrappedRecovery string     `json:"wrapped_recovery,omitempty"`
	Email           string     `json:"email,omitempty"`
	AppIDs          []string   `json:"app_ids,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// OrganisationMemberInvite is a pending invitation. RoleID is nullable; a
// nil role resolves to the organisation's developer role at acceptance.
// Acceptance flips Valid to false and retains the row; cancellation hard
// deletes it. An invite past ExpiresAt is unusable regardless of Valid.
type OrganisationMemberInvite struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	RoleID         *string   `json:"role_id,omitempty"`
	InvitedBy      string    `json:"invited_by"`
	InviteeEmail   string    `json:"invitee_email"`
	Valid          bool      `json:"valid"`
	ExpiresAt      time.Time `json:"expires_at"`
	AppIDs         []string  `json:"app_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// App is referenced by id for member and invite scoping. App lifecycle is
// managed by the secrets service, not here.
type App struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
}

// NewOrganisation carries the inputs for organisation creation. The caller
// becomes the owner member with the supplied wrapped key material.
type NewOrganisation struct {
	ID              string
	Name            string
	IdentityKey     string
	WrappedKeyring  string
	WrappedRecovery string
	OwnerUserID     string
}

// InviteEntry is one requested invite inside a bulk invite batch.
type InviteEntry struct {
	Email  string
	RoleID string
	AppIDs []string
}

// AcceptInviteParams carries the inputs for invite acceptance.
type AcceptInviteParams struct {
	InviteID        string
	OrganisationID  string
	UserID          string
	IdentityKey     string
	WrappedKeyring  string
	WrappedRecovery string
}

// defaultRoles returns the role set seeded at organisation creation, in
// creation order. Permission maps mirror what the access checker evaluates.
func defaultRoles() []Role {
	full := []string{"create", "read", "update", "delete"}
	read := []string{"read"}
	return []Role{
		{Name: RoleOwner, Description: "Full access to all resources", GlobalAccess: true, IsDefault: true,
			Permissions: map[string][]string{"Members": full, "Apps": full, "Roles": full, "Billing": full}},
		{Name: RoleAdmin, Description: "Full access except ownership transfer", GlobalAccess: true, IsDefault: true,
			Permissions: map[string][]string{"Members": full, "Apps": full, "Roles": full, "Billing": read}},
		{Name: RoleManager, Description: "Manage members and apps", IsDefault: true,
			Permissions: map[string][]string{"Members": full, "Apps": full, "Roles": read}},
		{Name: RoleDeveloper, Description: "Work with assigned apps", IsDefault: true,
			Permissions: map[string][]string{"Members": read, "Apps": read}},
		{Name: RoleService, Description: "Machine access to assigned apps", IsDefault: true,
			Permissions: map[string][]string{"Apps": read}},
		{Name: RoleViewer, Description: "Read-only access", IsDefault: true,
			Permissions: map[string][]string{"Members": read, "Apps": read}},
	}
}
