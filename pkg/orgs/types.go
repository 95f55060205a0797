package orgs

import (
	"context"
	"time"

	"github.com/keyfold/keyfold/pkg/directory"
)

// Actor identifies the authenticated caller of a workflow.
type Actor struct {
	UserID string
	Email  string
}

// Directory is the slice of the organisation directory these workflows
// consume. Implemented by *directory.Postgres.
type Directory interface {
	CreateOrganisation(ctx context.Context, in directory.NewOrganisation) (*directory.Organisation, *directory.OrganisationMember, error)
	GetOrganisation(ctx context.Context, id string) (*directory.Organisation, error)
	GetRole(ctx context.Context, orgID, roleID string) (*directory.Role, error)

	GetMember(ctx context.Context, memberID string) (*directory.OrganisationMember, error)
	GetMemberByUser(ctx context.Context, orgID, userID string) (*directory.OrganisationMember, error)
	ListMembers(ctx context.Context, orgID string) ([]*directory.OrganisationMember, error)
	UpdateWrappedSecrets(ctx context.Context, orgID, userID, wrappedKeyring, wrappedRecovery string) (*directory.OrganisationMember, error)
	UpdateMemberRole(ctx context.Context, memberID, roleID string) error
	SoftDeleteMember(ctx context.Context, memberID string) error
	AcceptInvite(ctx context.Context, in directory.AcceptInviteParams) (*directory.OrganisationMember, error)

	BulkCreateInvites(ctx context.Context, orgID, invitedBy string, entries []directory.InviteEntry, expiresAt time.Time) ([]*directory.OrganisationMemberInvite, error)
	GetInvite(ctx context.Context, inviteID string) (*directory.OrganisationMemberInvite, error)
	ListInvites(ctx context.Context, orgID string) ([]*directory.OrganisationMemberInvite, error)
	DeleteInvite(ctx context.Context, inviteID string) error
}

// AccessChecker answers permission questions. Implemented by pkg/access.
type AccessChecker interface {
	HasPermission(ctx context.Context, userID, action, resource, orgID string) (bool, error)
	IsOrgMember(ctx context.Context, userID, orgID string) (bool, error)
	RoleHasGlobalAccess(ctx context.Context, roleID string) (bool, error)
	InvalidateUser(ctx context.Context, orgID, userID string) error
}

// QuotaChecker answers seat-allowance questions. Implemented by pkg/quotas.
type QuotaChecker interface {
	CanAddAccounts(ctx context.Context, orgID string, count int) (bool, error)
}

// Notifier sends lifecycle emails. All sends are best-effort; errors are for
// the dispatch layer to log, never for callers to act on.
type Notifier interface {
	SendWelcome(ctx context.Context, member *directory.OrganisationMember) error
	SendUserJoined(ctx context.Context, invite *directory.OrganisationMemberInvite, member *directory.OrganisationMember) error
	SendInvite(ctx context.Context, invite *directory.OrganisationMemberInvite) error
}

// BillingSync reconciles seat counts with the subscription provider. Only
// invoked when the deployment runs in cloud mode.
type BillingSync interface {
	CreateCustomer(ctx context.Context, org *directory.Organisation, email string) error
	UpdateSeatCount(ctx context.Context, orgID string) error
}

// Licensing activates a configured license key against the license server.
type Licensing interface {
	Activate(ctx context.Context, licenseKey string) error
}

// CreateOrganisationRequest carries organisation creation inputs. The
// wrapped blobs are opaque ciphertext produced client-side.
type CreateOrganisationRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	IdentityKey     string `json:"identity_key"`
	WrappedKeyring  string `json:"wrapped_keyring"`
	WrappedRecovery string `json:"wrapped_recovery"`
}

// InviteRequest is one entry of a bulk invite batch.
type InviteRequest struct {
	Email  string   `json:"email"`
	RoleID string   `json:"role_id,omitempty"`
	AppIDs []string `json:"apps,omitempty"`
}

// AcceptInviteRequest carries invite acceptance inputs. Wrapped blobs are
// optional: a member may upload key material later.
type AcceptInviteRequest struct {
	OrganisationID  string `json:"org_id"`
	InviteID        string `json:"invite_id"`
	IdentityKey     string `json:"identity_key"`
	WrappedKeyring  string `json:"wrapped_keyring,omitempty"`
	WrappedRecovery string `json:"wrapped_recovery,omitempty"`
}
