package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyfold/keyfold/pkg/async"
	"github.com/keyfold/keyfold/pkg/directory"
)

// Actions and resource types understood by the access checker.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"

	ResourceMembers = "Members"
)

// Config carries deployment-level switches for the workflows.
type Config struct {
	// Hosted is true when the deployment runs in cloud mode; billing calls
	// are made only then.
	Hosted bool

	// LicenseKey, when set, is activated after the first organisation is
	// created in a self-hosted deployment.
	LicenseKey string

	// SideEffectTimeout bounds each fire-and-forget task.
	SideEffectTimeout time.Duration
}

// Service implements the membership workflows.
type Service struct {
	store     Directory
	access    AccessChecker
	quota     QuotaChecker
	notifier  Notifier
	billing   BillingSync
	licensing Licensing
	cfg       Config
}

// NewService creates a new workflow service.
func NewService(store Directory, access AccessChecker, quota QuotaChecker, notifier Notifier, billing BillingSync, licensing Licensing, cfg Config) *Service {
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 30 * time.Second
	}
	return &Service{
		store:     store,
		access:    access,
		quota:     quota,
		notifier:  notifier,
		billing:   billing,
		licensing: licensing,
		cfg:       cfg,
	}
}

// dispatch runs a side effect detached from the request. The task gets its
// own deadline so a slow collaborator never delays the response, and its
// error is logged by the async layer rather than returned.
func (s *Service) dispatch(task string, fn func(context.Context) error) {
	async.SafeGo(context.Background(), s.cfg.SideEffectTimeout, task, fn)
}

// CreateOrganisation creates an organisation with its default role set and
// the caller as owner. Billing registration, license activation and the
// welcome email run post-commit and cannot roll the creation back.
func (s *Service) CreateOrganisation(ctx context.Context, actor Actor, req CreateOrganisationRequest) (*directory.Organisation, error) {
	org, owner, err := s.store.CreateOrganisation(ctx, directory.NewOrganisation{
		ID:              req.ID,
		Name:            req.Name,
		IdentityKey:     req.IdentityKey,
		WrappedKeyring:  req.WrappedKeyring,
		WrappedRecovery: req.WrappedRecovery,
		OwnerUserID:     actor.UserID,
	})
	if err != nil {
		return nil, err
	}

	s.dispatch("welcome email", func(ctx context.Context) error {
		return s.notifier.SendWelcome(ctx, owner)
	})
	if s.cfg.Hosted {
		email := actor.Email
		s.dispatch("billing customer creation", func(ctx context.Context) error {
			return s.billing.CreateCustomer(ctx, org, email)
		})
	}
	if s.cfg.LicenseKey != "" {
		s.dispatch("license activation", func(ctx context.Context) error {
			return s.licensing.Activate(ctx, s.cfg.LicenseKey)
		})
	}

	return org, nil
}

// UpdateWrappedSecrets overwrites the caller's own wrapped key material.
// Membership is the only requirement; a member may always rotate their own
// secrets. A missing membership surfaces as not-found, not as a permission
// error.
func (s *Service) UpdateWrappedSecrets(ctx context.Context, actor Actor, orgID, wrappedKeyring, wrappedRecovery string) (*directory.OrganisationMember, error) {
	return s.store.UpdateWrappedSecrets(ctx, orgID, actor.UserID, wrappedKeyring, wrappedRecovery)
}

// BulkInviteMembers creates invites for a batch of emails. The quota is
// checked once for the whole batch; entries whose email already has a live
// membership or a live invite are skipped silently. Invite emails are
// best-effort per created invite.
func (s *Service) BulkInviteMembers(ctx context.Context, actor Actor, orgID string, reqs []InviteRequest) ([]*directory.OrganisationMemberInvite, error) {
	org, err := s.store.GetOrganisation(ctx, orgID)
	if err != nil {
		return nil, err
	}

	ok, err := s.access.HasPermission(ctx, actor.UserID, ActionCreate, ResourceMembers, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check permission: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	member, err := s.store.GetMemberByUser(ctx, org.ID, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	ok, err = s.quota.CanAddAccounts(ctx, org.ID, len(reqs))
	if err != nil {
		return nil, fmt.Errorf("failed to check quota: %w", err)
	}
	if !ok {
		return nil, &QuotaExceededError{OrganisationID: org.ID, Requested: len(reqs)}
	}

	entries := make([]directory.InviteEntry, 0, len(reqs))
	for _, req := range reqs {
		entries = append(entries, directory.InviteEntry{
			Email:  directory.NormalizeEmail(req.Email),
			RoleID: req.RoleID,
			AppIDs: req.AppIDs,
		})
	}

	invites, err := s.store.BulkCreateInvites(ctx, org.ID, member.ID, entries, time.Now().Add(directory.InviteTTL))
	if err != nil {
		return nil, err
	}

	for _, invite := range invites {
		invite := invite
		s.dispatch("invite email", func(ctx context.Context) error {
			return s.notifier.SendInvite(ctx, invite)
		})
	}
	return invites, nil
}

// DeleteInvite hard-deletes a pending invite.
func (s *Service) DeleteInvite(ctx context.Context, actor Actor, inviteID string) error {
	invite, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		return err
	}

	ok, err := s.access.HasPermission(ctx, actor.UserID, ActionDelete, ResourceMembers, invite.OrganisationID)
	if err != nil {
		return fmt.Errorf("failed to check permission: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	ok, err = s.access.IsOrgMember(ctx, actor.UserID, invite.OrganisationID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return ErrForbidden
	}

	return s.store.DeleteInvite(ctx, invite.ID)
}

// AcceptInvite turns a valid, unexpired invite into a membership. The
// invite is consumed atomically: a second acceptance of the same invite
// fails with ErrInviteInvalid. In cloud mode the seat count is reconciled
// post-commit.
func (s *Service) AcceptInvite(ctx context.Context, actor Actor, req AcceptInviteRequest) (*directory.OrganisationMember, error) {
	isMember, err := s.access.IsOrgMember(ctx, actor.UserID, req.OrganisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if isMember {
		return nil, ErrAlreadyMember
	}

	member, err := s.store.AcceptInvite(ctx, directory.AcceptInviteParams{
		InviteID:        req.InviteID,
		OrganisationID:  req.OrganisationID,
		UserID:          actor.UserID,
		IdentityKey:     req.IdentityKey,
		WrappedKeyring:  req.WrappedKeyring,
		WrappedRecovery: req.WrappedRecovery,
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.Hosted {
		orgID := req.OrganisationID
		s.dispatch("billing seat sync", func(ctx context.Context) error {
			return s.billing.UpdateSeatCount(ctx, orgID)
		})
	}
	inviteID := req.InviteID
	s.dispatch("joined emails", func(ctx context.Context) error {
		invite, err := s.store.GetInvite(ctx, inviteID)
		if err != nil {
			return err
		}
		if err := s.notifier.SendUserJoined(ctx, invite, member); err != nil {
			return err
		}
		return s.notifier.SendWelcome(ctx, member)
	})

	return member, nil
}

// RemoveMember soft-deletes a membership. Callers can never remove
// themselves through this path, regardless of permissions.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, memberID string) error {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}

	ok, err := s.access.HasPermission(ctx, actor.UserID, ActionDelete, ResourceMembers, member.OrganisationID)
	if err != nil {
		return fmt.Errorf("failed to check permission: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	if member.UserID == actor.UserID {
		return ErrSelfRemoval
	}

	if err := s.store.SoftDeleteMember(ctx, member.ID); err != nil {
		return err
	}
	// Best effort: a stale cached grant expires on its own TTL anyway.
	_ = s.access.InvalidateUser(ctx, member.OrganisationID, member.UserID)

	if s.cfg.Hosted {
		orgID := member.OrganisationID
		s.dispatch("billing seat sync", func(ctx context.Context) error {
			return s.billing.UpdateSeatCount(ctx, orgID)
		})
	}
	return nil
}

// UpdateMemberRole reassigns a member's role. A caller whose own role lacks
// global access cannot modify a member whose current role has it, and the
// owner role is never assignable through this path.
func (s *Service) UpdateMemberRole(ctx context.Context, actor Actor, memberID, roleID string) (*directory.OrganisationMember, error) {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	ok, err := s.access.HasPermission(ctx, actor.UserID, ActionUpdate, ResourceMembers, member.OrganisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check permission: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	caller, err := s.store.GetMemberByUser(ctx, member.OrganisationID, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	callerGlobal, err := s.access.RoleHasGlobalAccess(ctx, caller.RoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to check caller access: %w", err)
	}
	targetGlobal, err := s.access.RoleHasGlobalAccess(ctx, member.RoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to check target access: %w", err)
	}
	if targetGlobal && !callerGlobal {
		return nil, ErrInsufficientAccess
	}

	role, err := s.store.GetRole(ctx, member.OrganisationID, roleID)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(role.Name, directory.RoleOwner) {
		return nil, ErrOwnerRoleImmutable
	}

	if err := s.store.UpdateMemberRole(ctx, member.ID, role.ID); err != nil {
		return nil, err
	}
	_ = s.access.InvalidateUser(ctx, member.OrganisationID, member.UserID)
	member.RoleID = role.ID
	return member, nil
}

// GetOrganisation returns an organisation to one of its members. Callers
// outside the organisation get not-found rather than a permission error.
func (s *Service) GetOrganisation(ctx context.Context, actor Actor, orgID string) (*directory.Organisation, error) {
	ok, err := s.access.IsOrgMember(ctx, actor.UserID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.store.GetOrganisation(ctx, orgID)
}

// ListMembers lists the live members of an organisation to one of its
// members.
func (s *Service) ListMembers(ctx context.Context, actor Actor, orgID string) ([]*directory.OrganisationMember, error) {
	ok, err := s.access.IsOrgMember(ctx, actor.UserID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.store.ListMembers(ctx, orgID)
}

// ListInvites lists the pending invites of an organisation to a member
// holding read permission on Members.
func (s *Service) ListInvites(ctx context.Context, actor Actor, orgID string) ([]*directory.OrganisationMemberInvite, error) {
	ok, err := s.access.HasPermission(ctx, actor.UserID, ActionRead, ResourceMembers, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to check permission: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.store.ListInvites(ctx, orgID)
}
