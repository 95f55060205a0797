package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/keyfold/keyfold/pkg/directory"
	"github.com/keyfold/keyfold/pkg/httputil"
	"github.com/keyfold/keyfold/pkg/middleware"
	"github.com/keyfold/keyfold/pkg/observability"
	"github.com/keyfold/keyfold/pkg/orgs"
)

// Service is the slice of the workflow layer the handlers consume.
// Implemented by *orgs.Service.
type Service interface {
	CreateOrganisation(ctx context.Context, actor orgs.Actor, req orgs.CreateOrganisationRequest) (*directory.Organisation, error)
	GetOrganisation(ctx context.Context, actor orgs.Actor, orgID string) (*directory.Organisation, error)
	UpdateWrappedSecrets(ctx context.Context, actor orgs.Actor, orgID, wrappedKeyring, wrappedRecovery string) (*directory.OrganisationMember, error)
	ListMembers(ctx context.Context, actor orgs.Actor, orgID string) ([]*directory.OrganisationMember, error)
	BulkInviteMembers(ctx context.Context, actor orgs.Actor, orgID string, reqs []orgs.InviteRequest) ([]*directory.OrganisationMemberInvite, error)
	ListInvites(ctx context.Context, actor orgs.Actor, orgID string) ([]*directory.OrganisationMemberInvite, error)
	DeleteInvite(ctx context.Context, actor orgs.Actor, inviteID string) error
	AcceptInvite(ctx context.Context, actor orgs.Actor, req orgs.AcceptInviteRequest) (*directory.OrganisationMember, error)
	RemoveMember(ctx context.Context, actor orgs.Actor, memberID string) error
	UpdateMemberRole(ctx context.Context, actor orgs.Actor, memberID, roleID string) (*directory.OrganisationMember, error)
}

// Handlers serves the membership API.
type Handlers struct {
	svc     Service
	metrics *observability.Metrics
}

// NewHandlers creates the API handlers.
func NewHandlers(svc Service, metrics *observability.Metrics) *Handlers {
	return &Handlers{svc: svc, metrics: metrics}
}

// RegisterRoutes mounts the API under /v1.
func RegisterRoutes(r *mux.Router, h *Handlers) {
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/organisations", h.CreateOrganisation).Methods(http.MethodPost)
	v1.HandleFunc("/organisations/{orgID}", h.GetOrganisation).Methods(http.MethodGet)
	v1.HandleFunc("/organisations/{orgID}/keys", h.UpdateWrappedSecrets).Methods(http.MethodPut)
	v1.HandleFunc("/organisations/{orgID}/members", h.ListMembers).Methods(http.MethodGet)
	v1.HandleFunc("/organisations/{orgID}/invites", h.BulkInviteMembers).Methods(http.MethodPost)
	v1.HandleFunc("/organisations/{orgID}/invites", h.ListInvites).Methods(http.MethodGet)
	v1.HandleFunc("/organisations/{orgID}/invites/{inviteID}/accept", h.AcceptInvite).Methods(http.MethodPost)
	v1.HandleFunc("/invites/{inviteID}", h.DeleteInvite).Methods(http.MethodDelete)
	v1.HandleFunc("/members/{memberID}", h.RemoveMember).Methods(http.MethodDelete)
	v1.HandleFunc("/members/{memberID}/role", h.UpdateMemberRole).Methods(http.MethodPut)
}

// actor extracts the authenticated caller or writes a 401.
func actor(w http.ResponseWriter, r *http.Request) (orgs.Actor, bool) {
	a, ok := middleware.ActorFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
	}
	return a, ok
}

// writeDomainError maps workflow errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orgs.ErrNameConflict):
		httputil.WriteConflict(w, "organisation name is already taken")
	case errors.Is(err, orgs.ErrAlreadyMember):
		httputil.WriteConflict(w, "user is already a member of this organisation")
	case errors.Is(err, orgs.ErrNotFound):
		httputil.WriteNotFound(w, "not found")
	case errors.Is(err, orgs.ErrInviteInvalid):
		httputil.WriteBadRequest(w, "invite is invalid or expired")
	case errors.Is(err, orgs.ErrSelfRemoval):
		httputil.WriteBadRequest(w, "cannot remove yourself from an organisation")
	case errors.Is(err, orgs.ErrOwnerRoleImmutable):
		httputil.WriteBadRequest(w, "the owner role cannot be assigned")
	case errors.Is(err, orgs.ErrForbidden):
		httputil.WriteForbidden(w, "permission denied")
	case errors.Is(err, orgs.ErrInsufficientAccess):
		httputil.WriteForbidden(w, "insufficient access to modify this member")
	case orgs.IsQuotaExceeded(err):
		httputil.WriteForbidden(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}

// CreateOrganisation handles POST /v1/organisations.
func (h *Handlers) CreateOrganisation(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req orgs.CreateOrganisationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.IdentityKey, "identity_key") {
		return
	}

	org, err := h.svc.CreateOrganisation(r.Context(), a, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.metrics.OrganisationsCreatedTotal.Inc()
	httputil.WriteCreated(w, org)
}

// GetOrganisation handles GET /v1/organisations/{orgID}.
func (h *Handlers) GetOrganisation(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	org, err := h.svc.GetOrganisation(r.Context(), a, orgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// UpdateWrappedSecrets handles PUT /v1/organisations/{orgID}/keys.
func (h *Handlers) UpdateWrappedSecrets(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req struct {
		WrappedKeyring  string `json:"wrapped_keyring"`
		WrappedRecovery string `json:"wrapped_recovery"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.WrappedKeyring, "wrapped_keyring") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.WrappedRecovery, "wrapped_recovery") {
		return
	}

	member, err := h.svc.UpdateWrappedSecrets(r.Context(), a, orgID, req.WrappedKeyring, req.WrappedRecovery)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

// ListMembers handles GET /v1/organisations/{orgID}/members.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	members, err := h.svc.ListMembers(r.Context(), a, orgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// BulkInviteMembers handles POST /v1/organisations/{orgID}/invites.
func (h *Handlers) BulkInviteMembers(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req struct {
		Invites []orgs.InviteRequest `json:"invites"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Invites) == 0 {
		httputil.WriteBadRequest(w, "invites is required")
		return
	}
	for _, invite := range req.Invites {
		if invite.Email == "" {
			httputil.WriteBadRequest(w, "every invite needs an email")
			return
		}
	}

	invites, err := h.svc.BulkInviteMembers(r.Context(), a, orgID, req.Invites)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.metrics.InvitesCreatedTotal.Add(float64(len(invites)))
	httputil.WriteCreated(w, map[string]interface{}{"invites": invites})
}

// ListInvites handles GET /v1/organisations/{orgID}/invites.
func (h *Handlers) ListInvites(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	invites, err := h.svc.ListInvites(r.Context(), a, orgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invites": invites})
}

// AcceptInvite handles POST /v1/organisations/{orgID}/invites/{inviteID}/accept.
func (h *Handlers) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	inviteID, ok := httputil.ParsePathStringOrError(w, r, "inviteID")
	if !ok {
		return
	}

	var req struct {
		IdentityKey     string `json:"identity_key"`
		WrappedKeyring  string `json:"wrapped_keyring"`
		WrappedRecovery string `json:"wrapped_recovery"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.IdentityKey, "identity_key") {
		return
	}

	member, err := h.svc.AcceptInvite(r.Context(), a, orgs.AcceptInviteRequest{
		OrganisationID:  orgID,
		InviteID:        inviteID,
		IdentityKey:     req.IdentityKey,
		WrappedKeyring:  req.WrappedKeyring,
		WrappedRecovery: req.WrappedRecovery,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.metrics.InvitesAcceptedTotal.Inc()
	httputil.WriteCreated(w, member)
}

// DeleteInvite handles DELETE /v1/invites/{inviteID}.
func (h *Handlers) DeleteInvite(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	inviteID, ok := httputil.ParsePathStringOrError(w, r, "inviteID")
	if !ok {
		return
	}

	if err := h.svc.DeleteInvite(r.Context(), a, inviteID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveMember handles DELETE /v1/members/{memberID}.
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathStringOrError(w, r, "memberID")
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(r.Context(), a, memberID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.metrics.MembersRemovedTotal.Inc()
	httputil.WriteNoContent(w)
}

// UpdateMemberRole handles PUT /v1/members/{memberID}/role.
func (h *Handlers) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathStringOrError(w, r, "memberID")
	if !ok {
		return
	}

	var req struct {
		RoleID string `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleID, "role_id") {
		return
	}

	member, err := h.svc.UpdateMemberRole(r.Context(), a, memberID, req.RoleID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}
