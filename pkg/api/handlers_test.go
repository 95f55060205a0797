package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/pkg/contextkeys"
	"github.com/keyfold/keyfold/pkg/directory"
	"github.com/keyfold/keyfold/pkg/observability"
	"github.com/keyfold/keyfold/pkg/orgs"
)

type fakeService struct {
	createOrgErr  error
	inviteErr     error
	acceptErr     error
	removeErr     error
	roleErr       error
	deleteInvErr  error
	getOrgErr     error
	invitesMade   int
	removedMember string
}

func (f *fakeService) CreateOrganisation(_ context.Context, _ orgs.Actor, req orgs.CreateOrganisationRequest) (*directory.Organisation, error) {
	if f.createOrgErr != nil {
		return nil, f.createOrgErr
	}
	return &directory.Organisation{ID: "org-1", Name: req.Name}, nil
}

func (f *fakeService) GetOrganisation(_ context.Context, _ orgs.Actor, orgID string) (*directory.Organisation, error) {
	if f.getOrgErr != nil {
		return nil, f.getOrgErr
	}
	return &directory.Organisation{ID: orgID, Name: "Acme"}, nil
}

func (f *fakeService) UpdateWrappedSecrets(_ context.Context, _ orgs.Actor, orgID, keyring, recovery string) (*directory.OrganisationMember, error) {
	return &directory.OrganisationMember{OrganisationID: orgID, WrappedKeyring: keyring, WrappedRecovery: recovery}, nil
}

func (f *fakeService) ListMembers(_ context.Context, _ orgs.Actor, orgID string) ([]*directory.OrganisationMember, error) {
	return []*directory.OrganisationMember{{ID: "member-1", OrganisationID: orgID}}, nil
}

func (f *fakeService) BulkInviteMembers(_ context.Context, _ orgs.Actor, orgID string, reqs []orgs.InviteRequest) ([]*directory.OrganisationMemberInvite, error) {
	if f.inviteErr != nil {
		return nil, f.inviteErr
	}
	invites := make([]*directory.OrganisationMemberInvite, len(reqs))
	for i, req := range reqs {
		invites[i] = &directory.OrganisationMemberInvite{ID: "inv", OrganisationID: orgID, InviteeEmail: req.Email}
	}
	f.invitesMade += len(invites)
	return invites, nil
}

func (f *fakeService) ListInvites(_ context.Context, _ orgs.Actor, orgID string) ([]*directory.OrganisationMemberInvite, error) {
	return []*directory.OrganisationMemberInvite{{ID: "inv-1", OrganisationID: orgID}}, nil
}

func (f *fakeService) DeleteInvite(_ context.Context, _ orgs.Actor, inviteID string) error {
	return f.deleteInvErr
}

func (f *fakeService) AcceptInvite(_ context.Context, _ orgs.Actor, req orgs.AcceptInviteRequest) (*directory.OrganisationMember, error) {
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return &directory.OrganisationMember{ID: "member-2", OrganisationID: req.OrganisationID}, nil
}

func (f *fakeService) RemoveMember(_ context.Context, _ orgs.Actor, memberID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removedMember = memberID
	return nil
}

func (f *fakeService) UpdateMemberRole(_ context.Context, _ orgs.Actor, memberID, roleID string) (*directory.OrganisationMember, error) {
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	return &directory.OrganisationMember{ID: memberID, RoleID: roleID}, nil
}

func newTestRouter(svc Service) *mux.Router {
	router := mux.NewRouter()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	RegisterRoutes(router, NewHandlers(svc, metrics))
	return router
}

func doRequest(t *testing.T, router *mux.Router, method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authenticated {
		ctx := contextkeys.WithActor(req.Context(), orgs.Actor{UserID: "user-1", Email: "user@example.com"})
		req = req.WithContext(ctx)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrganisation(t *testing.T) {
	t.Run("creates and returns 201", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations",
			`{"name":"Acme","identity_key":"pk"}`, true)

		require.Equal(t, http.StatusCreated, rec.Code)

		var org directory.Organisation
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&org))
		assert.Equal(t, "Acme", org.Name)
	})

	t.Run("name conflict is 409", func(t *testing.T) {
		router := newTestRouter(&fakeService{createOrgErr: orgs.ErrNameConflict})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations",
			`{"name":"Acme","identity_key":"pk"}`, true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing name is 400", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations",
			`{"identity_key":"pk"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unauthenticated is 401", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations",
			`{"name":"Acme","identity_key":"pk"}`, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBulkInviteMembers(t *testing.T) {
	t.Run("creates invites", func(t *testing.T) {
		svc := &fakeService{}
		router := newTestRouter(svc)
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations/org-1/invites",
			`{"invites":[{"email":"a@example.com"},{"email":"b@example.com"}]}`, true)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, 2, svc.invitesMade)
	})

	t.Run("quota exceeded is 403", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			inviteErr: &orgs.QuotaExceededError{OrganisationID: "org-1", Requested: 5},
		})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations/org-1/invites",
			`{"invites":[{"email":"a@example.com"}]}`, true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("permission denied is 403", func(t *testing.T) {
		router := newTestRouter(&fakeService{inviteErr: orgs.ErrForbidden})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations/org-1/invites",
			`{"invites":[{"email":"a@example.com"}]}`, true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("empty batch is 400", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations/org-1/invites",
			`{"invites":[]}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAcceptInvite(t *testing.T) {
	t.Run("accepts and returns 201", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations/org-1/invites/inv-1/accept",
			`{"identity_key":"pk"}`, true)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("consumed invite is 400", func(t *testing.T) {
		router := newTestRouter(&fakeService{acceptErr: orgs.ErrInviteInvalid})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations/org-1/invites/inv-1/accept",
			`{"identity_key":"pk"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("existing member is 409", func(t *testing.T) {
		router := newTestRouter(&fakeService{acceptErr: orgs.ErrAlreadyMember})
		rec := doRequest(t, router, http.MethodPost, "/v1/organisations/org-1/invites/inv-1/accept",
			`{"identity_key":"pk"}`, true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRemoveMember(t *testing.T) {
	t.Run("removes and returns 204", func(t *testing.T) {
		svc := &fakeService{}
		router := newTestRouter(svc)
		rec := doRequest(t, router, http.MethodDelete, "/v1/members/member-1", "", true)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "member-1", svc.removedMember)
	})

	t.Run("self removal is 400", func(t *testing.T) {
		router := newTestRouter(&fakeService{removeErr: orgs.ErrSelfRemoval})
		rec := doRequest(t, router, http.MethodDelete, "/v1/members/member-1", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown member is 404", func(t *testing.T) {
		router := newTestRouter(&fakeService{removeErr: orgs.ErrNotFound})
		rec := doRequest(t, router, http.MethodDelete, "/v1/members/missing", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUpdateMemberRole(t *testing.T) {
	t.Run("updates the role", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodPut, "/v1/members/member-1/role",
			`{"role_id":"role-2"}`, true)

		require.Equal(t, http.StatusOK, rec.Code)

		var member directory.OrganisationMember
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&member))
		assert.Equal(t, "role-2", member.RoleID)
	})

	t.Run("owner role assignment is 400", func(t *testing.T) {
		router := newTestRouter(&fakeService{roleErr: orgs.ErrOwnerRoleImmutable})
		rec := doRequest(t, router, http.MethodPut, "/v1/members/member-1/role",
			`{"role_id":"role-owner"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("insufficient access is 403", func(t *testing.T) {
		router := newTestRouter(&fakeService{roleErr: orgs.ErrInsufficientAccess})
		rec := doRequest(t, router, http.MethodPut, "/v1/members/member-1/role",
			`{"role_id":"role-2"}`, true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestUpdateWrappedSecrets(t *testing.T) {
	router := newTestRouter(&fakeService{})
	rec := doRequest(t, router, http.MethodPut, "/v1/organisations/org-1/keys",
		`{"wrapped_keyring":"wk","wrapped_recovery":"wr"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)

	var member directory.OrganisationMember
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&member))
	assert.Equal(t, "wk", member.WrappedKeyring)
}

func TestDeleteInvite(t *testing.T) {
	t.Run("deletes and returns 204", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodDelete, "/v1/invites/inv-1", "", true)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("unknown invite is 404", func(t *testing.T) {
		router := newTestRouter(&fakeService{deleteInvErr: orgs.ErrNotFound})
		rec := doRequest(t, router, http.MethodDelete, "/v1/invites/missing", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetOrganisation(t *testing.T) {
	t.Run("returns the organisation", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		rec := doRequest(t, router, http.MethodGet, "/v1/organisations/org-1", "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("outsiders see 404", func(t *testing.T) {
		router := newTestRouter(&fakeService{getOrgErr: orgs.ErrNotFound})
		rec := doRequest(t, router, http.MethodGet, "/v1/organisations/org-1", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
