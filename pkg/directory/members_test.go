package directory

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memberColumns = []string{
	"id", "user_id", "organisation_id", "role_id", "identity_key",
	"wrapped_keyring", "wrapped_recovery", "email", "created_at", "deleted_at",
}

func memberRow() *sqlmock.Rows {
	return sqlmock.NewRows(memberColumns).
		AddRow("member-1", "user-1", "org-1", "role-1", "pk", "wk", "wr", "sam@example.com", time.Now(), nil)
}

func TestUpdateWrappedSecrets(t *testing.T) {
	t.Run("updates and returns the member", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE organisation_members")).
			WithArgs("wk2", "wr2", "org-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("FROM organisation_members m")).
			WithArgs("org-1", "user-1").
			WillReturnRows(memberRow())

		member, err := store.UpdateWrappedSecrets(context.Background(), "org-1", "user-1", "wk2", "wr2")
		require.NoError(t, err)
		assert.Equal(t, "member-1", member.ID)
	})

	t.Run("no live membership is not found", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE organisation_members")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := store.UpdateWrappedSecrets(context.Background(), "org-1", "stranger", "wk", "wr")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateMemberRole(t *testing.T) {
	t.Run("reassigns the role", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET role_id = $1")).
			WithArgs("role-2", "member-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.UpdateMemberRole(context.Background(), "member-1", "role-2"))
	})

	t.Run("deleted member is not found", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET role_id = $1")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateMemberRole(context.Background(), "member-1", "role-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSoftDeleteMember(t *testing.T) {
	t.Run("marks the member deleted", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET deleted_at = NOW()")).
			WithArgs("member-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.SoftDeleteMember(context.Background(), "member-1"))
	})

	t.Run("removing twice is not found", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET deleted_at = NOW()")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.SoftDeleteMember(context.Background(), "member-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAcceptInvite(t *testing.T) {
	params := AcceptInviteParams{
		InviteID:       "inv-1",
		OrganisationID: "org-1",
		UserID:         "user-2",
		IdentityKey:    "pk2",
	}

	t.Run("consumes the invite and creates the member", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SET valid = FALSE")).
			WithArgs("inv-1", "org-1").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow("role-dev"))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO organisation_members")).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT email FROM users")).
			WithArgs("user-2").
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("kim@example.com"))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO member_app_scope")).
			WillReturnRows(sqlmock.NewRows([]string{"app_id"}).AddRow("app-1"))
		mock.ExpectCommit()

		member, err := store.AcceptInvite(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, "role-dev", member.RoleID)
		assert.Equal(t, "kim@example.com", member.Email)
		assert.Equal(t, []string{"app-1"}, member.AppIDs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a nil invite role falls back to developer", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SET valid = FALSE")).
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(nil))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM roles")).
			WithArgs("org-1", RoleDeveloper).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("role-dev"))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO organisation_members")).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT email FROM users")).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("kim@example.com"))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO member_app_scope")).
			WillReturnRows(sqlmock.NewRows([]string{"app_id"}))
		mock.ExpectCommit()

		member, err := store.AcceptInvite(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, "role-dev", member.RoleID)
	})

	t.Run("consumed or expired invite is invalid", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SET valid = FALSE")).
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}))
		mock.ExpectRollback()

		_, err := store.AcceptInvite(context.Background(), params)
		assert.ErrorIs(t, err, ErrInviteInvalid)
	})

	t.Run("a live membership blocks acceptance", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SET valid = FALSE")).
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow("role-dev"))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO organisation_members")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "organisation_members_live_idx"})
		mock.ExpectRollback()

		_, err := store.AcceptInvite(context.Background(), params)
		assert.ErrorIs(t, err, ErrAlreadyMember)
	})
}

func TestGetMemberByUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM organisation_members m")).
		WithArgs("org-1", "user-1").
		WillReturnRows(sqlmock.NewRows(memberColumns))

	_, err := store.GetMemberByUser(context.Background(), "org-1", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMembers(t *testing.T) {
	store, mock := newMock(t)
	rows := memberRow().
		AddRow("member-2", "user-2", "org-1", "role-2", "pk2", "", "", "kim@example.com", time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM organisation_members m")).
		WithArgs("org-1").
		WillReturnRows(rows)

	members, err := store.ListMembers(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "kim@example.com", members[1].Email)
}
