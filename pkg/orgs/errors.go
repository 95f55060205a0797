package orgs

import (
	"errors"
	"fmt"

	"github.com/keyfold/keyfold/pkg/directory"
)

// Storage-originated errors are re-exported so callers depend on one package
// for the full failure surface of these workflows.
var (
	ErrNameConflict  = directory.ErrNameConflict
	ErrNotFound      = directory.ErrNotFound
	ErrAlreadyMember = directory.ErrAlreadyMember
	ErrInviteInvalid = directory.ErrInviteInvalid
)

// Workflow-level policy errors.
var (
	// ErrForbidden is returned on an explicit permission denial.
	ErrForbidden = errors.New("permission denied")

	// ErrSelfRemoval is returned when a caller targets their own membership
	// through the member-removal operation.
	ErrSelfRemoval = errors.New("cannot remove yourself from an organisation")

	// ErrInsufficientAccess is returned when a caller without global access
	// tries to change the role of a global-access holder.
	ErrInsufficientAccess = errors.New("cannot modify this member without global access")

	// ErrOwnerRoleImmutable is returned when the role-update path is asked
	// to assign the owner role.
	ErrOwnerRoleImmutable = errors.New("owner role cannot be assigned")
)

// QuotaExceededError is returned when a batch of invites would exceed the
// organisation's seat allowance. The whole batch fails; no invites are
// created.
type QuotaExceededError struct {
	OrganisationID string
	Requested      int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("cannot add %d more members to this organisation", e.Requested)
}

// IsQuotaExceeded checks if an error is a quota exceeded error.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
