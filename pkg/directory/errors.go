package directory

import "errors"

// Storage-level domain errors. Callers match with errors.Is.
var (
	// ErrNameConflict is returned when an organisation name collides
	// case-insensitively with an existing organisation.
	ErrNameConflict = errors.New("organisation name is not available")

	// ErrNotFound is returned when a requested entity does not exist or is
	// soft-deleted. Lookups scoped to a caller deliberately return this
	// instead of a permission error.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyMember is returned when a user already holds a live
	// membership in the organisation.
	ErrAlreadyMember = errors.New("already a member of this organisation")

	// ErrInviteInvalid is returned when an invite is missing, expired or
	// already consumed.
	ErrInviteInvalid = errors.New("invite is invalid or expired")
)
