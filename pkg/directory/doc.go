// Package directory implements the organisation directory: the PostgreSQL
// store holding organisations, roles, members, invites and app scope rows.
//
// The store is deliberately constraint-driven. Both races called out by the
// membership workflows are closed here rather than in the callers:
//
//   - organisation name uniqueness is a case-insensitive unique index; the
//     resulting unique violation is mapped to ErrNameConflict
//   - invite acceptance is a conditional update (valid AND unexpired) whose
//     zero-rows result maps to ErrInviteInvalid
//
// All multi-row writes (organisation creation with role seeding, invite
// acceptance, bulk invite creation) run inside a single transaction.
package directory
