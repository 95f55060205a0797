// Package orgs orchestrates the organisation and membership lifecycle:
// creating organisations, inviting and removing members, accepting invites,
// rotating wrapped secrets and changing roles.
//
// The package owns policy sequencing only. Storage semantics live in
// pkg/directory, permission evaluation in pkg/access, seat accounting in
// pkg/quotas. Side effects (email, billing seat sync, license activation)
// are dispatched through an async pool after the primary write commits;
// their failure is logged and never surfaces to the caller.
package orgs
