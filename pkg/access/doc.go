// Package access answers permission questions about organisation members.
//
// Decisions derive from the member's role: a role either carries global
// access or grants per-resource actions through its permissions document.
// Decisions are cached in Redis for a short TTL and invalidated when a
// membership changes.
package access
