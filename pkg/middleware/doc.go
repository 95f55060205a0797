// Package middleware provides the request-scoped gates in front of the
// API: bearer-token authentication and rate limiting.
package middleware
