// Package async provides panic-safe, deadline-bounded goroutine helpers for
// fire-and-forget side effects. Task failures are logged and swallowed;
// nothing in this package ever propagates an error back to a request.
package async
