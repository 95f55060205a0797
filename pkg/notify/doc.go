// Package notify sends membership lifecycle emails. Send methods enqueue
// onto a bounded worker pool and return immediately; delivery errors are
// logged by the pool and never reach the caller. Shutdown drains pending
// mail.
package notify
