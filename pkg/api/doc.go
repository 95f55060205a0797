// Package api exposes the organisation and membership workflows over
// HTTP. Handlers translate between JSON requests, the workflow service,
// and a uniform error-to-status mapping.
package api
