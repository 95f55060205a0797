// Package observability bundles the operational surface of the service:
// structured JSON logging, Prometheus metrics, OpenTelemetry tracing and
// dependency health checks.
package observability
