// Package billing reconciles organisation seat counts with the external
// subscription provider. It keeps a local subscriptions row per
// organisation so reconciliation never depends on querying the provider.
// Only cloud deployments wire this package in.
package billing
