// Package quotas enforces organisation seat limits. A seat is consumed by
// every live member and by every pending invite, so a batch of invites can
// never oversubscribe an organisation even before anyone accepts.
package quotas
