package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/keyfold/keyfold/pkg/directory"
)

// Checker evaluates role-based permissions against the directory, with an
// optional Redis decision cache in front of it.
type Checker struct {
	db       *sql.DB
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewChecker creates a checker. cache may be nil, in which case every
// decision hits the database.
func NewChecker(db *sql.DB, cache *redis.Client, cacheTTL time.Duration) *Checker {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Checker{db: db, cache: cache, cacheTTL: cacheTTL}
}

// HasPermission reports whether the user's role in the organisation grants
// the action on the resource. Roles with global access pass every check;
// a user without a live membership fails every check.
func (c *Checker) HasPermission(ctx context.Context, userID, action, resource, orgID string) (bool, error) {
	key := decisionKey(orgID, userID, resource, action)
	if allowed, ok := c.cachedDecision(ctx, key); ok {
		return allowed, nil
	}

	query := `
		SELECT r.global_access, r.permissions
		FROM organisation_members m
		JOIN roles r ON r.id = m.role_id
		WHERE m.organisation_id = $1 AND m.user_id = $2 AND m.deleted_at IS NULL`

	var globalAccess bool
	var permissionsJSON []byte
	err := c.db.QueryRowContext(ctx, query, orgID, userID).Scan(&globalAccess, &permissionsJSON)
	if err == sql.ErrNoRows {
		c.cacheDecision(ctx, key, false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load member role: %w", err)
	}

	allowed := globalAccess
	if !allowed {
		permissions := map[string][]string{}
		if len(permissionsJSON) > 0 {
			if err := json.Unmarshal(permissionsJSON, &permissions); err != nil {
				return false, fmt.Errorf("failed to decode role permissions: %w", err)
			}
		}
		for _, granted := range permissions[resource] {
			if granted == action {
				allowed = true
				break
			}
		}
	}

	c.cacheDecision(ctx, key, allowed)
	return allowed, nil
}

// IsOrgMember reports whether the user has a live membership in the
// organisation.
func (c *Checker) IsOrgMember(ctx context.Context, userID, orgID string) (bool, error) {
	key := memberKey(orgID, userID)
	if isMember, ok := c.cachedDecision(ctx, key); ok {
		return isMember, nil
	}

	query := `
		SELECT EXISTS(
			SELECT 1 FROM organisation_members
			WHERE organisation_id = $1 AND user_id = $2 AND deleted_at IS NULL
		)`

	var isMember bool
	if err := c.db.QueryRowContext(ctx, query, orgID, userID).Scan(&isMember); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	c.cacheDecision(ctx, key, isMember)
	return isMember, nil
}

// RoleHasGlobalAccess reports whether the role carries global access.
func (c *Checker) RoleHasGlobalAccess(ctx context.Context, roleID string) (bool, error) {
	query := `SELECT global_access FROM roles WHERE id = $1`

	var globalAccess bool
	err := c.db.QueryRowContext(ctx, query, roleID).Scan(&globalAccess)
	if err == sql.ErrNoRows {
		return false, directory.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to load role: %w", err)
	}
	return globalAccess, nil
}

// InvalidateUser drops all cached decisions for a user in an organisation.
// Called after role changes and removals so stale grants do not outlive
// the membership they came from.
func (c *Checker) InvalidateUser(ctx context.Context, orgID, userID string) error {
	if c.cache == nil {
		return nil
	}

	if err := c.cache.Del(ctx, memberKey(orgID, userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate membership decision: %w", err)
	}

	pattern := fmt.Sprintf("access:decision:%s:%s:*", orgID, userID)
	iter := c.cache.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.cache.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to invalidate decision %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan decisions: %w", err)
	}
	return nil
}

// cachedDecision returns a cached boolean decision. Cache errors count as
// misses; a flaky cache must never fail a permission check.
func (c *Checker) cachedDecision(ctx context.Context, key string) (decision bool, ok bool) {
	if c.cache == nil {
		return false, false
	}
	val, err := c.cache.Get(ctx, key).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

func (c *Checker) cacheDecision(ctx context.Context, key string, decision bool) {
	if c.cache == nil {
		return
	}
	val := "0"
	if decision {
		val = "1"
	}
	_ = c.cache.Set(ctx, key, val, c.cacheTTL).Err()
}

func decisionKey(orgID, userID, resource, action string) string {
	return fmt.Sprintf("access:decision:%s:%s:%s:%s", orgID, userID, resource, action)
}

func memberKey(orgID, userID string) string {
	return fmt.Sprintf("access:member:%s:%s", orgID, userID)
}
