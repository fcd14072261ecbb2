package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/karaoke-backend/internal/auth"
)

// PermissionCache keeps resolved permission sets in Redis under
// permissions:{userId}:{organizationId}:{version}. Each entry records the
// organization generation it was computed under; bumping the generation
// with INCR turns every older entry of that organization into a miss.
type PermissionCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewPermissionCache(rdb redis.Cmdable, ttl time.Duration) *PermissionCache {
	return &PermissionCache{rdb: rdb, ttl: ttl}
}

type cachedPermissionSet struct {
	Set        auth.PermissionSet `json:"set"`
	Generation int64              `json:"generation"`
}

func permissionKey(userID, orgID, version string) string {
	return "permissions:" + userID + ":" + orgID + ":" + version
}

func generationKey(orgID string) string {
	return "permissions:generation:" + orgID
}

// Generation returns the current generation of orgID (0 when never bumped).
func (c *PermissionCache) Generation(ctx context.Context, orgID string) (int64, error) {
	n, err := c.rdb.Get(ctx, generationKey(orgID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("permission generation: %w", err)
	}
	return n, nil
}

// Lookup reads the entry for version together with the organization
// generation in one round trip. The returned set is nil on a miss, on a
// generation mismatch and on a corrupt entry. The current generation is
// returned whenever the read succeeded.
func (c *PermissionCache) Lookup(ctx context.Context, userID, orgID, version string) (*auth.PermissionSet, int64, error) {
	pipe := c.rdb.Pipeline()
	genCmd := pipe.Get(ctx, generationKey(orgID))
	entryCmd := pipe.Get(ctx, permissionKey(userID, orgID, version))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("permission cache read: %w", err)
	}

	var gen int64
	if raw, err := genCmd.Result(); err == nil {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("permission generation: %w", err)
		}
	}

	raw, err := entryCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("permission cache read: %w", err)
	}

	var entry cachedPermissionSet
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.rdb.Del(ctx, permissionKey(userID, orgID, version))
		return nil, gen, nil
	}
	if entry.Generation != gen || entry.Set.OrganizationID != orgID {
		return nil, gen, nil
	}
	return &entry.Set, gen, nil
}

// Store writes set under every given version key with the cache TTL.
func (c *PermissionCache) Store(ctx context.Context, userID string, set *auth.PermissionSet, generation int64, versions ...string) error {
	data, err := json.Marshal(cachedPermissionSet{Set: *set, Generation: generation})
	if err != nil {
		return fmt.Errorf("marshal permission set: %w", err)
	}
	seen := map[string]bool{}
	pipe := c.rdb.Pipeline()
	for _, v := range versions {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		pipe.Set(ctx, permissionKey(userID, set.OrganizationID, v), data, c.ttl)
	}
	if len(seen) == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("permission cache write: %w", err)
	}
	return nil
}

// Bump atomically advances the generation of orgID.
func (c *PermissionCache) Bump(ctx context.Context, orgID string) (int64, error) {
	n, err := c.rdb.Incr(ctx, generationKey(orgID)).Result()
	if err != nil {
		return 0, fmt.Errorf("permission generation bump: %w", err)
	}
	return n, nil
}
