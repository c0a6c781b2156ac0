package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// absentMarker caches a negative lookup so repeated checks by non-members
// do not reach the database.
const absentMarker = "-"

// CachedMembershipStore puts a Redis read-through cache in front of a
// MembershipStore. Every write deletes the affected key. Redis failures fall
// back to the database.
type CachedMembershipStore struct {
	next *MembershipStore
	rdb  redis.Cmdable
	ttl  time.Duration
}

func NewCachedMembershipStore(next *MembershipStore, rdb redis.Cmdable, ttl time.Duration) *CachedMembershipStore {
	return &CachedMembershipStore{next: next, rdb: rdb, ttl: ttl}
}

func membershipCacheKey(userID, groupID uuid.UUID) string {
	return fmt.Sprintf("cloudstorm:membership:%s:%s", groupID, userID)
}

func (c *CachedMembershipStore) GetMembership(ctx context.Context, userID, groupID uuid.UUID) (*models.GroupMembership, error) {
	key := membershipCacheKey(userID, groupID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if string(raw) == absentMarker {
			return nil, ErrMembershipNotFound
		}
		var m models.GroupMembership
		if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil {
			return &m, nil
		}
		c.invalidate(ctx, key)
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn("membership_cache_get_failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return c.next.GetMembership(ctx, userID, groupID)
	}

	m, err := c.next.GetMembership(ctx, userID, groupID)
	switch {
	case errors.Is(err, ErrMembershipNotFound):
		c.set(ctx, key, []byte(absentMarker))
	case err == nil:
		if data, jsonErr := json.Marshal(m); jsonErr == nil {
			c.set(ctx, key, data)
		}
	}
	return m, err
}

func (c *CachedMembershipStore) CreateMembership(ctx context.Context, tx *gorm.DB, m *models.GroupMembership) error {
	if err := c.next.CreateMembership(ctx, tx, m); err != nil {
		return err
	}
	c.invalidate(ctx, membershipCacheKey(m.UserID, m.GroupID))
	return nil
}

func (c *CachedMembershipStore) UpdateCapabilities(ctx context.Context, userID, groupID uuid.UUID, update MembershipUpdate) (*models.GroupMembership, error) {
	m, err := c.next.UpdateCapabilities(ctx, userID, groupID, update)
	c.invalidate(ctx, membershipCacheKey(userID, groupID))
	return m, err
}

func (c *CachedMembershipStore) DeleteMembership(ctx context.Context, userID, groupID uuid.UUID) error {
	err := c.next.DeleteMembership(ctx, userID, groupID)
	c.invalidate(ctx, membershipCacheKey(userID, groupID))
	return err
}

func (c *CachedMembershipStore) GroupIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return c.next.GroupIDsForUser(ctx, userID)
}

// InvalidateGroup drops every cached membership of a deleted group.
func (c *CachedMembershipStore) InvalidateGroup(ctx context.Context, groupID uuid.UUID) {
	pattern := fmt.Sprintf("cloudstorm:membership:%s:*", groupID)
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Warn("membership_cache_scan_failed", map[string]interface{}{
			"group_id": groupID.String(),
			"error":    err.Error(),
		})
		return
	}
	if len(keys) > 0 {
		c.invalidate(ctx, keys...)
	}
}

func (c *CachedMembershipStore) set(ctx context.Context, key string, val []byte) {
	if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
		logger.Warn("membership_cache_set_failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func (c *CachedMembershipStore) invalidate(ctx context.Context, keys ...string) {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("membership_cache_del_failed", map[string]interface{}{
			"keys":  keys,
			"error": err.Error(),
		})
	}
}
