package services

import (
	"context"
	"errors"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/tripwatch/server/internal/cache"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/store"
)

// MembershipResolver answers "which circle is this user in" for the
// dispatcher from a TTL cache in front of the circle store.
type MembershipResolver struct {
	store store.CircleStore
	cache *cache.Cache[*circles.Circle]
	ttl   time.Duration
}

// NewMembershipResolver creates a resolver caching lookups for ttl.
func NewMembershipResolver(s store.CircleStore, ttl time.Duration) *MembershipResolver {
	return &MembershipResolver{
		store: s,
		cache: cache.New[*circles.Circle](),
		ttl:   ttl,
	}
}

// Cache exposes the underlying cache so the server can schedule cleanup.
func (m *MembershipResolver) Cache() *cache.Cache[*circles.Circle] {
	return m.cache
}

// CircleForUser implements dispatch.MembershipResolver. A user the store no
// longer knows is treated as having left their circle.
func (m *MembershipResolver) CircleForUser(ctx context.Context, userID string) (*circles.Circle, error) {
	if c, ok := m.cache.Get(userID); ok {
		return c, nil
	}

	c, err := m.store.CircleForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		if _, had := m.cache.Peek(userID); had {
			logging.Infow(ctx, "Membership: user no longer in a circle, clearing", "user_id", userID)
		}
		m.cache.Delete(userID)
		return nil, dispatch.ErrNoCircle
	}
	if err != nil {
		return nil, err
	}

	m.cache.Set(userID, c, m.ttl, "store")
	return c, nil
}

// SyncCircle stores the circle pushed by the account system and drops every
// cached lookup it may have made stale.
func (m *MembershipResolver) SyncCircle(ctx context.Context, c *circles.Circle) error {
	if c.ID == "" {
		return invalid("circle id is required")
	}
	if c.Code == "" {
		c.Code = circles.NewCode()
	}
	if err := m.store.SaveCircle(ctx, c); err != nil {
		return storeError(err, "circle", c.ID)
	}

	// Members may have moved out of another circle, so cached copies of that
	// circle are stale too.
	moved := make(map[string]bool, len(c.Members))
	for _, member := range c.Members {
		moved[member.UserID] = true
		m.cache.Delete(member.UserID)
	}
	removed := m.cache.DeleteFunc(func(_ string, cached *circles.Circle) bool {
		if cached.ID == c.ID {
			return true
		}
		for _, member := range cached.Members {
			if moved[member.UserID] {
				return true
			}
		}
		return false
	})
	logging.Infow(ctx, "Membership: circle synced",
		"circle_id", c.ID, "members", len(c.Members), "invalidated", removed)
	return nil
}
