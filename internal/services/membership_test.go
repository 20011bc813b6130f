package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/store"
)

// countingCircles counts lookups that reach the store.
type countingCircles struct {
	store.CircleStore
	lookups int
}

func (c *countingCircles) CircleForUser(ctx context.Context, userID string) (*circles.Circle, error) {
	c.lookups++
	return c.CircleStore.CircleForUser(ctx, userID)
}

func TestMembershipResolver_CachesLookups(t *testing.T) {
	ctx := testContext()
	backing := &countingCircles{CircleStore: store.NewMemory()}
	r := NewMembershipResolver(backing, time.Minute)
	require.NoError(t, r.SyncCircle(ctx, &circles.Circle{
		ID:      "c1",
		Code:    "abc123",
		Members: []circles.Member{{UserID: "alice"}, {UserID: "bob"}},
	}))

	for i := 0; i < 3; i++ {
		c, err := r.CircleForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "ABC123", c.Code)
	}
	assert.Equal(t, 1, backing.lookups)
}

func TestMembershipResolver_UnknownUserHasNoCircle(t *testing.T) {
	r := NewMembershipResolver(store.NewMemory(), time.Minute)
	_, err := r.CircleForUser(testContext(), "nobody")
	assert.True(t, errors.Is(err, dispatch.ErrNoCircle))
}

func TestMembershipResolver_SyncInvalidatesMovedMembers(t *testing.T) {
	ctx := testContext()
	r := NewMembershipResolver(store.NewMemory(), time.Hour)
	require.NoError(t, r.SyncCircle(ctx, &circles.Circle{
		ID:      "c1",
		Code:    "ONE111",
		Members: []circles.Member{{UserID: "alice"}, {UserID: "bob"}},
	}))
	c, err := r.CircleForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	_, err = r.CircleForUser(ctx, "alice")
	require.NoError(t, err)

	// bob moves to a new circle; c1 is resynced without him.
	require.NoError(t, r.SyncCircle(ctx, &circles.Circle{
		ID:      "c2",
		Code:    "TWO222",
		Members: []circles.Member{{UserID: "bob"}, {UserID: "carol"}},
	}))
	c, err = r.CircleForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "c2", c.ID)

	c, err = r.CircleForUser(ctx, "alice")
	require.NoError(t, err)
	_, stillThere := c.Member("bob")
	assert.False(t, stillThere, "cached circle of alice was refreshed")
}

func TestMembershipResolver_LeavingClearsCache(t *testing.T) {
	ctx := testContext()
	r := NewMembershipResolver(store.NewMemory(), time.Hour)
	require.NoError(t, r.SyncCircle(ctx, &circles.Circle{
		ID:      "c1",
		Code:    "ONE111",
		Members: []circles.Member{{UserID: "alice"}, {UserID: "bob"}},
	}))
	_, err := r.CircleForUser(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, r.SyncCircle(ctx, &circles.Circle{
		ID:      "c1",
		Code:    "ONE111",
		Members: []circles.Member{{UserID: "alice"}},
	}))
	_, err = r.CircleForUser(ctx, "bob")
	assert.ErrorIs(t, err, dispatch.ErrNoCircle)
}

func TestMembershipResolver_SyncValidation(t *testing.T) {
	ctx := testContext()
	r := NewMembershipResolver(store.NewMemory(), time.Hour)

	requireCode(t, r.SyncCircle(ctx, &circles.Circle{Code: "X"}), codes.InvalidArgument)

	c := &circles.Circle{ID: "c1"}
	require.NoError(t, r.SyncCircle(ctx, c))
	assert.NotEmpty(t, c.Code, "a join code is generated")

	requireCode(t, r.SyncCircle(ctx, &circles.Circle{ID: "c2", Code: c.Code}), codes.AlreadyExists)
}
