package strike

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a Store connected to a local Redis instance and
// removes test keys before and after. Tests are skipped when Redis is not
// running on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		for _, pattern := range []string{StrikePrefix + "test_*", MutePrefix + "test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewStore(client)
}

func TestMuteDuration(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, Mute5Min},
		{3, Mute1Hour},
		{4, Mute1Day},
		{12, Mute1Day},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MuteDuration(tc.n), "MuteDuration(%d)", tc.n)
	}
}

func TestRecord_FirstStrikeIsWarning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.Record(ctx, "test_warn", "inappropriate")
	require.NoError(t, err)
	assert.Equal(t, Penalty{Strikes: 1}, p)
	assert.False(t, p.Muted())

	muted, _, err := store.IsMuted(ctx, "test_warn")
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestRecord_Escalates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := "test_escalate"

	want := []time.Duration{0, Mute5Min, Mute1Hour, Mute1Day, Mute1Day}
	for i, d := range want {
		p, err := store.Record(ctx, user, "inappropriate")
		require.NoError(t, err)
		assert.Equal(t, i+1, p.Strikes)
		assert.Equal(t, d, p.Mute, "strike %d", i+1)
	}

	muted, remaining, err := store.IsMuted(ctx, user)
	require.NoError(t, err)
	assert.True(t, muted)
	assert.InDelta(t, Mute1Day.Seconds(), remaining.Seconds(), 10)

	n, err := store.Count(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRecord_StrikeWindowTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Record(ctx, "test_ttl", "inappropriate")
	require.NoError(t, err)
	_, err = store.Record(ctx, "test_ttl", "inappropriate")
	require.NoError(t, err)

	ttl, err := store.client.TTL(ctx, StrikePrefix+"test_ttl").Result()
	require.NoError(t, err)
	assert.InDelta(t, StrikeTTL.Seconds(), ttl.Seconds(), 10)
}

func TestUnmuteAndReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := "test_unmute"

	store.Record(ctx, user, "inappropriate")
	store.Record(ctx, user, "inappropriate")

	muted, _, _ := store.IsMuted(ctx, user)
	require.True(t, muted)

	require.NoError(t, store.Unmute(ctx, user))
	muted, _, err := store.IsMuted(ctx, user)
	require.NoError(t, err)
	assert.False(t, muted)

	n, _ := store.Count(ctx, user)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Reset(ctx, user))
	n, err = store.Count(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCount_NoStrikes(t *testing.T) {
	store := newTestStore(t)

	n, err := store.Count(context.Background(), "test_nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}
