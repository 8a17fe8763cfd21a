// Package strike keeps per-user moderation strikes in Redis and mutes users
// whose messages keep getting blocked:
//
//	Key:   strike:<user>   counter, TTL StrikeTTL from the first strike
//	Key:   mute:<user>     reason, TTL = mute duration
package strike

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StrikePrefix = "strike:"
	MutePrefix   = "mute:"

	// StrikeTTL is how long strikes are remembered. The window does not
	// slide: it starts at the first strike.
	StrikeTTL = 24 * time.Hour

	Mute5Min  = 5 * time.Minute
	Mute1Hour = time.Hour
	Mute1Day  = 24 * time.Hour
)

// Penalty is what a recorded strike resulted in.
type Penalty struct {
	Strikes int
	Mute    time.Duration // zero for a warning
}

// Muted reports whether the penalty carries a mute.
func (p Penalty) Muted() bool { return p.Mute > 0 }

// MuteDuration returns the mute applied for the n-th strike in a window.
// The first strike is a warning only.
func MuteDuration(n int) time.Duration {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return Mute5Min
	case n == 3:
		return Mute1Hour
	default:
		return Mute1Day
	}
}

// Store manages strikes and mutes in Redis.
type Store struct {
	client       *redis.Client
	recordScript *redis.Script
}

// NewStore creates a Store using client.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client:       client,
		recordScript: redis.NewScript(recordStrikeLua),
	}
}

// Record adds a strike for user and applies the escalated mute, if any.
func (s *Store) Record(ctx context.Context, user, reason string) (Penalty, error) {
	// The script needs every mute duration up front; it picks one by count.
	n, err := s.recordScript.Run(ctx, s.client,
		[]string{StrikePrefix + user, MutePrefix + user},
		int(StrikeTTL.Seconds()),
		reason,
		int(MuteDuration(2).Seconds()),
		int(MuteDuration(3).Seconds()),
		int(MuteDuration(4).Seconds()),
	).Int()
	if err != nil {
		return Penalty{}, fmt.Errorf("strike: record: %w", err)
	}
	return Penalty{Strikes: n, Mute: MuteDuration(n)}, nil
}

// Count returns the strikes recorded for user in the current window.
func (s *Store) Count(ctx context.Context, user string) (int, error) {
	n, err := s.client.Get(ctx, StrikePrefix+user).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("strike: count: %w", err)
	}
	return n, nil
}

// IsMuted reports whether user is muted and for how much longer.
func (s *Store) IsMuted(ctx context.Context, user string) (bool, time.Duration, error) {
	ttl, err := s.client.TTL(ctx, MutePrefix+user).Result()
	if err != nil {
		return false, 0, fmt.Errorf("strike: mute ttl: %w", err)
	}
	// go-redis reports -2 for a missing key and -1 for a key without expiry,
	// which Record never writes.
	if ttl == -2 {
		return false, 0, nil
	}
	if ttl < 0 {
		return true, 0, nil
	}
	return true, ttl, nil
}

// Unmute lifts a mute immediately. Strikes are kept.
func (s *Store) Unmute(ctx context.Context, user string) error {
	return s.client.Del(ctx, MutePrefix+user).Err()
}

// Reset clears both strikes and mute for user.
func (s *Store) Reset(ctx context.Context, user string) error {
	return s.client.Del(ctx, StrikePrefix+user, MutePrefix+user).Err()
}

// recordStrikeLua increments the strike counter, starts its window on the
// first strike, and sets the mute key for the escalated duration.
//
//	KEYS[1] strike counter, KEYS[2] mute key
//	ARGV[1] strike ttl, ARGV[2] reason, ARGV[3..5] mute seconds for 2, 3, 4+
const recordStrikeLua = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end

local mute = 0
if n == 2 then
    mute = tonumber(ARGV[3])
elseif n == 3 then
    mute = tonumber(ARGV[4])
elseif n >= 4 then
    mute = tonumber(ARGV[5])
end

if mute > 0 then
    redis.call('SET', KEYS[2], ARGV[2], 'EX', mute)
end

return n
`
