// Package redisstore keeps sliding-window logs in Redis sorted sets so
// several gateway processes pointed at the same Redis share one quota.
// Scores are admission times in unix milliseconds; members are opaque
// unique IDs so two admissions in the same millisecond both count.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
)

type Limiter struct {
	client *redis.Client
}

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

func (l *Limiter) Close() error { return l.client.Close() }

func (l *Limiter) Allow(ctx context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	deny := ratelimit.Decision{Allowed: false, Limit: p.Limit}
	if !p.Valid() {
		return deny, nil
	}

	windowStart := now.Add(-p.Window)
	cutoff := strconv.FormatInt(windowStart.UnixMilli(), 10)
	member := uuid.NewString()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	pipe.ZAdd(ctx, key, redis.Z{Member: member, Score: float64(now.UnixMilli())})
	card := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.PExpire(ctx, key, p.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return deny, err
	}

	count := int(card.Val())
	resetUnixSec := now.Add(p.Window).Unix()
	if zs := oldest.Val(); len(zs) > 0 {
		resetUnixSec = time.UnixMilli(int64(zs[0].Score)).Add(p.Window).Unix()
	}

	if count > p.Limit {
		// over quota: take this admission back out so a denied request
		// does not consume the window
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			return deny, err
		}
		deny.ResetUnixSec = resetUnixSec
		return deny, nil
	}

	return ratelimit.Decision{
		Allowed:      true,
		Limit:        p.Limit,
		Remaining:    p.Limit - count,
		ResetUnixSec: resetUnixSec,
	}, nil
}
