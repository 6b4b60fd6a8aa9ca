package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimWindow is the length of an extraction quota window. Windows start on wall-clock
// minute boundaries, so every replica agrees on the current one.
const claimWindow = time.Minute

// claimCounterGrace keeps a finished window's counter around briefly for inspection.
const claimCounterGrace = 5 * time.Second

// ClaimQuota is an issuer's extraction usage in the current window.
type ClaimQuota struct {
	Used    int
	Limit   int
	ResetAt time.Time
}

// Exceeded reports whether the reservation that produced q went over the limit.
func (q ClaimQuota) Exceeded() bool {
	return q.Limit > 0 && q.Used > q.Limit
}

// RetryAfter is the time left in the window in whole seconds, never less than one.
func (q ClaimQuota) RetryAfter(now time.Time) int {
	seconds := int(math.Ceil(q.ResetAt.Sub(now).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func claimWindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(claimWindow)
}

// RedisClaimQuotas counts extractions per issuing user in Redis, shared by every replica.
type RedisClaimQuotas struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisClaimQuotas(client redis.UniversalClient, prefix string) *RedisClaimQuotas {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "wheel:rate_limit"
	}
	return &RedisClaimQuotas{client: client, prefix: prefix, now: time.Now}
}

// counterKey names the counter of issuer for the window starting at windowStart.
func (q *RedisClaimQuotas) counterKey(issuer uuid.UUID, windowStart time.Time) string {
	return fmt.Sprintf("%s:claims:%s:%d", q.prefix, issuer, windowStart.Unix())
}

// ReserveClaim counts one extraction for issuer in the current window. Without a client
// it reserves nothing and reports an empty quota.
func (q *RedisClaimQuotas) ReserveClaim(ctx context.Context, issuer uuid.UUID, limit int) (ClaimQuota, error) {
	if q == nil || q.client == nil || limit <= 0 {
		return ClaimQuota{}, nil
	}
	start := claimWindowStart(q.now())
	quota := ClaimQuota{Limit: limit, ResetAt: start.Add(claimWindow)}
	key := q.counterKey(issuer, start)

	var used *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		used = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, quota.ResetAt.Add(claimCounterGrace))
		return nil
	})
	if err != nil {
		return quota, fmt.Errorf("reserve claim for %s: %w", issuer, err)
	}
	quota.Used = int(used.Val())
	return quota, nil
}
