package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// checkAndIncrementScript atomically checks the counter against the limit
// and increments only when the reservation fits. The TTL is applied on the
// first increment so the key dies shortly after the window ends.
var checkAndIncrementScript = goredis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + n > limit then
  return {0, current}
end
local updated = redis.call('INCRBY', KEYS[1], n)
if updated == n then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return {1, updated}
`)

// Decision is the outcome of a quota reservation.
type Decision struct {
	Allowed bool
	Current int64
	Window  Window
}

// QuotaCounter reserves log units against per-owner monthly counters in
// Redis. A Redis outage fails open: losing a few counts is recoverable,
// rejecting ingress is not.
type QuotaCounter struct {
	rdb      goredis.UniversalClient
	logger   *logrus.Logger
	failOpen prometheus.Counter
}

// NewQuotaCounter creates a counter. failOpen may be nil when the caller
// does not collect metrics.
func NewQuotaCounter(rdb goredis.UniversalClient, logger *logrus.Logger, failOpen prometheus.Counter) *QuotaCounter {
	return &QuotaCounter{rdb: rdb, logger: logger, failOpen: failOpen}
}

func counterKey(ownerID, periodKey string) string {
	return fmt.Sprintf("usage:logging:owner:%s:period:%s", ownerID, periodKey)
}

// CheckAndIncrement reserves n units for the owner's current window. A nil
// limit means unlimited and never touches the counter; a zero limit denies
// every submission.
func (q *QuotaCounter) CheckAndIncrement(ctx context.Context, ownerID string, userCreatedAt time.Time, n int64, limit *int64) Decision {
	now := time.Now().UTC()
	window := ComputeWindow(userCreatedAt, now)

	if limit == nil {
		return Decision{Allowed: true, Window: window}
	}

	ttl := int64(window.End.Sub(now).Seconds()) + 60
	key := counterKey(ownerID, window.PeriodKey)

	res, err := checkAndIncrementScript.Run(ctx, q.rdb, []string{key}, n, *limit, ttl).Int64Slice()
	if err != nil || len(res) != 2 {
		q.logger.WithError(err).WithField("owner_id", ownerID).
			Warn("Quota counter unavailable, allowing submission")
		if q.failOpen != nil {
			q.failOpen.Inc()
		}
		return Decision{Allowed: true, Window: window}
	}

	return Decision{Allowed: res[0] == 1, Current: res[1], Window: window}
}

// CurrentUsage reads the owner's counter for the current window without
// mutating it.
func (q *QuotaCounter) CurrentUsage(ctx context.Context, ownerID string, userCreatedAt time.Time) (int64, Window, error) {
	window := ComputeWindow(userCreatedAt, time.Now().UTC())
	val, err := q.rdb.Get(ctx, counterKey(ownerID, window.PeriodKey)).Int64()
	if err == goredis.Nil {
		return 0, window, nil
	}
	if err != nil {
		return 0, window, fmt.Errorf("read usage counter: %w", err)
	}
	return val, window, nil
}
