package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/finova-network/reward-engine/internal/domain"
	"github.com/finova-network/reward-engine/internal/store"
)

// DailyCounters backs store.DailyCounters with Redis, so daily
// activity/accrual counters are shared across every process handling
// a given user rather than pinned to whichever instance opened their
// first session of the day. Each key carries its own 48h TTL (a full
// day of slack past midnight) so a quiet day's counters self-clean.
type DailyCounters struct {
	rdb *redis.Client
}

var _ store.DailyCounters = (*DailyCounters)(nil)

// NewDailyCounters wraps an existing Redis client.
func NewDailyCounters(rdb *redis.Client) *DailyCounters {
	return &DailyCounters{rdb: rdb}
}

const counterTTL = 48 * time.Hour

// incrementIfBelowLimit atomically increments key and reports whether
// the post-increment value is within limit, rolling back the
// increment when it isn't. Lua keeps the read-compare-write atomic
// without a client-side transaction.
var incrementIfBelowLimitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return {count - 1, 0}
end
return {count, 1}
`)

func (d *DailyCounters) IncrementActivity(ctx context.Context, userID string, kind domain.ActivityKind, day time.Time, limit int) (int, bool, error) {
	key := activityKey(userID, kind, day)
	res, err := incrementIfBelowLimitScript.Run(ctx, d.rdb, []string{key}, limit, int(counterTTL.Seconds())).Slice()
	if err != nil {
		return 0, false, err
	}
	count := int(res[0].(int64))
	allowed := res[1].(int64) == 1
	return count, allowed, nil
}

// addAccrualScript atomically adds amount to the running total,
// respecting both the cap and a separately-settable "cap already
// consumed today" flag so a single AddAccrual/MarkCapConsumed pair
// behaves identically to the in-memory store's semantics.
var addAccrualScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) == "1" then
  local total = tonumber(redis.call("GET", KEYS[1]) or "0")
  return {total, 0}
end
local total = tonumber(redis.call("GET", KEYS[1]) or "0") + tonumber(ARGV[1])
if total > tonumber(ARGV[2]) then
  return {tonumber(redis.call("GET", KEYS[1]) or "0"), 0}
end
redis.call("SET", KEYS[1], tostring(total), "EX", ARGV[3])
return {total, 1}
`)

func (d *DailyCounters) AddAccrual(ctx context.Context, userID string, day time.Time, amount, capFIN domain.FIN) (domain.FIN, bool, error) {
	accrualK := accrualKeyRedis(userID, day)
	capK := capConsumedKey(userID, day)
	res, err := addAccrualScript.Run(ctx, d.rdb, []string{accrualK, capK},
		int64(amount), int64(capFIN), int(counterTTL.Seconds())).Slice()
	if err != nil {
		return 0, false, err
	}
	total := domain.FIN(res[0].(int64))
	allowed := res[1].(int64) == 1
	return total, allowed, nil
}

func (d *DailyCounters) MarkCapConsumed(ctx context.Context, userID string, day time.Time) error {
	return d.rdb.Set(ctx, capConsumedKey(userID, day), "1", counterTTL).Err()
}

func activityKey(userID string, kind domain.ActivityKind, day time.Time) string {
	return "reward-engine:daily-activity:" + userID + ":" + string(kind) + ":" + day.Format("2006-01-02")
}

func accrualKeyRedis(userID string, day time.Time) string {
	return "reward-engine:daily-accrual:" + userID + ":" + day.Format("2006-01-02")
}

func capConsumedKey(userID string, day time.Time) string {
	return "reward-engine:daily-cap-consumed:" + userID + ":" + day.Format("2006-01-02")
}
