package coach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// QuotaKind names a counted resource.
type QuotaKind string

const (
	QuotaMessages QuotaKind = "messages"
	QuotaLLMCalls QuotaKind = "llm_calls"
)

// ErrQuotaExceeded is returned when a consume attempt would pass the daily
// budget. The counter is left unchanged.
var ErrQuotaExceeded = errors.New("coach: daily quota exceeded")

// quotaKeyTTL keeps counters around past the day boundary so late writes in
// other timezones cannot resurrect a fresh key.
const quotaKeyTTL = 48 * time.Hour

// QuotaManager enforces per-user daily budgets on Redis counters. The day
// boundary follows the user's IANA timezone.
type QuotaManager struct {
	client          *redis.Client
	tiers           *TierTable
	defaultTimezone string
	logger          *logging.Logger
	now             func() time.Time
}

// NewQuotaManager panics on nil client or tiers.
func NewQuotaManager(client *redis.Client, tiers *TierTable, defaultTimezone string, logger *logging.Logger) *QuotaManager {
	if client == nil {
		panic("coach: QuotaManager requires a redis client")
	}
	if tiers == nil {
		panic("coach: QuotaManager requires a tier table")
	}
	if defaultTimezone == "" {
		defaultTimezone = "Europe/Paris"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QuotaManager{
		client:          client,
		tiers:           tiers,
		defaultTimezone: defaultTimezone,
		logger:          logger,
		now:             time.Now,
	}
}

func (q *QuotaManager) localDay(timezone string) string {
	tz := timezone
	if tz == "" {
		tz = q.defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(q.defaultTimezone)
		if loc == nil {
			loc = time.UTC
		}
	}
	return q.now().In(loc).Format("2006-01-02")
}

func (q *QuotaManager) key(userID string, kind QuotaKind, day string) string {
	return fmt.Sprintf("coach:quota:%s:%s:%s", userID, kind, day)
}

// TryConsume takes one unit of the kind's budget for the user's current
// local day. It returns ErrQuotaExceeded without consuming when the budget
// is spent. The INCR then check-and-DECR sequence never lets the counter
// settle above the limit.
func (q *QuotaManager) TryConsume(ctx context.Context, userID string, tier Tier, kind QuotaKind, timezone string) error {
	limit := q.limitFor(tier, kind)
	if limit <= 0 {
		return ErrQuotaExceeded
	}
	return q.consume(ctx, q.key(userID, kind, q.localDay(timezone)), int64(limit))
}

// TryConsumeAction enforces a per-day cap on one action type. A maxPerDay of
// zero or less means unlimited.
func (q *QuotaManager) TryConsumeAction(ctx context.Context, userID string, action string, maxPerDay int, timezone string) error {
	if maxPerDay <= 0 {
		return nil
	}
	key := fmt.Sprintf("coach:quota:%s:action:%s:%s", userID, action, q.localDay(timezone))
	return q.consume(ctx, key, int64(maxPerDay))
}

func (q *QuotaManager) consume(ctx context.Context, key string, limit int64) error {
	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("coach: failed to increment quota counter: %w", err)
	}
	if count == 1 {
		if err := q.client.Expire(ctx, key, quotaKeyTTL).Err(); err != nil {
			q.logger.Warn("failed to set quota key expiry", "key", key, "error", err)
		}
	}
	if count > limit {
		if err := q.client.Decr(ctx, key).Err(); err != nil {
			q.logger.Warn("failed to roll back quota counter", "key", key, "error", err)
		}
		return ErrQuotaExceeded
	}
	return nil
}

// Remaining reports how much of the budget is left for the current local day.
func (q *QuotaManager) Remaining(ctx context.Context, userID string, tier Tier, kind QuotaKind, timezone string) (int, error) {
	limit := q.limitFor(tier, kind)
	count, err := q.client.Get(ctx, q.key(userID, kind, q.localDay(timezone))).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("coach: failed to read quota counter: %w", err)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (q *QuotaManager) limitFor(tier Tier, kind QuotaKind) int {
	cfg := q.tiers.Lookup(tier)
	switch kind {
	case QuotaLLMCalls:
		return cfg.LLMCallsPerDay
	default:
		return cfg.DailyMessages
	}
}
