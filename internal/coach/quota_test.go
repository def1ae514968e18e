package coach

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQuota(t *testing.T) (*QuotaManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewQuotaManager(client, NewTierTable(3, 1, 100, 30), "Europe/Paris", nil)
	return q, mr
}

func TestTryConsumeWithinBudget(t *testing.T) {
	q, _ := newTestQuota(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaMessages, ""))
	}
	err := q.TryConsume(ctx, "u1", TierFree, QuotaMessages, "")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestTryConsumeDoesNotOverCount(t *testing.T) {
	q, mr := newTestQuota(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = q.TryConsume(ctx, "u1", TierFree, QuotaMessages, "")
	}

	key := q.key("u1", QuotaMessages, q.localDay(""))
	got, err := mr.Get(key)
	require.NoError(t, err)
	// Rejected attempts roll back, the counter never settles above the limit.
	assert.Equal(t, "3", got)
}

func TestTryConsumeConcurrent(t *testing.T) {
	q, mr := newTestQuota(t)
	ctx := context.Background()

	// Fire well past the free message limit of 3 in parallel: exactly the
	// budget succeeds and the counter settles at the limit.
	const attempts = 20
	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.TryConsume(ctx, "u1", TierFree, QuotaMessages, ""); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), granted.Load())
	got, err := mr.Get(q.key("u1", QuotaMessages, q.localDay("")))
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestTryConsumePerUserAndKind(t *testing.T) {
	q, _ := newTestQuota(t)
	ctx := context.Background()

	require.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaLLMCalls, ""))
	assert.ErrorIs(t, q.TryConsume(ctx, "u1", TierFree, QuotaLLMCalls, ""), ErrQuotaExceeded)

	// Another user and another kind are unaffected.
	assert.NoError(t, q.TryConsume(ctx, "u2", TierFree, QuotaLLMCalls, ""))
	assert.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaMessages, ""))
}

func TestTryConsumePremiumBudget(t *testing.T) {
	q, _ := newTestQuota(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.NoError(t, q.TryConsume(ctx, "u1", TierPremium, QuotaLLMCalls, ""))
	}
	assert.ErrorIs(t, q.TryConsume(ctx, "u1", TierPremium, QuotaLLMCalls, ""), ErrQuotaExceeded)
}

func TestQuotaResetsAtLocalMidnight(t *testing.T) {
	q, _ := newTestQuota(t)
	ctx := context.Background()

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	day1 := time.Date(2026, 3, 2, 23, 50, 0, 0, paris)
	q.now = func() time.Time { return day1 }
	require.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaLLMCalls, ""))
	assert.ErrorIs(t, q.TryConsume(ctx, "u1", TierFree, QuotaLLMCalls, ""), ErrQuotaExceeded)

	// Ten minutes later it is a new local day.
	q.now = func() time.Time { return day1.Add(10 * time.Minute) }
	assert.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaLLMCalls, ""))
}

func TestQuotaDayFollowsUserTimezone(t *testing.T) {
	q, _ := newTestQuota(t)
	ctx := context.Background()

	// 23:30 in Paris on March 2 is already March 3 in Tokyo.
	paris, _ := time.LoadLocation("Europe/Paris")
	q.now = func() time.Time { return time.Date(2026, 3, 2, 23, 30, 0, 0, paris) }

	assert.Equal(t, "2026-03-02", q.localDay("Europe/Paris"))
	assert.Equal(t, "2026-03-03", q.localDay("Asia/Tokyo"))

	require.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaLLMCalls, "Asia/Tokyo"))
	// The Paris-day counter for the same user is separate.
	assert.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaLLMCalls, "Europe/Paris"))
}

func TestQuotaInvalidTimezoneFallsBack(t *testing.T) {
	q, _ := newTestQuota(t)
	assert.Equal(t, q.localDay(""), q.localDay("Not/AZone"))
}

func TestQuotaKeyExpiry(t *testing.T) {
	q, mr := newTestQuota(t)
	ctx := context.Background()

	require.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaMessages, ""))
	key := q.key("u1", QuotaMessages, q.localDay(""))
	ttl := mr.TTL(key)
	assert.Equal(t, 48*time.Hour, ttl)
}

func TestTryConsumeAction(t *testing.T) {
	q, _ := newTestQuota(t)
	ctx := context.Background()

	require.NoError(t, q.TryConsumeAction(ctx, "u1", "ADJUST_CALORIES", 1, ""))
	assert.ErrorIs(t, q.TryConsumeAction(ctx, "u1", "ADJUST_CALORIES", 1, ""), ErrQuotaExceeded)

	// Zero means unlimited.
	for i := 0; i < 5; i++ {
		assert.NoError(t, q.TryConsumeAction(ctx, "u1", "VIEW_PROGRESS", 0, ""))
	}
}

func TestRemaining(t *testing.T) {
	q, _ := newTestQuota(t)
	ctx := context.Background()

	rem, err := q.Remaining(ctx, "u1", TierFree, QuotaMessages, "")
	require.NoError(t, err)
	assert.Equal(t, 3, rem)

	require.NoError(t, q.TryConsume(ctx, "u1", TierFree, QuotaMessages, ""))
	rem, err = q.Remaining(ctx, "u1", TierFree, QuotaMessages, "")
	require.NoError(t, err)
	assert.Equal(t, 2, rem)
}
