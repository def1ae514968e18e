package coach

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizerProcessesJob(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	turns := NewRedisTurnStore(client, 50, nil)
	memory := NewRedisMemoryStore(client, nil)
	ctx := context.Background()

	require.NoError(t, turns.Append(ctx, "c1", userTurn(IntentStress, SentimentNegative)))
	require.NoError(t, turns.Append(ctx, "c1", userTurn(IntentStress, SentimentNegative)))

	s := NewSummarizer(turns, memory, NewMemoryQueue(8), nil, WithSummarizerReceiveWait(0))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	require.NoError(t, s.Enqueue(ctx, "c1", "u1"))

	require.Eventually(t, func() bool {
		loaded, err := memory.Load(ctx, "c1")
		return err == nil && loaded != nil
	}, 2*time.Second, 10*time.Millisecond)

	loaded, err := memory.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Stats.TurnCount)
	assert.Contains(t, loaded.Summary, "le stress")
}

func TestSummarizerIgnoresEmptyConversation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	turns := NewRedisTurnStore(client, 50, nil)
	memory := NewRedisMemoryStore(client, nil)

	s := NewSummarizer(turns, memory, NewMemoryQueue(8), nil, WithSummarizerReceiveWait(0))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	require.NoError(t, s.Enqueue(context.Background(), "nope", "u1"))

	// Give the worker a moment, then confirm nothing was written.
	time.Sleep(100 * time.Millisecond)
	loaded, err := memory.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSummarizerShutdownStopsWorkers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewSummarizer(NewRedisTurnStore(client, 50, nil), NewRedisMemoryStore(client, nil), NewMemoryQueue(8), nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(shutdownCtx))
}
