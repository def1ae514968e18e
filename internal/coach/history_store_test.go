package coach

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTurnStore(t *testing.T, maxTurns int) *RedisTurnStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTurnStore(client, maxTurns, nil)
}

func TestTurnStoreAppendAndLoad(t *testing.T) {
	store := newTestTurnStore(t, 50)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Append(ctx, "c1", ConversationTurn{ID: "t1", Role: RoleUser, Content: "j'ai faim", Timestamp: now}))
	require.NoError(t, store.Append(ctx, "c1", ConversationTurn{ID: "t2", Role: RoleAssistant, Content: "Un encas ?", Timestamp: now}))

	turns, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "t1", turns[0].ID)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "Un encas ?", turns[1].Content)
	assert.True(t, turns[0].Timestamp.Equal(now))
}

func TestTurnStoreLoadUnknownConversation(t *testing.T) {
	store := newTestTurnStore(t, 50)

	turns, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTurnStoreTrimsToMax(t *testing.T) {
	store := newTestTurnStore(t, 5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, store.Append(ctx, "c1", ConversationTurn{ID: fmt.Sprintf("t%d", i), Role: RoleUser, Content: "m"}))
	}

	turns, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 5)
	// Oldest turns were dropped.
	assert.Equal(t, "t3", turns[0].ID)
	assert.Equal(t, "t7", turns[4].ID)
}

func TestTurnStoreRoundTripsDetection(t *testing.T) {
	store := newTestTurnStore(t, 50)
	ctx := context.Background()

	turn := ConversationTurn{
		ID:      "t1",
		Role:    RoleUser,
		Content: "j'ai faim",
		DetectedIntent: &IntentDetectionResult{
			TopIntents: []ScoredIntent{{Intent: IntentHunger, Confidence: 0.9}},
			Sentiment:  SentimentNeutral,
			Urgency:    UrgencyNormal,
		},
	}
	require.NoError(t, store.Append(ctx, "c1", turn))

	turns, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.NotNil(t, turns[0].DetectedIntent)
	assert.Equal(t, IntentHunger, turns[0].DetectedIntent.Top())
}

func TestTurnStoreConversationsIsolated(t *testing.T) {
	store := newTestTurnStore(t, 50)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "c1", ConversationTurn{ID: "a", Role: RoleUser, Content: "x"}))
	require.NoError(t, store.Append(ctx, "c2", ConversationTurn{ID: "b", Role: RoleUser, Content: "y"}))

	turns, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "a", turns[0].ID)
}
