package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const turnTTL = 30 * 24 * time.Hour

// TurnStore persists conversation turns.
type TurnStore interface {
	Append(ctx context.Context, conversationID string, turn ConversationTurn) error
	Load(ctx context.Context, conversationID string) ([]ConversationTurn, error)
}

// RedisTurnStore keeps each conversation as a JSON list, newest last, trimmed
// to a maximum length.
type RedisTurnStore struct {
	redis    *redis.Client
	maxTurns int
	tracer   trace.Tracer
}

func NewRedisTurnStore(client *redis.Client, maxTurns int, tracer trace.Tracer) *RedisTurnStore {
	if client == nil {
		panic("coach: redis client cannot be nil")
	}
	if maxTurns <= 0 {
		maxTurns = 50
	}
	if tracer == nil {
		tracer = otel.Tracer("lym.internal.coach.turns")
	}
	return &RedisTurnStore{
		redis:    client,
		maxTurns: maxTurns,
		tracer:   tracer,
	}
}

func turnsKey(conversationID string) string {
	return fmt.Sprintf("coach:turns:%s", conversationID)
}

// Append pushes one turn to the end of the conversation list.
func (s *RedisTurnStore) Append(ctx context.Context, conversationID string, turn ConversationTurn) error {
	ctx, span := s.tracer.Start(ctx, "coach.append_turn")
	defer span.End()

	data, err := json.Marshal(turn)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("coach: failed to marshal turn: %w", err)
	}

	key := turnsKey(conversationID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
	pipe.Expire(ctx, key, turnTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("coach: failed to persist turn: %w", err)
	}
	return nil
}

// Load returns the stored turns, oldest first. A missing conversation yields
// an empty slice, not an error.
func (s *RedisTurnStore) Load(ctx context.Context, conversationID string) ([]ConversationTurn, error) {
	ctx, span := s.tracer.Start(ctx, "coach.load_turns")
	defer span.End()

	items, err := s.redis.LRange(ctx, turnsKey(conversationID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("coach: failed to load turns: %w", err)
	}

	turns := make([]ConversationTurn, 0, len(items))
	for _, item := range items {
		var turn ConversationTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("coach: failed to decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
