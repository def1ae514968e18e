package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ConversationMemory is the rolling summary of a conversation, rebuilt in the
// background every few turns and injected into future compact contexts.
type ConversationMemory struct {
	ConversationID string      `json:"conversation_id"`
	UserID         string      `json:"user_id"`
	Summary        string      `json:"summary"`
	Stats          MemoryStats `json:"stats"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// MemoryStats aggregates signals across the summarized turns.
type MemoryStats struct {
	TurnCount      int            `json:"turn_count"`
	IntentCounts   map[string]int `json:"intent_counts,omitempty"`
	NegativeStreak int            `json:"negative_streak"`
	FlagsSeen      []string       `json:"flags_seen,omitempty"`
}

// intentThemes maps intents to the French theme words used in summaries.
var intentThemes = map[UserIntent]string{
	IntentHunger:            "la faim",
	IntentCraving:           "les envies de grignotage",
	IntentStress:            "le stress",
	IntentSleep:             "le sommeil",
	IntentFatigue:           "la fatigue",
	IntentProgressCheck:     "le suivi des progrès",
	IntentMealIdea:          "les idées de repas",
	IntentPlanAdjust:        "l'ajustement du plan",
	IntentMotivation:        "la motivation",
	IntentNutritionQuestion: "les questions nutrition",
}

// Summarize builds a deterministic French summary from the stored turns. It
// does not call a model: recurring intents, sentiment runs and safety flags
// are enough signal for the compact context.
func Summarize(conversationID, userID string, turns []ConversationTurn) ConversationMemory {
	stats := MemoryStats{IntentCounts: map[string]int{}}
	flagsSeen := map[SafetyFlag]bool{}
	negStreak := 0

	for _, turn := range turns {
		if turn.Role != RoleUser {
			continue
		}
		stats.TurnCount++
		det := turn.DetectedIntent
		if det == nil {
			continue
		}
		for _, s := range det.TopIntents {
			if s.Intent != IntentUnknown && s.Intent != IntentGreeting {
				stats.IntentCounts[string(s.Intent)]++
			}
		}
		if det.Sentiment == SentimentNegative {
			negStreak++
		} else {
			negStreak = 0
		}
		for _, f := range det.SafetyFlags {
			flagsSeen[f] = true
		}
	}
	stats.NegativeStreak = negStreak
	for f := range flagsSeen {
		stats.FlagsSeen = append(stats.FlagsSeen, string(f))
	}
	sort.Strings(stats.FlagsSeen)

	return ConversationMemory{
		ConversationID: conversationID,
		UserID:         userID,
		Summary:        buildSummaryText(stats),
		Stats:          stats,
		UpdatedAt:      time.Now().UTC(),
	}
}

func buildSummaryText(stats MemoryStats) string {
	if stats.TurnCount == 0 {
		return ""
	}

	type themeCount struct {
		theme string
		count int
	}
	var themes []themeCount
	for intent, theme := range intentThemes {
		if c := stats.IntentCounts[string(intent)]; c > 0 {
			themes = append(themes, themeCount{theme: theme, count: c})
		}
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].count != themes[j].count {
			return themes[i].count > themes[j].count
		}
		return themes[i].theme < themes[j].theme
	})
	if len(themes) > 3 {
		themes = themes[:3]
	}

	var parts []string
	if len(themes) > 0 {
		names := make([]string, 0, len(themes))
		for _, t := range themes {
			names = append(names, t.theme)
		}
		parts = append(parts, "Sujets récurrents : "+strings.Join(names, ", ")+".")
	}
	if stats.NegativeStreak >= 3 {
		parts = append(parts, fmt.Sprintf("Moral en baisse sur les %d derniers messages.", stats.NegativeStreak))
	}
	if len(stats.FlagsSeen) > 0 {
		parts = append(parts, "Signaux de prudence déjà rencontrés dans la conversation.")
	}
	return strings.Join(parts, " ")
}

// MemoryStore persists conversation memories.
type MemoryStore interface {
	Save(ctx context.Context, memory ConversationMemory) error
	Load(ctx context.Context, conversationID string) (*ConversationMemory, error)
}

// RedisMemoryStore keeps one JSON document per conversation.
type RedisMemoryStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewRedisMemoryStore(client *redis.Client, tracer trace.Tracer) *RedisMemoryStore {
	if client == nil {
		panic("coach: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("lym.internal.coach.memory")
	}
	return &RedisMemoryStore{redis: client, tracer: tracer}
}

func memoryKey(conversationID string) string {
	return fmt.Sprintf("coach:memory:%s", conversationID)
}

func (s *RedisMemoryStore) Save(ctx context.Context, memory ConversationMemory) error {
	ctx, span := s.tracer.Start(ctx, "coach.save_memory")
	defer span.End()

	data, err := json.Marshal(memory)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("coach: failed to marshal memory: %w", err)
	}
	if err := s.redis.Set(ctx, memoryKey(memory.ConversationID), data, turnTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("coach: failed to persist memory: %w", err)
	}
	return nil
}

// Load returns nil without error when no memory exists yet.
func (s *RedisMemoryStore) Load(ctx context.Context, conversationID string) (*ConversationMemory, error) {
	ctx, span := s.tracer.Start(ctx, "coach.load_memory")
	defer span.End()

	data, err := s.redis.Get(ctx, memoryKey(conversationID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("coach: failed to load memory: %w", err)
	}

	var memory ConversationMemory
	if err := json.Unmarshal(data, &memory); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("coach: failed to decode memory: %w", err)
	}
	return &memory, nil
}
