package coach

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lymhealth/coaching-engine/internal/compliance"
)

type stubProvider struct {
	full ConversationContextFull
	err  error
}

func (s *stubProvider) Snapshot(_ context.Context, _, _ string) (ConversationContextFull, error) {
	return s.full, s.err
}

type engineHarness struct {
	engine *Engine
	turns  *RedisTurnStore
	memory *RedisMemoryStore
}

func newTestEngine(t *testing.T, generator Generator, provider ContextProvider) *engineHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tiers := NewTierTable(3, 2, 100, 30)
	quota := NewQuotaManager(client, tiers, "Europe/Paris", nil)
	disclaimers := compliance.NewDisclaimerManager(compliance.DefaultDisclaimerConfig())
	turns := NewRedisTurnStore(client, 50, nil)
	memory := NewRedisMemoryStore(client, nil)

	if provider == nil {
		provider = &stubProvider{}
	}

	engine := NewEngine(EngineDeps{
		Extractor:   NewExtractor(nil),
		Guard:       NewSafetyGuard(disclaimers, nil),
		Quota:       quota,
		Tiers:       tiers,
		Compactor:   NewCompactor(2000, 3),
		Gate:        NewActionGate(DefaultWhitelist(), quota, tiers, nil),
		Turns:       turns,
		Context:     provider,
		Disclaimers: disclaimers,
		Generator:   generator,
		Memory:      memory,
	}, EngineConfig{GenerationTimeout: 2 * time.Second, SummaryEvery: 10})

	return &engineHarness{engine: engine, turns: turns, memory: memory}
}

func TestProcessMessageHungerAndStress(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
		UserID:         "u1",
		ConversationID: "c1",
		Message:        "j'ai super faim et je stresse énormément",
		Tier:           TierFree,
	})

	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
	assert.Equal(t, ActionAllow, resp.Meta.SafetyAction)
	assert.Equal(t, PathRules, resp.Meta.Model)
	assert.NotEmpty(t, resp.Message)
	assert.NotEmpty(t, resp.Actions)
	assert.Equal(t, "supportive", resp.UI.Emphasis)
	assert.Empty(t, resp.Disclaimer)

	// Both turns are in the conversation log, detection attached to the user turn.
	turns, err := h.turns.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	require.NotNil(t, turns[0].DetectedIntent)
	assert.True(t, turns[0].DetectedIntent.Has(IntentHunger))
	assert.True(t, turns[0].DetectedIntent.Has(IntentStress))
	assert.Equal(t, RoleAssistant, turns[1].Role)
	require.NotNil(t, turns[1].Response)
}

func TestProcessMessageRefusesMinorRestriction(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
		UserID:         "u1",
		ConversationID: "c1",
		Message:        "j'ai 15 ans et je veux arrêter de manger pour maigrir vite",
		Tier:           TierFree,
	})

	require.NoError(t, err)
	assert.Equal(t, StateRefused, resp.Meta.State)
	assert.Equal(t, ActionRefuseRedirect, resp.Meta.SafetyAction)
	assert.Empty(t, resp.Actions)
	assert.Contains(t, resp.Message, "médecin")

	// Refused turns are still persisted.
	turns, err := h.turns.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestProcessMessageRefusalDoesNotConsumeQuota(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	// The free budget in this harness is 3 messages; refusals never count.
	for i := 0; i < 5; i++ {
		resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
			UserID: "u1", ConversationID: "c1",
			Message: "j'ai plus envie de vivre", Tier: TierFree,
		})
		require.NoError(t, err)
		assert.Equal(t, StateRefused, resp.Meta.State)
	}

	resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
		UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierFree,
	})
	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
}

func TestProcessMessageQuotaBlocked(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
			UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierFree,
		})
		require.NoError(t, err)
		require.Equal(t, StateAssembled, resp.Meta.State)
	}

	resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
		UserID: "u1", ConversationID: "c1", Message: "j'ai encore faim", Tier: TierFree,
	})
	require.NoError(t, err)
	assert.Equal(t, StateQuotaBlocked, resp.Meta.State)
	assert.Contains(t, resp.Message, "Premium")
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, ActionUpgradeTier, resp.Actions[0].Type)

	// Blocked turns are persisted too: 3 allowed + 1 blocked, 2 turns each.
	turns, err := h.turns.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, turns, 8)
}

func TestProcessMessagePremiumLLMPath(t *testing.T) {
	generator := newTestLLMGenerator(&fakeLLMClient{resp: LLMResponse{
		Text: `{"message": "On peut revoir ton objectif calorique.",
			"diagnosis": "Demande d'ajustement.",
			"short_term_plan": "Réduction progressive.",
			"actions": [{"type": "ADJUST_CALORIES", "label": "Ajuster mes calories"}]}`,
	}})
	h := newTestEngine(t, generator, nil)

	resp, err := h.engine.ProcessMessage(context.Background(), MessageRequest{
		UserID: "u1", ConversationID: "c1",
		Message: "je voudrais baisser mes calories", Tier: TierPremium,
	})

	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
	assert.Equal(t, PathLLM, resp.Meta.Model)
	assert.Equal(t, "Demande d'ajustement.", resp.Diagnosis)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, ActionAdjustCalories, resp.Actions[0].Type)
	// Confirmation always comes from the whitelist entry.
	assert.True(t, resp.Actions[0].RequiresConfirmation)
}

func TestProcessMessageFreeTierLLMBudget(t *testing.T) {
	client := &fakeLLMClient{resp: LLMResponse{Text: `{"message": "ok"}`}}
	h := newTestEngine(t, newTestLLMGenerator(client), nil)
	ctx := context.Background()

	// The free tier carries 2 LLM calls per day here: both are spent on the
	// first two messages, the third degrades to the deterministic path.
	for i := 0; i < 2; i++ {
		resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
			UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierFree,
		})
		require.NoError(t, err)
		assert.Equal(t, PathLLM, resp.Meta.Model)
	}
	assert.NotEmpty(t, client.last.Messages)

	resp, err := h.engine.ProcessMessage(ctx, MessageRequest{
		UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierFree,
	})
	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
	assert.Equal(t, PathRules, resp.Meta.Model)
}

func TestProcessMessageLLMFailureFallsBackToRules(t *testing.T) {
	generator := newTestLLMGenerator(&fakeLLMClient{err: errors.New("throttled")})
	h := newTestEngine(t, generator, nil)

	resp, err := h.engine.ProcessMessage(context.Background(), MessageRequest{
		UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierPremium,
	})

	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
	assert.Equal(t, PathRules, resp.Meta.Model)
	assert.NotEmpty(t, resp.Message)
}

func TestProcessMessageBlockedDraftFallsBackToRules(t *testing.T) {
	generator := newTestLLMGenerator(&fakeLLMClient{resp: LLMResponse{
		Text: `{"message": "Essaie un jeûne de 5 jours, ça marche très bien."}`,
	}})
	h := newTestEngine(t, generator, nil)

	resp, err := h.engine.ProcessMessage(context.Background(), MessageRequest{
		UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierPremium,
	})

	require.NoError(t, err)
	assert.Equal(t, PathRules, resp.Meta.Model)
	assert.NotContains(t, resp.Message, "jeûne")
}

func TestProcessMessageSafeRewriteAddsDisclaimer(t *testing.T) {
	h := newTestEngine(t, nil, nil)

	resp, err := h.engine.ProcessMessage(context.Background(), MessageRequest{
		UserID: "u1", ConversationID: "c1",
		Message: "avec mon diabète, une idée de repas ?", Tier: TierFree,
	})

	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
	assert.Equal(t, ActionSafeRewrite, resp.Meta.SafetyAction)
	assert.NotEmpty(t, resp.Disclaimer)
	assert.True(t, strings.Contains(resp.Message, resp.Disclaimer))
}

func TestProcessMessageSafetyBlocksHighRiskActions(t *testing.T) {
	generator := newTestLLMGenerator(&fakeLLMClient{resp: LLMResponse{
		Text: `{"message": "On peut ajuster ton plan.", "actions": [{"type": "ADJUST_CALORIES", "label": "Ajuster"}]}`,
	}})
	h := newTestEngine(t, generator, nil)

	resp, err := h.engine.ProcessMessage(context.Background(), MessageRequest{
		UserID: "u1", ConversationID: "c1",
		Message: "je suis enceinte, je peux baisser mes calories ?", Tier: TierPremium,
	})

	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
	for _, a := range resp.Actions {
		assert.NotEqual(t, ActionAdjustCalories, a.Type)
	}
}

func TestProcessMessageValidation(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	_, err := h.engine.ProcessMessage(ctx, MessageRequest{ConversationID: "c1", Message: "x"})
	assert.Error(t, err)

	_, err = h.engine.ProcessMessage(ctx, MessageRequest{UserID: "u1", ConversationID: "c1", Message: "   "})
	assert.Error(t, err)
}

func TestProcessMessageUsesMemorySummary(t *testing.T) {
	client := &fakeLLMClient{resp: LLMResponse{Text: `{"message": "ok"}`}}
	h := newTestEngine(t, newTestLLMGenerator(client), nil)
	ctx := context.Background()

	require.NoError(t, h.memory.Save(ctx, ConversationMemory{
		ConversationID: "c1",
		UserID:         "u1",
		Summary:        "Sujets récurrents : le stress.",
	}))

	// The stored summary must reach the prompt the model sees.
	_, err := h.engine.ProcessMessage(ctx, MessageRequest{
		UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierPremium,
	})
	require.NoError(t, err)
	require.NotEmpty(t, client.last.Messages)
	assert.Contains(t, client.last.Messages[0].Content, "le stress")
}

func TestStartConversationGreeting(t *testing.T) {
	provider := &stubProvider{full: ConversationContextFull{
		User: UserInfo{UserID: "u1", FirstName: "Léa", Tier: TierFree},
	}}
	h := newTestEngine(t, nil, provider)
	ctx := context.Background()

	resp, err := h.engine.StartConversation(ctx, StartRequest{UserID: "u1", ConversationID: "c1", Tier: TierFree})

	require.NoError(t, err)
	assert.Equal(t, StateAssembled, resp.Meta.State)
	assert.Contains(t, resp.Message, "Léa")
	assert.NotEmpty(t, resp.Actions)
	assert.NotEmpty(t, resp.UI.SuggestedReplies)

	turns, err := h.engine.GetHistory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, RoleAssistant, turns[0].Role)
}

func TestGetHistoryValidation(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	_, err := h.engine.GetHistory(context.Background(), "")
	assert.Error(t, err)
}

func TestProcessMessageCancelledContext(t *testing.T) {
	h := newTestEngine(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.ProcessMessage(ctx, MessageRequest{
		UserID: "u1", ConversationID: "c1", Message: "j'ai faim", Tier: TierFree,
	})
	assert.Error(t, err)
}
