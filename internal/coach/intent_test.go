package coach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHungerAndStress(t *testing.T) {
	e := NewExtractor(nil)

	res := e.Extract("j'ai super faim et je stresse énormément", nil)

	assert.True(t, res.Has(IntentHunger), "expected HUNGER in top intents: %+v", res.TopIntents)
	assert.True(t, res.Has(IntentStress), "expected STRESS in top intents: %+v", res.TopIntents)
	assert.Equal(t, SentimentNegative, res.Sentiment)
	assert.Equal(t, UrgencyHigh, res.Urgency)
	assert.Empty(t, res.SafetyFlags)
}

func TestExtractSingleIntents(t *testing.T) {
	e := NewExtractor(nil)

	tests := []struct {
		name string
		text string
		want UserIntent
	}{
		{"hunger fr", "j'ai tellement faim là", IntentHunger},
		{"craving fr", "grosse envie de chocolat ce soir", IntentCraving},
		{"sleep fr", "j'ai très mal dormi cette nuit", IntentSleep},
		{"fatigue fr", "je suis épuisée depuis ce matin", IntentFatigue},
		{"progress fr", "tu peux me faire un bilan de mes progrès ?", IntentProgressCheck},
		{"meal idea fr", "une idée de repas pour ce soir ?", IntentMealIdea},
		{"plan adjust fr", "je voudrais baisser mes calories un peu", IntentPlanAdjust},
		{"motivation fr", "je suis découragée, j'ai envie d'abandonner", IntentMotivation},
		{"nutrition fr", "combien de protéines je devrais manger ?", IntentNutritionQuestion},
		{"greeting", "Bonjour !", IntentGreeting},
		{"hunger en", "I'm starving right now", IntentHunger},
		{"unknown", "zzz qwerty", IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Extract(tt.text, nil)
			assert.Equal(t, tt.want, res.Top(), "text: %q, got %+v", tt.text, res.TopIntents)
		})
	}
}

func TestExtractTopIntentsBounded(t *testing.T) {
	e := NewExtractor(nil)

	res := e.Extract("j'ai faim, je suis stressée, épuisée et j'ai super mal dormi", nil)

	require.NotEmpty(t, res.TopIntents)
	assert.LessOrEqual(t, len(res.TopIntents), 3)
	for i := 1; i < len(res.TopIntents); i++ {
		assert.GreaterOrEqual(t, res.TopIntents[i-1].Confidence, res.TopIntents[i].Confidence)
	}
}

func TestExtractUnknownFallback(t *testing.T) {
	e := NewExtractor(nil)

	res := e.Extract("...", nil)

	require.Len(t, res.TopIntents, 1)
	assert.Equal(t, IntentUnknown, res.Top())
	assert.Less(t, res.TopIntents[0].Confidence, 0.5)
	assert.Equal(t, UrgencyLow, res.Urgency)
}

func TestExtractContinuationInheritsPriorIntent(t *testing.T) {
	e := NewExtractor(nil)

	prev := &ConversationTurn{
		Role:    RoleUser,
		Content: "une idée de repas pour ce soir ?",
		DetectedIntent: &IntentDetectionResult{
			TopIntents: []ScoredIntent{{Intent: IntentMealIdea, Confidence: 0.9}},
		},
	}

	res := e.Extract("et après ?", prev)
	assert.Equal(t, IntentMealIdea, res.Top())
	assert.InDelta(t, carryOverConfidence, res.TopIntents[0].Confidence, 0.001)

	// A full new message does not inherit.
	res = e.Extract("j'ai faim", prev)
	assert.Equal(t, IntentHunger, res.Top())
}

func TestExtractEntities(t *testing.T) {
	e := NewExtractor(nil)

	res := e.Extract("j'ai mangé 200g de pâtes ce midi et dormi 5 heures", nil)

	var types []EntityType
	for _, ent := range res.Entities {
		types = append(types, ent.Type)
	}
	assert.Contains(t, types, EntityQuantity)
	assert.Contains(t, types, EntityFood)
	assert.Contains(t, types, EntityTimeOfDay)
	assert.Contains(t, types, EntityDuration)

	// Spans index into the original text and do not overlap.
	for i, ent := range res.Entities {
		assert.Equal(t, ent.Value, "j'ai mangé 200g de pâtes ce midi et dormi 5 heures"[ent.Start:ent.End])
		if i > 0 {
			assert.GreaterOrEqual(t, ent.Start, res.Entities[i-1].End)
		}
	}
}

func TestExtractSentiment(t *testing.T) {
	e := NewExtractor(nil)

	assert.Equal(t, SentimentPositive, e.Extract("trop contente, j'ai réussi ma semaine !", nil).Sentiment)
	assert.Equal(t, SentimentNegative, e.Extract("c'est vraiment dur, j'en ai marre", nil).Sentiment)
	assert.Equal(t, SentimentNeutral, e.Extract("une idée de repas ?", nil).Sentiment)
	// Intensifier "super" before a complaint is not positive.
	assert.NotEqual(t, SentimentPositive, e.Extract("j'ai super faim", nil).Sentiment)
}

func TestExtractCarriesSafetyFlags(t *testing.T) {
	e := NewExtractor(nil)

	res := e.Extract("je veux arrêter de manger complètement", nil)
	assert.Contains(t, res.SafetyFlags, FlagExtremeRestriction)
}
