package coach

// TierConfig holds the daily budgets and feature set of one subscription tier.
type TierConfig struct {
	DailyMessages  int
	LLMCallsPerDay int
	Features       map[string]bool
}

// HasFeature reports whether the tier unlocks the named feature.
func (c TierConfig) HasFeature(name string) bool {
	return c.Features[name]
}

// TierTable maps every known tier to its configuration. Unknown tiers resolve
// to the free tier.
type TierTable struct {
	configs map[Tier]TierConfig
}

// NewTierTable builds the table from explicit budgets.
func NewTierTable(freeMessages, freeLLM, premiumMessages, premiumLLM int) *TierTable {
	return &TierTable{configs: map[Tier]TierConfig{
		TierFree: {
			DailyMessages:  freeMessages,
			LLMCallsPerDay: freeLLM,
			Features: map[string]bool{
				"basic_coaching": true,
				"llm_generation": true,
			},
		},
		TierPremium: {
			DailyMessages:  premiumMessages,
			LLMCallsPerDay: premiumLLM,
			Features: map[string]bool{
				"basic_coaching":   true,
				"llm_generation":   true,
				"plan_adjustments": true,
				"coach_contact":    true,
			},
		},
	}}
}

// DefaultTierTable returns the production budgets.
func DefaultTierTable() *TierTable {
	return NewTierTable(10, 1, 100, 30)
}

// Lookup resolves a tier, falling back to free for unknown values.
func (t *TierTable) Lookup(tier Tier) TierConfig {
	if c, ok := t.configs[tier]; ok {
		return c
	}
	return t.configs[TierFree]
}
