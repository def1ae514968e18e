package coach

import (
	"context"
	"errors"

	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// ActionType is the closed set of client-side actions the coach may propose.
type ActionType string

const (
	ActionLogMeal           ActionType = "LOG_MEAL"
	ActionSuggestRecipe     ActionType = "SUGGEST_RECIPE"
	ActionAdjustCalories    ActionType = "ADJUST_CALORIES"
	ActionStartBreathing    ActionType = "START_BREATHING_EXERCISE"
	ActionStartSleepRoutine ActionType = "START_SLEEP_ROUTINE"
	ActionViewProgress      ActionType = "VIEW_PROGRESS"
	ActionSetReminder       ActionType = "SET_REMINDER"
	ActionUpgradeTier       ActionType = "UPGRADE_TIER"
	ActionContactCoach      ActionType = "CONTACT_COACH"
)

// ActionRisk classifies how consequential an action is for the user.
type ActionRisk string

const (
	RiskLow  ActionRisk = "low"
	RiskHigh ActionRisk = "high"
)

// ActionPermission is one whitelist entry.
type ActionPermission struct {
	Type                 ActionType
	MinTier              Tier
	Risk                 ActionRisk
	RequiresConfirmation bool
	// MaxPerDay of zero means unlimited.
	MaxPerDay int
}

// ActionWhitelist is the versioned permission table. Responses carry the
// version so client behavior can be traced to a table revision.
type ActionWhitelist struct {
	Version string
	entries map[ActionType]ActionPermission
}

// DefaultWhitelist returns the current production permission table.
func DefaultWhitelist() *ActionWhitelist {
	return NewWhitelist("2026-08", []ActionPermission{
		{Type: ActionLogMeal, MinTier: TierFree, Risk: RiskLow},
		{Type: ActionSuggestRecipe, MinTier: TierFree, Risk: RiskLow},
		{Type: ActionStartBreathing, MinTier: TierFree, Risk: RiskLow},
		{Type: ActionStartSleepRoutine, MinTier: TierFree, Risk: RiskLow},
		{Type: ActionViewProgress, MinTier: TierFree, Risk: RiskLow},
		{Type: ActionUpgradeTier, MinTier: TierFree, Risk: RiskLow},
		{Type: ActionSetReminder, MinTier: TierFree, Risk: RiskLow, MaxPerDay: 5},
		{Type: ActionAdjustCalories, MinTier: TierPremium, Risk: RiskHigh, RequiresConfirmation: true, MaxPerDay: 1},
		{Type: ActionContactCoach, MinTier: TierPremium, Risk: RiskLow, MaxPerDay: 3},
	})
}

// NewWhitelist builds a table from explicit entries.
func NewWhitelist(version string, perms []ActionPermission) *ActionWhitelist {
	entries := make(map[ActionType]ActionPermission, len(perms))
	for _, p := range perms {
		entries[p.Type] = p
	}
	return &ActionWhitelist{Version: version, entries: entries}
}

// Lookup returns the permission entry for a type.
func (w *ActionWhitelist) Lookup(t ActionType) (ActionPermission, bool) {
	p, ok := w.entries[t]
	return p, ok
}

// ConversationAction is an action proposal as it leaves the pipeline.
type ConversationAction struct {
	Type                 ActionType     `json:"type"`
	Label                string         `json:"label"`
	Params               map[string]any `json:"params,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Risk                 ActionRisk     `json:"risk"`
}

// Gate rejection reasons.
const (
	RejectUnknownActionType = "unknown_action_type"
	RejectTierNotPermitted  = "tier_not_permitted"
	RejectSafetyBlocked     = "safety_blocked"
	RejectDailyLimit        = "daily_limit_reached"
)

// RejectedAction records a proposal the gate dropped and why.
type RejectedAction struct {
	Type   ActionType `json:"type"`
	Reason string     `json:"reason"`
}

// actionBudget is the slice of the quota manager the gate needs.
type actionBudget interface {
	TryConsumeAction(ctx context.Context, userID string, action string, maxPerDay int, timezone string) error
}

// ActionGate filters generator-proposed actions against the whitelist, the
// user's tier, the safety verdict and per-day caps. Proposals never pass
// through untouched: confirmation and risk always come from the table.
type ActionGate struct {
	whitelist *ActionWhitelist
	budget    actionBudget
	tiers     *TierTable
	logger    *logging.Logger
}

// NewActionGate panics on nil whitelist or tiers. budget may be nil, in
// which case per-day caps are not enforced.
func NewActionGate(whitelist *ActionWhitelist, budget actionBudget, tiers *TierTable, logger *logging.Logger) *ActionGate {
	if whitelist == nil {
		panic("coach: ActionGate requires a whitelist")
	}
	if tiers == nil {
		panic("coach: ActionGate requires a tier table")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ActionGate{whitelist: whitelist, budget: budget, tiers: tiers, logger: logger}
}

// Filter returns the allowed actions, rewritten from their whitelist entry,
// plus the rejections. Order of allowed actions follows the proposal order.
func (g *ActionGate) Filter(ctx context.Context, userID string, tier Tier, timezone string, safety SafetyCheckResult, proposed []ConversationAction) ([]ConversationAction, []RejectedAction) {
	allowed := make([]ConversationAction, 0, len(proposed))
	var rejected []RejectedAction

	for _, a := range proposed {
		perm, ok := g.whitelist.Lookup(a.Type)
		if !ok {
			rejected = append(rejected, RejectedAction{Type: a.Type, Reason: RejectUnknownActionType})
			continue
		}
		if perm.MinTier == TierPremium && tier != TierPremium {
			rejected = append(rejected, RejectedAction{Type: a.Type, Reason: RejectTierNotPermitted})
			continue
		}
		if safety.BlockHighRisk && perm.Risk == RiskHigh {
			rejected = append(rejected, RejectedAction{Type: a.Type, Reason: RejectSafetyBlocked})
			continue
		}
		if g.budget != nil && perm.MaxPerDay > 0 {
			if err := g.budget.TryConsumeAction(ctx, userID, string(a.Type), perm.MaxPerDay, timezone); err != nil {
				if errors.Is(err, ErrQuotaExceeded) {
					rejected = append(rejected, RejectedAction{Type: a.Type, Reason: RejectDailyLimit})
					continue
				}
				g.logger.Warn("action budget check failed", "action", string(a.Type), "error", err)
			}
		}

		a.RequiresConfirmation = perm.RequiresConfirmation
		a.Risk = perm.Risk
		allowed = append(allowed, a)
	}

	if len(rejected) > 0 {
		g.logger.Info("actions gated",
			"user_id", userID,
			"allowed", len(allowed),
			"rejected", len(rejected),
			"whitelist_version", g.whitelist.Version,
		)
	}
	return allowed, rejected
}
