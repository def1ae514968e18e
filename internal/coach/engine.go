package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lymhealth/coaching-engine/internal/compliance"
	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// EngineDeps carries the engine's collaborators. Fields without an "optional"
// note are required.
type EngineDeps struct {
	Extractor   *Extractor
	Guard       *SafetyGuard
	Quota       *QuotaManager
	Tiers       *TierTable
	Compactor   *Compactor
	Gate        *ActionGate
	Turns       TurnStore
	Context     ContextProvider
	Disclaimers *compliance.DisclaimerManager

	// Generator is the LLM path. Nil means every response takes the rules path.
	Generator Generator
	// Memory feeds summaries into the compact context. Optional.
	Memory MemoryStore
	// Archive mirrors turns to Postgres. Optional.
	Archive *TurnArchive
	// Summarizer re-summarizes conversations in the background. Optional.
	Summarizer *Summarizer

	Logger *logging.Logger
	Tracer trace.Tracer
}

// EngineConfig bounds the engine's behavior.
type EngineConfig struct {
	// GenerationTimeout caps the LLM path; past it the rules path answers.
	GenerationTimeout time.Duration
	// SummaryEvery triggers a background re-summary every N stored turns.
	SummaryEvery int
}

// Engine drives a user message through extraction, safety, quotas, context
// compaction, generation, action gating and assembly. It is the only Service
// implementation.
type Engine struct {
	deps  EngineDeps
	cfg   EngineConfig
	rules *RulesGenerator
	now   func() time.Time
}

var _ Service = (*Engine)(nil)

// NewEngine panics when a required dependency is missing.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Extractor == nil {
		panic("coach: engine requires an extractor")
	}
	if deps.Guard == nil {
		panic("coach: engine requires a safety guard")
	}
	if deps.Quota == nil {
		panic("coach: engine requires a quota manager")
	}
	if deps.Tiers == nil {
		panic("coach: engine requires a tier table")
	}
	if deps.Compactor == nil {
		panic("coach: engine requires a compactor")
	}
	if deps.Gate == nil {
		panic("coach: engine requires an action gate")
	}
	if deps.Turns == nil {
		panic("coach: engine requires a turn store")
	}
	if deps.Context == nil {
		panic("coach: engine requires a context provider")
	}
	if deps.Disclaimers == nil {
		panic("coach: engine requires a disclaimer manager")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("lym.internal.coach.engine")
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 12 * time.Second
	}
	if cfg.SummaryEvery <= 0 {
		cfg.SummaryEvery = 10
	}
	return &Engine{
		deps:  deps,
		cfg:   cfg,
		rules: NewRulesGenerator(),
		now:   time.Now,
	}
}

// StartConversation opens a conversation and returns a greeting. It does not
// consume the daily message budget.
func (e *Engine) StartConversation(ctx context.Context, req StartRequest) (*ConversationResponse, error) {
	if req.UserID == "" {
		return nil, errors.New("coach: user id is required")
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	ctx, span := e.deps.Tracer.Start(ctx, "coach.start_conversation")
	defer span.End()
	start := e.now()

	full := e.snapshot(ctx, req.UserID, conversationID, req.Tier)
	if full.User.FirstName == "" {
		full.User.FirstName = req.FirstName
	}

	detection := IntentDetectionResult{
		TopIntents: []ScoredIntent{{Intent: IntentGreeting, Confidence: 1}},
		Sentiment:  SentimentNeutral,
		Urgency:    UrgencyLow,
	}
	compact, _ := e.deps.Compactor.Compact(full, "", "")
	draft, _ := e.rules.Generate(ctx, compact, detection)

	allowed, _ := e.deps.Gate.Filter(ctx, req.UserID, req.Tier, full.User.Timezone, SafetyCheckResult{IsAllowed: true, Action: ActionAllow}, draft.Actions)

	resp := &ConversationResponse{
		Message: draft.Message,
		Actions: allowed,
		UI:      &UIHints{Emphasis: "calm", SuggestedReplies: suggestedReplies(IntentGreeting)},
		Meta: ResponseMeta{
			ResponseID:   uuid.NewString(),
			Model:        PathRules,
			GeneratedAt:  e.now().UTC(),
			ProcessingMs: time.Since(start).Milliseconds(),
			State:        StateAssembled,
			SafetyAction: ActionAllow,
		},
	}

	turn := ConversationTurn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   resp.Message,
		Timestamp: e.now().UTC(),
		Response:  resp,
	}
	if err := e.deps.Turns.Append(ctx, conversationID, turn); err != nil {
		return nil, fmt.Errorf("coach: failed to persist greeting: %w", err)
	}
	e.archiveTurn(ctx, conversationID, req.UserID, turn)

	span.SetAttributes(attribute.String("lym.coach.conversation_id", conversationID))
	return resp, nil
}

// ProcessMessage runs the full pipeline for one user turn. Refusals and spent
// budgets still yield a response, never an error; only infrastructure
// failures and cancellation surface as errors.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*ConversationResponse, error) {
	if req.UserID == "" || req.ConversationID == "" {
		return nil, errors.New("coach: user id and conversation id are required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("coach: message is empty")
	}

	ctx, span := e.deps.Tracer.Start(ctx, "coach.process_message")
	defer span.End()
	start := e.now()

	full := e.snapshot(ctx, req.UserID, req.ConversationID, req.Tier)
	timezone := req.Timezone
	if timezone == "" {
		timezone = full.User.Timezone
	}

	detection := e.deps.Extractor.Extract(req.Message, lastUserTurn(full.History))
	intentDetectedTotal.WithLabelValues(string(detection.Top())).Inc()

	safety := e.deps.Guard.Check(req.Message, &full.User)
	primaryFlag := ""
	if len(safety.Flags) > 0 {
		primaryFlag = string(safety.Flags[0])
	}
	safetyActionTotal.WithLabelValues(string(safety.Action), primaryFlag).Inc()
	span.SetAttributes(
		attribute.String("lym.coach.intent", string(detection.Top())),
		attribute.String("lym.coach.safety_action", string(safety.Action)),
	)

	userTurn := ConversationTurn{
		ID:             uuid.NewString(),
		Role:           RoleUser,
		Content:        req.Message,
		Timestamp:      e.now().UTC(),
		DetectedIntent: &detection,
	}

	// Refusal comes before any budget is spent.
	if safety.Action == ActionRefuseRedirect {
		resp := e.assembleTerminal(safety.RedirectMessage, StateRefused, safety, start)
		return e.finish(ctx, req, userTurn, resp, len(full.History))
	}

	if err := e.deps.Quota.TryConsume(ctx, req.UserID, req.Tier, QuotaMessages, timezone); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			quotaBlockedTotal.WithLabelValues(string(req.Tier), string(QuotaMessages)).Inc()
			resp := e.quotaBlockedResponse(ctx, req, timezone, safety, start)
			return e.finish(ctx, req, userTurn, resp, len(full.History))
		}
		e.deps.Logger.Warn("message quota check failed, allowing", "error", err, "user_id", req.UserID)
	}

	if e.deps.Memory != nil {
		if memory, err := e.deps.Memory.Load(ctx, req.ConversationID); err != nil {
			e.deps.Logger.Warn("failed to load conversation memory", "error", err)
		} else if memory != nil {
			full.MemorySummary = memory.Summary
		}
	}

	compact, overflowed := e.deps.Compactor.Compact(full, req.Message, safetyNote(safety))
	if overflowed {
		e.deps.Logger.Debug("context compaction dropped content", "conversation_id", req.ConversationID)
	}

	draft := e.generate(ctx, req, timezone, compact, detection)

	allowed, rejected := e.deps.Gate.Filter(ctx, req.UserID, req.Tier, timezone, safety, draft.Actions)
	for _, r := range rejected {
		actionsRejectedTotal.WithLabelValues(r.Reason).Inc()
	}

	resp := e.assemble(draft, allowed, safety, detection, start)

	// A caller that already gave up gets nothing persisted and no refund.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return e.finish(ctx, req, userTurn, resp, len(full.History))
}

// GetHistory returns the stored turns, oldest first.
func (e *Engine) GetHistory(ctx context.Context, conversationID string) ([]ConversationTurn, error) {
	if conversationID == "" {
		return nil, errors.New("coach: conversation id is required")
	}
	return e.deps.Turns.Load(ctx, conversationID)
}

// generate runs the LLM path when the tier and budget allow it, and falls
// back to the deterministic path on timeout, transport failure or a blocked
// draft.
func (e *Engine) generate(ctx context.Context, req MessageRequest, timezone string, compact ConversationContextCompact, detection IntentDetectionResult) GeneratedDraft {
	genStart := e.now()

	draft, ok := e.tryLLM(ctx, req, timezone, compact, detection)
	if !ok {
		draft, _ = e.rules.Generate(ctx, compact, detection)
		generationLatency.WithLabelValues(string(PathRules), "ok").Observe(time.Since(genStart).Seconds())
		return draft
	}

	guard := ScanDraft(draft.Message)
	if guard.Blocked {
		e.deps.Logger.Warn("llm draft blocked by output guard",
			"reasons", strings.Join(guard.Reasons, ","),
			"conversation_id", req.ConversationID,
		)
		draft, _ = e.rules.Generate(ctx, compact, detection)
		generationLatency.WithLabelValues(string(PathRules), "guard_blocked").Observe(time.Since(genStart).Seconds())
		return draft
	}
	draft.Message = guard.Sanitized

	generationLatency.WithLabelValues(string(draft.Path), "ok").Observe(time.Since(genStart).Seconds())
	if draft.Usage.InputTokens > 0 {
		llmTokensTotal.WithLabelValues(draft.Model, "input").Add(float64(draft.Usage.InputTokens))
	}
	if draft.Usage.OutputTokens > 0 {
		llmTokensTotal.WithLabelValues(draft.Model, "output").Add(float64(draft.Usage.OutputTokens))
	}
	return draft
}

func (e *Engine) tryLLM(ctx context.Context, req MessageRequest, timezone string, compact ConversationContextCompact, detection IntentDetectionResult) (GeneratedDraft, bool) {
	if e.deps.Generator == nil {
		return GeneratedDraft{}, false
	}
	if !e.deps.Tiers.Lookup(req.Tier).HasFeature("llm_generation") {
		return GeneratedDraft{}, false
	}
	if err := e.deps.Quota.TryConsume(ctx, req.UserID, req.Tier, QuotaLLMCalls, timezone); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			quotaBlockedTotal.WithLabelValues(string(req.Tier), string(QuotaLLMCalls)).Inc()
		} else {
			e.deps.Logger.Warn("llm quota check failed, using rules", "error", err)
		}
		return GeneratedDraft{}, false
	}

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	llmStart := time.Now()
	draft, err := e.deps.Generator.Generate(genCtx, compact, detection)
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		generationLatency.WithLabelValues(string(PathLLM), status).Observe(time.Since(llmStart).Seconds())
		e.deps.Logger.Warn("llm generation failed, using rules",
			"error", err,
			"status", status,
			"conversation_id", req.ConversationID,
		)
		return GeneratedDraft{}, false
	}
	return draft, true
}

func (e *Engine) assemble(draft GeneratedDraft, actions []ConversationAction, safety SafetyCheckResult, detection IntentDetectionResult, start time.Time) *ConversationResponse {
	if actions == nil {
		actions = []ConversationAction{}
	}
	resp := &ConversationResponse{
		Message:       draft.Message,
		Diagnosis:     draft.Diagnosis,
		ShortTermPlan: draft.ShortTermPlan,
		Actions:       actions,
		UI: &UIHints{
			Emphasis:         emphasisFor(detection),
			SuggestedReplies: suggestedReplies(detection.Top()),
		},
		Disclaimer: safety.Disclaimer,
		Meta: ResponseMeta{
			ResponseID:   uuid.NewString(),
			Model:        draft.Path,
			GeneratedAt:  e.now().UTC(),
			ProcessingMs: time.Since(start).Milliseconds(),
			State:        StateAssembled,
			SafetyAction: safety.Action,
		},
	}
	if resp.Disclaimer != "" {
		resp.Message = e.deps.Disclaimers.Append(resp.Message, resp.Disclaimer)
	}
	return resp
}

// assembleTerminal builds the minimal response for refused turns.
func (e *Engine) assembleTerminal(message string, state TurnState, safety SafetyCheckResult, start time.Time) *ConversationResponse {
	return &ConversationResponse{
		Message: message,
		Actions: []ConversationAction{},
		UI:      &UIHints{Emphasis: "supportive"},
		Meta: ResponseMeta{
			ResponseID:   uuid.NewString(),
			Model:        PathRules,
			GeneratedAt:  e.now().UTC(),
			ProcessingMs: time.Since(start).Milliseconds(),
			State:        state,
			SafetyAction: safety.Action,
		},
	}
}

func (e *Engine) quotaBlockedResponse(ctx context.Context, req MessageRequest, timezone string, safety SafetyCheckResult, start time.Time) *ConversationResponse {
	message := "Tu as utilisé tous tes messages coaching pour aujourd'hui. On se retrouve demain !"
	proposed := []ConversationAction{}
	if req.Tier != TierPremium {
		message = "Tu as utilisé tous tes messages coaching pour aujourd'hui. Passe en Premium pour continuer, ou on se retrouve demain !"
		proposed = append(proposed, ConversationAction{Type: ActionUpgradeTier, Label: "Découvrir Premium"})
	}
	allowed, _ := e.deps.Gate.Filter(ctx, req.UserID, req.Tier, timezone, safety, proposed)
	if allowed == nil {
		allowed = []ConversationAction{}
	}

	return &ConversationResponse{
		Message: message,
		Actions: allowed,
		UI:      &UIHints{Emphasis: "calm"},
		Meta: ResponseMeta{
			ResponseID:   uuid.NewString(),
			Model:        PathRules,
			GeneratedAt:  e.now().UTC(),
			ProcessingMs: time.Since(start).Milliseconds(),
			State:        StateQuotaBlocked,
			SafetyAction: safety.Action,
		},
	}
}

// finish persists both turns, mirrors them to the archive, updates metrics
// and schedules a re-summary when due.
func (e *Engine) finish(ctx context.Context, req MessageRequest, userTurn ConversationTurn, resp *ConversationResponse, priorTurns int) (*ConversationResponse, error) {
	assistantTurn := ConversationTurn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   resp.Message,
		Timestamp: e.now().UTC(),
		Response:  resp,
	}

	if err := e.deps.Turns.Append(ctx, req.ConversationID, userTurn); err != nil {
		return nil, fmt.Errorf("coach: failed to persist user turn: %w", err)
	}
	if err := e.deps.Turns.Append(ctx, req.ConversationID, assistantTurn); err != nil {
		return nil, fmt.Errorf("coach: failed to persist assistant turn: %w", err)
	}
	e.archiveTurn(ctx, req.ConversationID, req.UserID, userTurn)
	e.archiveTurn(ctx, req.ConversationID, req.UserID, assistantTurn)

	messagesProcessedTotal.WithLabelValues(string(req.Tier), string(resp.Meta.State)).Inc()

	if e.deps.Summarizer != nil {
		total := priorTurns + 2
		if total%e.cfg.SummaryEvery == 0 {
			if err := e.deps.Summarizer.Enqueue(ctx, req.ConversationID, req.UserID); err != nil {
				e.deps.Logger.Warn("failed to enqueue summary job", "error", err)
			}
		}
	}

	e.deps.Logger.Info("message processed",
		"conversation_id", req.ConversationID,
		"user_id", req.UserID,
		"tier", string(req.Tier),
		"state", string(resp.Meta.State),
		"path", string(resp.Meta.Model),
		"processing_ms", resp.Meta.ProcessingMs,
	)
	return resp, nil
}

func (e *Engine) snapshot(ctx context.Context, userID, conversationID string, tier Tier) ConversationContextFull {
	full, err := e.deps.Context.Snapshot(ctx, userID, conversationID)
	if err != nil {
		e.deps.Logger.Warn("context snapshot failed, degrading to minimal context",
			"error", err,
			"user_id", userID,
		)
		full = ConversationContextFull{}
	}
	if full.User.UserID == "" {
		full.User.UserID = userID
	}
	if full.User.Tier == "" {
		full.User.Tier = tier
	}
	if len(full.History) == 0 {
		if turns, loadErr := e.deps.Turns.Load(ctx, conversationID); loadErr == nil {
			full.History = turns
		}
	}
	return full
}

func (e *Engine) archiveTurn(ctx context.Context, conversationID, userID string, turn ConversationTurn) {
	if e.deps.Archive == nil {
		return
	}
	if err := e.deps.Archive.Record(ctx, conversationID, userID, turn); err != nil {
		e.deps.Logger.Warn("failed to archive turn", "error", err, "turn_id", turn.ID)
	}
}

func lastUserTurn(history []ConversationTurn) *ConversationTurn {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return &history[i]
		}
	}
	return nil
}

func safetyNote(safety SafetyCheckResult) string {
	if safety.Action != ActionSafeRewrite || len(safety.Flags) == 0 {
		return ""
	}
	flags := make([]string, 0, len(safety.Flags))
	for _, f := range safety.Flags {
		flags = append(flags, string(f))
	}
	return "Signaux détectés: " + strings.Join(flags, ", ") + ". Rester générique, aucun conseil médical ni restriction."
}

func emphasisFor(detection IntentDetectionResult) string {
	switch {
	case detection.Sentiment == SentimentNegative || detection.Has(IntentMotivation):
		return "supportive"
	case detection.Sentiment == SentimentPositive:
		return "celebratory"
	default:
		return "calm"
	}
}

var intentReplies = map[UserIntent][]string{
	IntentGreeting:      {"J'ai faim", "Une idée de repas ?", "Comment je progresse ?"},
	IntentHunger:        {"Une idée d'encas ?", "Je note mon repas"},
	IntentCraving:       {"Je lance la respiration", "Une alternative sucrée ?"},
	IntentStress:        {"Je lance la respiration", "Un conseil pour ce soir ?"},
	IntentSleep:         {"Démarrer la routine sommeil", "Pourquoi je dors mal ?"},
	IntentFatigue:       {"Que manger pour l'énergie ?", "Préparer ma nuit"},
	IntentProgressCheck: {"Voir le détail", "Un objectif pour la semaine ?"},
	IntentMealIdea:      {"Plutôt rapide", "Plutôt végétarien"},
	IntentPlanAdjust:    {"Voir mes données", "Pourquoi cet objectif ?"},
	IntentMotivation:    {"Un petit objectif pour demain", "Voir mon parcours"},
}

func suggestedReplies(intent UserIntent) []string {
	return intentReplies[intent]
}
