package coach

import (
	"context"
	"time"
)

// Tier is a subscription level controlling quotas and feature access.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one immutable entry in a conversation's append-only log.
type ConversationTurn struct {
	ID             string                 `json:"id"`
	Role           string                 `json:"role"`
	Content        string                 `json:"content"`
	Timestamp      time.Time              `json:"timestamp"`
	DetectedIntent *IntentDetectionResult `json:"detected_intent,omitempty"`
	Response       *ConversationResponse  `json:"response,omitempty"`
}

// GenerationPath identifies which generation path produced a response.
type GenerationPath string

const (
	PathRules  GenerationPath = "rules"
	PathHybrid GenerationPath = "hybrid"
	PathLLM    GenerationPath = "llm"
)

// TurnState tracks a single turn through the processing pipeline.
// Refused and quota-blocked are terminal short-circuits.
type TurnState string

const (
	StateReceived      TurnState = "RECEIVED"
	StateExtracted     TurnState = "EXTRACTED"
	StateSafetyChecked TurnState = "SAFETY_CHECKED"
	StateRefused       TurnState = "REFUSED"
	StateQuotaBlocked  TurnState = "QUOTA_BLOCKED"
	StateGenerating    TurnState = "GENERATING"
	StateGated         TurnState = "GATED"
	StateAssembled     TurnState = "ASSEMBLED"
)

// UIHints carries presentation suggestions for the client. The engine never
// renders anything itself.
type UIHints struct {
	Emphasis         string   `json:"emphasis,omitempty"` // "supportive", "celebratory", "calm"
	SuggestedReplies []string `json:"suggested_replies,omitempty"`
}

// ResponseMeta stamps a response with identity and provenance.
type ResponseMeta struct {
	ResponseID   string         `json:"response_id"`
	Model        GenerationPath `json:"model"`
	GeneratedAt  time.Time      `json:"generated_at"`
	ProcessingMs int64          `json:"processing_ms"`
	State        TurnState      `json:"state"`
	SafetyAction SafetyAction   `json:"safety_action"`
}

// ConversationResponse is the sole structured output handed to the
// presentation layer. Actions are guaranteed to have passed the permission
// gate; a response never carries an action outside the static whitelist.
type ConversationResponse struct {
	Message       string               `json:"message"`
	Diagnosis     string               `json:"diagnosis,omitempty"`
	ShortTermPlan string               `json:"short_term_plan,omitempty"`
	Actions       []ConversationAction `json:"actions"`
	UI            *UIHints             `json:"ui,omitempty"`
	Disclaimer    string               `json:"disclaimer,omitempty"`
	Meta          ResponseMeta         `json:"meta"`
}

// StartRequest opens a conversation for a user.
type StartRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	Tier           Tier   `json:"tier"`
}

// MessageRequest is a single user turn.
type MessageRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Tier           Tier   `json:"tier"`
	Timezone       string `json:"timezone,omitempty"`
}

// Service describes how the coaching engine behaves from the API layer's
// point of view.
type Service interface {
	StartConversation(ctx context.Context, req StartRequest) (*ConversationResponse, error)
	ProcessMessage(ctx context.Context, req MessageRequest) (*ConversationResponse, error)
	GetHistory(ctx context.Context, conversationID string) ([]ConversationTurn, error)
}

// ContextProvider supplies the full local context owned by the session.
// Profile, nutrition and wellness stores sit behind this boundary; the engine
// only ever reads from it.
type ContextProvider interface {
	Snapshot(ctx context.Context, userID, conversationID string) (ConversationContextFull, error)
}
