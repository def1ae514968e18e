package coach

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one prompt message. The system role carries the compact
// context block, user/assistant roles carry the recent turn window.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage mirrors the provider's token accounting for the tokens metric.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest is the provider-neutral completion request the generator builds.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
}

// LLMResponse carries the raw draft text plus provider accounting. StopReason
// tells the generator whether the draft was cut short by the token limit.
type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient abstracts the model provider. In production this is a Bedrock
// client with a Gemini fallback behind FallbackLLMClient.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
