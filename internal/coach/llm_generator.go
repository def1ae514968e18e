package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lymhealth/coaching-engine/pkg/logging"
)

const coachSystemPrompt = `Tu es le coach nutritionnel de l'application LYM. Tu réponds en français, avec bienveillance et concision (4 phrases maximum par message).

Règles strictes :
- Tu n'es pas médecin : jamais de diagnostic médical, de médicaments ni de dosages.
- Jamais de conseils de restriction sévère (jeûne prolongé, moins de 1200 kcal).
- Tutoie l'utilisateur.
- Réponds UNIQUEMENT avec un objet JSON de la forme :
{"message": "...", "diagnosis": "...", "short_term_plan": "...", "actions": [{"type": "...", "label": "..."}]}
- "diagnosis" est une lecture en une phrase de la situation, "short_term_plan" une consigne concrète pour les prochaines heures. Les deux peuvent être vides.
- "actions" ne peut contenir que ces types : %s. Propose au plus 3 actions pertinentes.`

// LLMGenerator drafts responses through an LLMClient, typically a Bedrock
// primary with a Gemini fallback behind it. A parseable reply yields the llm
// path; a reply whose actions cannot be parsed still keeps the text and
// borrows deterministic actions, the hybrid path.
type LLMGenerator struct {
	client    LLMClient
	rules     *RulesGenerator
	whitelist *ActionWhitelist
	modelID   string
	maxTokens int32
	logger    *logging.Logger
}

// NewLLMGenerator panics on nil client or whitelist.
func NewLLMGenerator(client LLMClient, whitelist *ActionWhitelist, modelID string, maxTokens int32, logger *logging.Logger) *LLMGenerator {
	if client == nil {
		panic("coach: LLMGenerator requires an LLM client")
	}
	if whitelist == nil {
		panic("coach: LLMGenerator requires a whitelist")
	}
	if maxTokens <= 0 {
		maxTokens = 700
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMGenerator{
		client:    client,
		rules:     NewRulesGenerator(),
		whitelist: whitelist,
		modelID:   modelID,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Generate builds the prompt from the compact context and parses the model's
// JSON reply. Transport errors surface to the caller, who falls back to rules.
func (g *LLMGenerator) Generate(ctx context.Context, compact ConversationContextCompact, detection IntentDetectionResult) (GeneratedDraft, error) {
	req := LLMRequest{
		Model:       g.modelID,
		System:      []string{fmt.Sprintf(coachSystemPrompt, strings.Join(g.actionTypeNames(), ", "))},
		Messages:    buildPromptMessages(compact, detection),
		MaxTokens:   g.maxTokens,
		Temperature: 0.4,
	}

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return GeneratedDraft{}, fmt.Errorf("coach: llm generation failed: %w", err)
	}
	if stoppedAtTokenLimit(resp.StopReason) {
		g.logger.Warn("llm draft hit the token limit",
			"model", g.modelID,
			"stop_reason", resp.StopReason,
			"max_tokens", g.maxTokens,
		)
	}

	draft, parseErr := g.parseDraft(resp.Text)
	draft.Model = g.modelID
	draft.Usage = resp.Usage
	if parseErr != nil {
		return GeneratedDraft{}, parseErr
	}

	if draft.Path == PathHybrid {
		fallback, _ := g.rules.Generate(ctx, compact, detection)
		draft.Actions = fallback.Actions
		g.logger.Warn("llm actions unparseable, using deterministic actions",
			"model", g.modelID,
			"intent", string(detection.Top()),
		)
	}
	return draft, nil
}

type llmDraftPayload struct {
	Message       string `json:"message"`
	Diagnosis     string `json:"diagnosis"`
	ShortTermPlan string `json:"short_term_plan"`
	Actions       []struct {
		Type   string         `json:"type"`
		Label  string         `json:"label"`
		Params map[string]any `json:"params"`
	} `json:"actions"`
}

// parseDraft extracts the JSON object from the model reply, tolerating code
// fences and prose around it.
func (g *LLMGenerator) parseDraft(text string) (GeneratedDraft, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	jsonText := raw
	if !strings.HasPrefix(jsonText, "{") {
		start := strings.Index(jsonText, "{")
		end := strings.LastIndex(jsonText, "}")
		if start >= 0 && end > start {
			jsonText = jsonText[start : end+1]
		}
	}

	var payload llmDraftPayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		// Plain prose is still usable as the message body.
		if raw != "" && !strings.Contains(raw, "{") {
			return GeneratedDraft{Message: raw, Path: PathHybrid}, nil
		}
		return GeneratedDraft{}, fmt.Errorf("coach: llm draft parse: %w", err)
	}
	if strings.TrimSpace(payload.Message) == "" {
		return GeneratedDraft{}, fmt.Errorf("coach: llm draft has no message")
	}

	draft := GeneratedDraft{
		Message:       strings.TrimSpace(payload.Message),
		Diagnosis:     strings.TrimSpace(payload.Diagnosis),
		ShortTermPlan: strings.TrimSpace(payload.ShortTermPlan),
		Path:          PathLLM,
	}

	for _, a := range payload.Actions {
		t := ActionType(strings.ToUpper(strings.TrimSpace(a.Type)))
		if _, ok := g.whitelist.Lookup(t); !ok {
			continue
		}
		draft.Actions = append(draft.Actions, ConversationAction{
			Type:   t,
			Label:  strings.TrimSpace(a.Label),
			Params: a.Params,
		})
	}
	if len(payload.Actions) > 0 && len(draft.Actions) == 0 {
		// Every proposed action was off-list, borrow deterministic ones.
		draft.Path = PathHybrid
	}
	return draft, nil
}

// stoppedAtTokenLimit recognizes the providers' cutoff markers: Bedrock
// reports "max_tokens", Gemini "FinishReasonMaxTokens".
func stoppedAtTokenLimit(reason string) bool {
	r := strings.ToLower(strings.ReplaceAll(reason, "_", ""))
	return strings.Contains(r, "maxtokens") || strings.Contains(r, "length")
}

func (g *LLMGenerator) actionTypeNames() []string {
	names := make([]string, 0, len(g.whitelist.entries))
	for t := range g.whitelist.entries {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

func buildPromptMessages(compact ConversationContextCompact, detection IntentDetectionResult) []ChatMessage {
	var sb strings.Builder
	writeLine := func(s string) {
		if s != "" {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	writeLine(compact.UserLine)
	writeLine(compact.NutritionLine)
	writeLine(compact.WellnessLine)
	writeLine(compact.ProgramLine)
	writeLine(compact.TemporalLine)
	if compact.MemorySummary != "" {
		writeLine("Mémoire: " + compact.MemorySummary)
	}
	if compact.SafetyNote != "" {
		writeLine("Consigne de prudence: " + compact.SafetyNote)
	}
	writeLine("Intention détectée: " + string(detection.Top()))

	messages := []ChatMessage{}
	if ctxBlock := strings.TrimSpace(sb.String()); ctxBlock != "" {
		messages = append(messages, ChatMessage{Role: ChatRoleSystem, Content: "Contexte utilisateur:\n" + ctxBlock})
	}
	for _, turn := range compact.RecentTurns {
		role := ChatRoleUser
		if turn.Role == RoleAssistant {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: compact.CurrentMessage})
	return messages
}
