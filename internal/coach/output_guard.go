package coach

import (
	"regexp"
	"strings"
)

// OutputGuardResult contains the result of scanning a draft coach reply.
type OutputGuardResult struct {
	// Blocked is true when the draft must not be sent and the caller should
	// fall back to a deterministic reply.
	Blocked bool
	// Reasons lists the detection signals that fired.
	Reasons []string
	// Sanitized is the cleaned reply when the draft was salvageable.
	Sanitized string
}

type outputRiskPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool // if true, block entirely; if false, try to sanitize
}

var outputRiskPatterns = []outputRiskPattern{
	// Medical overreach the coach must never produce.
	{regexp.MustCompile(`(?i)\b(prends?|prescri[st]|take)\b.{0,40}\b(mg|milligrammes?|comprim[ée]s?|g[ée]lules?|pills?|tablets?)\b`), "risk:medication_dosage", true},
	{regexp.MustCompile(`(?i)\b(ozempic|wegovy|saxenda|orlistat|sibutramine)\b`), "risk:weight_loss_drug", true},
	{regexp.MustCompile(`(?i)\b(tu\s+as|vous\s+avez|you\s+have)\b.{0,30}\b(diab[èe]te|carence|trouble|anorexie|boulimie|deficiency|disorder)\b`), "risk:diagnosis_claim", true},

	// Dangerous nutrition guidance.
	{regexp.MustCompile(`(?i)\b(je[ûu]ne?\s+de\s+\d+\s+jours|ne\s+mange\s+rien|saute\s+tous?\s+les|moins\s+de\s+[5-9]\d0\s*k?cal|skip\s+all\s+meals|eat\s+nothing)\b`), "risk:extreme_restriction", true},
	{regexp.MustCompile(`(?i)\b(laxatifs?|vomir|purge|laxatives?|purging)\b`), "risk:purge_reference", true},

	// Identity and stack disclosures.
	{regexp.MustCompile(`(?i)\b(je\s+suis|i('m|\s+am))\s+(une?\s+)?(IA|intelligence\s+artificielle|AI|language\s+model|LLM|chatbot)\b`), "risk:ai_identity", false},
	{regexp.MustCompile(`(?i)(powered\s+by|propuls[ée]\s+par|running\s+on)\s+(Claude|GPT|Gemini|Bedrock|AWS|Anthropic|OpenAI|Google)`), "risk:tech_stack", true},
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token)\s*[:=]\s*\S+`), "risk:credential", true},
	{regexp.MustCompile(`(?i)(postgres|mysql|redis|mongodb)://\S+`), "risk:database_url", true},

	// Other users' data must never surface.
	{regexp.MustCompile(`(?i)(autre\s+utilisateur|other\s+user'?s?)\s+(pr[ée]nom|poids|repas|donn[ée]es|name|weight|meals|data)`), "risk:other_user_ref", true},
}

// ScanDraft checks a draft reply for content that must not reach the user.
func ScanDraft(reply string) OutputGuardResult {
	if strings.TrimSpace(reply) == "" {
		return OutputGuardResult{Sanitized: reply}
	}

	var reasons []string
	shouldBlock := false

	for _, p := range outputRiskPatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
			if p.block {
				shouldBlock = true
			}
		}
	}

	if len(reasons) == 0 {
		return OutputGuardResult{Sanitized: reply}
	}

	result := OutputGuardResult{Reasons: reasons}
	if shouldBlock {
		result.Blocked = true
		return result
	}
	result.Sanitized = sanitizeDraft(reply)
	return result
}

// sanitizeDraft removes AI identity sentences while keeping the advice.
func sanitizeDraft(reply string) string {
	cleaned := regexp.MustCompile(`(?i)[^.!?]*\b(je\s+suis|i('m|\s+am))\s+(une?\s+)?(IA|intelligence\s+artificielle|AI|language\s+model|LLM|chatbot)\b[^.!?]*[.!?]?\s*`).ReplaceAllString(reply, "")
	return strings.TrimSpace(cleaned)
}
