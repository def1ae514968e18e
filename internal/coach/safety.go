package coach

import (
	"regexp"

	"github.com/lymhealth/coaching-engine/internal/compliance"
	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// SafetyFlag marks a risk signal detected in a user message or profile.
// Declaration order is precedence order: when several flags fire, the action
// of the earliest one wins.
type SafetyFlag string

const (
	FlagSelfHarm             SafetyFlag = "SELF_HARM_SIGNAL"
	FlagExtremeRestriction   SafetyFlag = "EXTREME_RESTRICTION"
	FlagMinorUser            SafetyFlag = "MINOR_USER"
	FlagPregnancyMention     SafetyFlag = "PREGNANCY_MENTION"
	FlagDiabetesMention      SafetyFlag = "DIABETES_MENTION"
	FlagAllergyMention       SafetyFlag = "ALLERGY_MENTION"
	FlagMedicalAdviceRequest SafetyFlag = "MEDICAL_ADVICE_REQUEST"
)

// SafetyAction is what the pipeline must do with the turn.
type SafetyAction string

const (
	ActionAllow          SafetyAction = "allow"
	ActionSafeRewrite    SafetyAction = "safe_rewrite"
	ActionRefuseRedirect SafetyAction = "refuse_redirect"
)

// SafetyCheckResult is the guard's verdict for one turn.
type SafetyCheckResult struct {
	IsAllowed       bool         `json:"is_allowed"`
	Flags           []SafetyFlag `json:"flags,omitempty"`
	Action          SafetyAction `json:"action"`
	RedirectMessage string       `json:"redirect_message,omitempty"`
	Disclaimer      string       `json:"disclaimer,omitempty"`
	// BlockHighRisk constrains downstream action gating even when the turn
	// itself proceeds.
	BlockHighRisk bool `json:"block_high_risk"`
}

// Redirect copy shown in place of a coaching answer. 3114 is the French
// national suicide prevention line.
const (
	selfHarmRedirect = "Je suis vraiment désolé que tu traverses un moment aussi difficile. " +
		"Je ne suis pas équipé pour t'aider sur ce sujet, mais tu n'es pas seul·e. " +
		"Appelle le 3114 (numéro national de prévention du suicide, gratuit, 24h/24) " +
		"ou parles-en à un professionnel de santé dès que possible."
	restrictionRedirect = "Je comprends ton envie d'avancer vite, mais une restriction aussi forte " +
		"peut être dangereuse pour ta santé. Je ne peux pas t'accompagner dans cette direction. " +
		"Parles-en à ton médecin ou à un·e diététicien·ne, et on pourra construire ensemble " +
		"un objectif plus sûr."
)

type safetyDetector struct {
	flag SafetyFlag
	re   *regexp.Regexp
}

// Ordered by flag precedence.
var safetyDetectors = []safetyDetector{
	{FlagSelfHarm, regexp.MustCompile(`(?i)\b(suicid|me\s+faire\s+du\s+mal|m'?automutil|plus\s+envie\s+de\s+vivre|en\s+finir|me\s+tuer|kill\s+myself|self[\s-]?harm|end\s+it\s+all|hurt\s+myself)`)},
	{FlagExtremeRestriction, regexp.MustCompile(`(?i)\b(ne\s+(plus\s+)?(rien\s+)?manger\s+(du\s+tout|pendant)|arr[êe]ter\s+de\s+manger|je[ûu]ne?\s+(total|extr[êe]me|de\s+\d+\s+jours)|(moins|en[\s-]?dessous)\s+de\s+[5-8]\d0\s*(k?cal)|vomir\s+apr[èe]s|laxatifs?\s+pour\s+maigrir|stop\s+eating\s+(completely|entirely)|water\s+fast(ing)?\s+for)`)},
	{FlagMinorUser, regexp.MustCompile(`(?i)\b(j'?ai\s+(1[0-7]|[7-9])\s+ans|i'?m\s+(1[0-7]|[7-9])(\s+years?\s+old)?\b|je\s+suis\s+mineure?|i'?m\s+a\s+minor|au\s+coll[èe]ge|en\s+4[èe]me|en\s+3[èe]me)`)},
	{FlagPregnancyMention, regexp.MustCompile(`(?i)\b(enceinte|grossesse|pregnant|pregnancy|j'?allaite|allaitement|breastfeeding)\b`)},
	{FlagDiabetesMention, regexp.MustCompile(`(?i)\b(diab[èe]te|diab[ée]tique|insuline|glyc[ée]mie|diabet(es|ic)|insulin|blood\s+sugar)\b`)},
	{FlagAllergyMention, regexp.MustCompile(`(?i)\b(allergi(e|que)s?|intol[ée]rance|c[œoe]liaque|anaphyla|allerg(y|ies|ic)|intolerance|celiac)\b`)},
	{FlagMedicalAdviceRequest, regexp.MustCompile(`(?i)\b(m[ée]dicaments?|ordonnance|posologie|dose\s+de|traitement\s+pour|ozempic|wegovy|antid[ée]presseurs?|medication|prescription|dosage|should\s+i\s+take)\b`)},
}

// scanTextFlags reports flags in precedence order. Shared with the extractor
// so detection results carry the same signals the guard acts on.
func scanTextFlags(text string) []SafetyFlag {
	var flags []SafetyFlag
	for _, d := range safetyDetectors {
		if d.re.MatchString(text) {
			flags = append(flags, d.flag)
		}
	}
	return flags
}

// SafetyGuard decides, per turn, whether coaching may proceed and under which
// constraints. It looks at both the message text and the user profile.
type SafetyGuard struct {
	disclaimers *compliance.DisclaimerManager
	logger      *logging.Logger
}

// NewSafetyGuard panics on nil disclaimers, it is a hard dependency.
func NewSafetyGuard(disclaimers *compliance.DisclaimerManager, logger *logging.Logger) *SafetyGuard {
	if disclaimers == nil {
		panic("coach: SafetyGuard requires a DisclaimerManager")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SafetyGuard{disclaimers: disclaimers, logger: logger}
}

// Check runs every detector and resolves the verdict by flag precedence.
// user may be nil when no profile is loaded.
func (g *SafetyGuard) Check(text string, user *UserInfo) SafetyCheckResult {
	flags := scanTextFlags(text)

	if user != nil && user.Age > 0 && user.Age < 18 && !hasFlag(flags, FlagMinorUser) {
		flags = insertFlagOrdered(flags, FlagMinorUser)
	}

	res := SafetyCheckResult{IsAllowed: true, Flags: flags, Action: ActionAllow}
	if len(flags) == 0 {
		return res
	}

	switch flags[0] {
	case FlagSelfHarm:
		res.IsAllowed = false
		res.Action = ActionRefuseRedirect
		res.RedirectMessage = selfHarmRedirect
		res.BlockHighRisk = true
	case FlagExtremeRestriction:
		res.IsAllowed = false
		res.Action = ActionRefuseRedirect
		res.RedirectMessage = restrictionRedirect
		res.BlockHighRisk = true
	case FlagMinorUser, FlagPregnancyMention, FlagDiabetesMention, FlagAllergyMention:
		res.Action = ActionSafeRewrite
		res.Disclaimer = g.disclaimers.ForFlag(string(flags[0]))
		res.BlockHighRisk = true
	case FlagMedicalAdviceRequest:
		res.Action = ActionSafeRewrite
		res.Disclaimer = g.disclaimers.ForFlag(string(flags[0]))
	}

	g.logger.Info("safety check",
		"action", string(res.Action),
		"flags", len(flags),
		"primary_flag", string(flags[0]),
	)
	return res
}

func hasFlag(flags []SafetyFlag, f SafetyFlag) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}

// insertFlagOrdered keeps precedence order when merging a profile-derived flag.
func insertFlagOrdered(flags []SafetyFlag, f SafetyFlag) []SafetyFlag {
	rank := func(x SafetyFlag) int {
		for i, d := range safetyDetectors {
			if d.flag == x {
				return i
			}
		}
		return len(safetyDetectors)
	}
	out := make([]SafetyFlag, 0, len(flags)+1)
	inserted := false
	for _, x := range flags {
		if !inserted && rank(f) < rank(x) {
			out = append(out, f)
			inserted = true
		}
		out = append(out, x)
	}
	if !inserted {
		out = append(out, f)
	}
	return out
}
