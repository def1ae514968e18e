package coach

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// UserIntent is the closed set of purposes a user message can be classified
// into. No intent outside this enumeration is ever produced.
type UserIntent string

const (
	IntentHunger            UserIntent = "HUNGER"
	IntentCraving           UserIntent = "CRAVING"
	IntentStress            UserIntent = "STRESS"
	IntentSleep             UserIntent = "SLEEP"
	IntentFatigue           UserIntent = "FATIGUE"
	IntentProgressCheck     UserIntent = "PROGRESS_CHECK"
	IntentMealIdea          UserIntent = "MEAL_IDEA"
	IntentPlanAdjust        UserIntent = "PLAN_ADJUST"
	IntentMotivation        UserIntent = "MOTIVATION"
	IntentNutritionQuestion UserIntent = "NUTRITION_QUESTION"
	IntentGreeting          UserIntent = "GREETING"
	IntentUnknown           UserIntent = "UNKNOWN"
)

// intentPriority breaks confidence ties: lower rank wins. Wellbeing-relevant
// intents outrank informational ones.
var intentPriority = map[UserIntent]int{
	IntentStress:            0,
	IntentSleep:             1,
	IntentFatigue:           2,
	IntentHunger:            3,
	IntentCraving:           4,
	IntentPlanAdjust:        5,
	IntentMealIdea:          6,
	IntentProgressCheck:     7,
	IntentMotivation:        8,
	IntentNutritionQuestion: 9,
	IntentGreeting:          10,
	IntentUnknown:           11,
}

// Sentiment is a coarse discrete classification, not a score.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Urgency is a coarse discrete classification of how pressing the message is.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// EntityType is the closed set of entity kinds the extractor recognizes.
type EntityType string

const (
	EntityFood      EntityType = "FOOD"
	EntityQuantity  EntityType = "QUANTITY"
	EntityDuration  EntityType = "DURATION"
	EntityTimeOfDay EntityType = "TIME_OF_DAY"
	EntityAge       EntityType = "AGE"
)

// Entity is a normalized span extracted from the raw message. The span is
// [Start, End) in bytes of the original text.
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Normalized string     `json:"normalized"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
}

// ScoredIntent pairs an intent with its confidence in [0,1].
type ScoredIntent struct {
	Intent     UserIntent `json:"intent"`
	Confidence float64    `json:"confidence"`
}

// IntentDetectionResult is produced fresh for every user turn.
// TopIntents always holds between 1 and 3 entries, sorted by descending
// confidence with ties broken by intentPriority.
type IntentDetectionResult struct {
	TopIntents  []ScoredIntent `json:"top_intents"`
	Entities    []Entity       `json:"entities,omitempty"`
	Sentiment   Sentiment      `json:"sentiment"`
	Urgency     Urgency        `json:"urgency"`
	SafetyFlags []SafetyFlag   `json:"safety_flags,omitempty"`
}

// Top returns the highest-ranked intent.
func (r IntentDetectionResult) Top() UserIntent {
	if len(r.TopIntents) == 0 {
		return IntentUnknown
	}
	return r.TopIntents[0].Intent
}

// Has reports whether the given intent appears anywhere in TopIntents.
func (r IntentDetectionResult) Has(intent UserIntent) bool {
	for _, s := range r.TopIntents {
		if s.Intent == intent {
			return true
		}
	}
	return false
}

type intentPattern struct {
	re     *regexp.Regexp
	weight float64
}

// Intent detectors cover both French and English phrasings; the app's user
// base writes mostly in French.
var intentPatterns = map[UserIntent][]intentPattern{
	IntentHunger: {
		{regexp.MustCompile(`(?i)\b(faim|affam[ée]e?|hungry|starving)\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(creux|ventre\s+vide|estomac\s+vide|empty\s+stomach)\b`), 0.7},
	},
	IntentCraving: {
		{regexp.MustCompile(`(?i)\b(envie\s+de\s+(sucre|sucr[ée]|chocolat|grignoter)|craving|fringale)\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(grignot(e|er|age)|snack\s+attack)\b`), 0.75},
	},
	IntentStress: {
		{regexp.MustCompile(`(?i)\b(stress[ée]?e?|stresse|anxieux|anxieuse|anxi[ée]t[ée]|anxious|overwhelmed|d[ée]bord[ée]e?)\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(tendu|nerveux|nerveuse|sous\s+pression|under\s+pressure)\b`), 0.7},
	},
	IntentSleep: {
		{regexp.MustCompile(`(?i)\b(dormi|sommeil|insomnie|dormir|sleep|slept|insomnia)\b`), 0.85},
		{regexp.MustCompile(`(?i)\b(nuit\s+blanche|mal\s+dormi|r[ée]veill[ée]e?)\b`), 0.8},
	},
	IntentFatigue: {
		{regexp.MustCompile(`(?i)\b(fatigu[ée]e?|[ée]puis[ée]e?|crev[ée]e?|exhausted|tired|drained)\b`), 0.85},
		{regexp.MustCompile(`(?i)\b(sans\s+[ée]nergie|no\s+energy|[àa]\s+plat)\b`), 0.75},
	},
	IntentProgressCheck: {
		{regexp.MustCompile(`(?i)\b(progr[èe]s|r[ée]sultats?|o[ùu]\s+j'?en\s+suis|progress|results?|how\s+am\s+i\s+doing)\b`), 0.85},
		{regexp.MustCompile(`(?i)\b(bilan|statistiques?|stats|r[ée]capitulatif)\b`), 0.75},
	},
	IntentMealIdea: {
		{regexp.MustCompile(`(?i)\b(id[ée]e\s+(de\s+)?(repas|recette|d[îi]ner|d[ée]jeuner)|recette|quoi\s+manger|what\s+(to|should\s+i)\s+eat|meal\s+idea|recipe)\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(je\s+mange\s+quoi|suggestion\s+de\s+repas)\b`), 0.85},
	},
	IntentPlanAdjust: {
		{regexp.MustCompile(`(?i)\b(ajuster?|modifier|changer|augmenter|baisser|r[ée]duire)\b.{0,30}\b(calories?|objectifs?|macros?|plan)\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(adjust|change|increase|lower|reduce)\b.{0,30}\b(calories?|goals?|macros?|plan)\b`), 0.9},
	},
	IntentMotivation: {
		{regexp.MustCompile(`(?i)\b(motivation|motiv[ée]e?|d[ée]courag[ée]e?|abandonner|give\s+up|demotivated|j'?y\s+arrive\s+pas)\b`), 0.85},
		{regexp.MustCompile(`(?i)\b(encourage|remotiv|keep\s+going)\b`), 0.7},
	},
	IntentNutritionQuestion: {
		{regexp.MustCompile(`(?i)\b(prot[ée]ines?|glucides?|lipides?|fibres?|vitamines?|fer|calcium|proteins?|carbs?|fiber|vitamins?)\b`), 0.65},
		{regexp.MustCompile(`(?i)(c'?est\s+quoi|pourquoi|comment|combien\s+de)\b.{0,40}\b(manger|nutrition|aliments?|calories?)`), 0.7},
	},
	IntentGreeting: {
		{regexp.MustCompile(`(?i)^\s*(salut|bonjour|bonsoir|coucou|hello|hi|hey)\b[\s!.,]*$`), 0.95},
	},
}

// unknownConfidence is the fallback when no detector fires.
const unknownConfidence = 0.2

// carryOverConfidence is applied when a short continuation inherits the prior
// turn's intent.
const carryOverConfidence = 0.5

var continuationRE = regexp.MustCompile(`(?i)^\s*(oui|ouais|non|ok|d'accord|et\s+(apr[èe]s|ensuite|alors)|pourquoi|encore|yes|no|why|and\s+then)\s*\??\s*$`)

// Sentiment lexicons. Word presence counts; the larger side wins.
var (
	negativeWordsRE = regexp.MustCompile(`(?i)\b(stress[ée]?e?|stresse|fatigu[ée]e?|[ée]puis[ée]e?|triste|mal|dur|difficile|d[ée]courag[ée]e?|marre|angoiss[ée]e?|anxieux|anxieuse|nul|horrible|craqu[ée]|échec|echec|bad|hard|sad|awful|terrible|tired|exhausted|struggling)\b`)
	positiveWordsRE = regexp.MustCompile(`(?i)\b(super|g[ée]nial|top|content[e]?|fier|fi[èe]re|heureux|heureuse|bien|mieux|bravo|r[ée]ussi|great|happy|proud|good|better|awesome|amazing)\b`)
	// "super" as an intensifier ("super faim") is not a positive signal.
	intensifierSuperRE = regexp.MustCompile(`(?i)\bsuper\s+(faim|fatigu[ée]e?|stress[ée]?e?|mal|dur)\b`)
)

var urgencyMarkersRE = regexp.MustCompile(`(?i)(\b([ée]norm[ée]ment|vraiment|tellement|urgent|urgence|tr[èe]s\s+vite|au\s+secours|help|asap|really|so\s+much)\b|!{2,})`)

type entityRecognizer struct {
	typ       EntityType
	re        *regexp.Regexp
	normalize func(string) string
}

var entityRecognizers = []entityRecognizer{
	{EntityQuantity, regexp.MustCompile(`(?i)\b\d+([.,]\d+)?\s*(g|gr|grammes?|kg|kcal|cal(ories)?|ml|cl|l)\b`), normalizeSpaces},
	{EntityDuration, regexp.MustCompile(`(?i)\b\d+\s*(h(eures?)?|min(utes?)?|jours?|semaines?|mois|hours?|minutes?|days?|weeks?)\b`), normalizeSpaces},
	{EntityAge, regexp.MustCompile(`(?i)\bj'?ai\s+\d{1,2}\s+ans\b|\bi'?m\s+\d{1,2}(\s+years?\s+old)?\b`), normalizeSpaces},
	{EntityTimeOfDay, regexp.MustCompile(`(?i)\b(ce\s+)?(matin|midi|apr[èe]s-midi|soir|nuit|morning|noon|afternoon|evening|night)\b`), strings.ToLower},
	{EntityFood, regexp.MustCompile(`(?i)\b(chocolat|pain|p[âa]tes|riz|poulet|poisson|l[ée]gumes?|fruits?|fromage|yaourt|salade|soupe|pizza|burger|g[âa]teau|sucre|caf[ée]|chocolate|bread|pasta|rice|chicken|fish|vegetables?|cheese|yogurt|cake|sugar|coffee)\b`), strings.ToLower},
}

func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Extractor turns raw text into ranked intents, entities and coarse
// sentiment/urgency signals. It never errors: unparseable input yields a
// low-confidence UNKNOWN intent.
type Extractor struct {
	logger *logging.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{logger: logger}
}

// Extract classifies a message. prev, when non-nil, enables co-reference for
// short continuations ("oui", "et après ?") which inherit the prior turn's
// top intent at reduced confidence.
func (e *Extractor) Extract(text string, prev *ConversationTurn) IntentDetectionResult {
	trimmed := strings.TrimSpace(text)

	scores := make(map[UserIntent]float64)
	for intent, patterns := range intentPatterns {
		for _, p := range patterns {
			if p.re.MatchString(trimmed) {
				if p.weight > scores[intent] {
					scores[intent] = p.weight
				}
			}
		}
	}

	if len(scores) == 0 && prev != nil && prev.DetectedIntent != nil && continuationRE.MatchString(trimmed) {
		inherited := prev.DetectedIntent.Top()
		if inherited != IntentUnknown {
			scores[inherited] = carryOverConfidence
		}
	}

	ranked := make([]ScoredIntent, 0, len(scores))
	for intent, conf := range scores {
		ranked = append(ranked, ScoredIntent{Intent: intent, Confidence: conf})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return intentPriority[ranked[i].Intent] < intentPriority[ranked[j].Intent]
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	if len(ranked) == 0 {
		ranked = []ScoredIntent{{Intent: IntentUnknown, Confidence: unknownConfidence}}
	}

	result := IntentDetectionResult{
		TopIntents: ranked,
		Entities:   extractEntities(trimmed),
		Sentiment:  classifySentiment(trimmed),
		Urgency:    classifyUrgency(trimmed, ranked[0].Intent),
	}
	result.SafetyFlags = scanTextFlags(trimmed)

	e.logger.Debug("intent extracted",
		"top_intent", string(result.Top()),
		"intent_count", len(result.TopIntents),
		"sentiment", string(result.Sentiment),
		"urgency", string(result.Urgency),
		"safety_flags", len(result.SafetyFlags),
	)
	return result
}

// extractEntities collects spans from every recognizer and resolves overlaps
// by preferring the longer match.
func extractEntities(text string) []Entity {
	var all []Entity
	for _, rec := range entityRecognizers {
		for _, span := range rec.re.FindAllStringIndex(text, -1) {
			raw := text[span[0]:span[1]]
			all = append(all, Entity{
				Type:       rec.typ,
				Value:      raw,
				Normalized: rec.normalize(raw),
				Start:      span[0],
				End:        span[1],
			})
		}
	}
	if len(all) < 2 {
		return all
	}

	// Longer spans win overlaps; among equal lengths, the earlier start wins.
	sort.SliceStable(all, func(i, j int) bool {
		li, lj := all[i].End-all[i].Start, all[j].End-all[j].Start
		if li != lj {
			return li > lj
		}
		return all[i].Start < all[j].Start
	})
	kept := make([]Entity, 0, len(all))
	for _, cand := range all {
		overlaps := false
		for _, k := range kept {
			if cand.Start < k.End && k.Start < cand.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

func classifySentiment(text string) Sentiment {
	neg := len(negativeWordsRE.FindAllString(text, -1))
	pos := len(positiveWordsRE.FindAllString(text, -1))
	pos -= len(intensifierSuperRE.FindAllString(text, -1))
	switch {
	case neg > pos:
		return SentimentNegative
	case pos > neg && pos > 0:
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

func classifyUrgency(text string, top UserIntent) Urgency {
	if urgencyMarkersRE.MatchString(text) {
		return UrgencyHigh
	}
	if top == IntentGreeting || top == IntentUnknown {
		return UrgencyLow
	}
	return UrgencyNormal
}
