package coach

import (
	"context"
	"fmt"
	"strings"
)

// GeneratedDraft is what a generator hands to the gate and assembler.
type GeneratedDraft struct {
	Message       string
	Diagnosis     string
	ShortTermPlan string
	Actions       []ConversationAction
	Path          GenerationPath
	Model         string
	Usage         TokenUsage
}

// Generator produces a response draft from the compact context and detection
// result.
type Generator interface {
	Generate(ctx context.Context, compact ConversationContextCompact, detection IntentDetectionResult) (GeneratedDraft, error)
}

// RulesGenerator is the deterministic terminal generator. It never errors and
// never calls out, so it is always a safe last resort and the only generator
// the free tier gets once its LLM budget is spent.
type RulesGenerator struct{}

// NewRulesGenerator creates a rules generator.
func NewRulesGenerator() *RulesGenerator {
	return &RulesGenerator{}
}

type ruleTemplate struct {
	message   string
	diagnosis string
	plan      string
	actions   []ConversationAction
}

var ruleTemplates = map[UserIntent]ruleTemplate{
	IntentHunger: {
		message:   "La faim entre les repas arrive à tout le monde. Commence par un grand verre d'eau, puis un encas rassasiant : yaourt nature, œuf dur ou une poignée d'amandes.",
		diagnosis: "Faim signalée entre les repas.",
		plan:      "Boire un verre d'eau, prendre un encas protéiné, noter le repas suivant.",
		actions: []ConversationAction{
			{Type: ActionLogMeal, Label: "Noter un encas"},
			{Type: ActionSuggestRecipe, Label: "Voir des idées d'encas"},
		},
	},
	IntentCraving: {
		message:   "Une envie soudaine dure rarement plus de 15 minutes. Occupe-toi les mains, bois quelque chose de chaud, et si l'envie reste, accorde-toi une petite portion sans culpabiliser.",
		diagnosis: "Envie ponctuelle plutôt que faim réelle.",
		plan:      "Attendre 15 minutes, boire une boisson chaude, portion maîtrisée si besoin.",
		actions: []ConversationAction{
			{Type: ActionStartBreathing, Label: "Respirer 2 minutes"},
			{Type: ActionLogMeal, Label: "Noter ce que je mange"},
		},
	},
	IntentStress: {
		message:   "Le stress pousse souvent à grignoter. Prends deux minutes pour respirer profondément, ça aide vraiment à faire redescendre la pression avant de passer à table.",
		diagnosis: "Stress signalé, risque de grignotage émotionnel.",
		plan:      "Exercice de respiration, puis un repas ou encas posé, sans écran.",
		actions: []ConversationAction{
			{Type: ActionStartBreathing, Label: "Lancer la respiration guidée"},
		},
	},
	IntentSleep: {
		message:   "Le sommeil joue directement sur l'appétit du lendemain. Ce soir, vise un coucher régulier, sans écran la dernière demi-heure, et un dîner léger pas trop tardif.",
		diagnosis: "Sommeil perturbé signalé.",
		plan:      "Dîner léger, coucher à heure fixe, routine sans écran.",
		actions: []ConversationAction{
			{Type: ActionStartSleepRoutine, Label: "Démarrer la routine sommeil"},
		},
	},
	IntentFatigue: {
		message:   "La fatigue se travaille autant dans l'assiette que dans le lit. Vérifie que tu manges assez aujourd'hui, hydrate-toi, et si possible accorde-toi une vraie pause.",
		diagnosis: "Fatigue signalée.",
		plan:      "Hydratation, repas complet, pause ou sieste courte si possible.",
		actions: []ConversationAction{
			{Type: ActionStartSleepRoutine, Label: "Préparer ma nuit"},
			{Type: ActionLogMeal, Label: "Vérifier mes repas du jour"},
		},
	},
	IntentProgressCheck: {
		message:   "Bonne idée de faire le point ! Tes statistiques détaillées t'attendent dans l'onglet progression : tendance de poids, repas notés et régularité.",
		diagnosis: "Demande de bilan.",
		plan:      "Consulter la progression et choisir un point à améliorer cette semaine.",
		actions: []ConversationAction{
			{Type: ActionViewProgress, Label: "Voir ma progression"},
		},
	},
	IntentMealIdea: {
		message:   "Voici une base simple : une source de protéines (poulet, œufs, tofu), des légumes de saison et un féculent complet. Je peux te proposer des recettes adaptées à tes objectifs.",
		diagnosis: "Recherche d'idée de repas.",
		plan:      "Choisir une recette équilibrée et la noter après le repas.",
		actions: []ConversationAction{
			{Type: ActionSuggestRecipe, Label: "Me proposer des recettes"},
			{Type: ActionLogMeal, Label: "Noter mon repas"},
		},
	},
	IntentPlanAdjust: {
		message:   "Ajuster ton plan est possible, mais ça mérite d'être fait proprement pour rester efficace et sans danger. On peut revoir tes objectifs caloriques ensemble.",
		diagnosis: "Demande d'ajustement du plan.",
		plan:      "Revoir l'objectif calorique à partir des données des 2 dernières semaines.",
		actions: []ConversationAction{
			{Type: ActionAdjustCalories, Label: "Ajuster mes calories"},
			{Type: ActionViewProgress, Label: "Voir mes données"},
		},
	},
	IntentMotivation: {
		message:   "Les baisses de motivation font partie du chemin, elles ne disent rien de ta valeur. Regarde d'où tu es parti·e : chaque repas noté compte. Fixe-toi un seul petit objectif pour demain.",
		diagnosis: "Baisse de motivation.",
		plan:      "Un seul objectif simple demain, puis constater la reprise.",
		actions: []ConversationAction{
			{Type: ActionViewProgress, Label: "Revoir mon parcours"},
			{Type: ActionSetReminder, Label: "Me rappeler demain"},
		},
	},
	IntentNutritionQuestion: {
		message:   "Bonne question ! En version courte : varie les sources, privilégie les aliments bruts et garde les protéines à chaque repas. Je peux détailler selon ton objectif.",
		diagnosis: "Question nutritionnelle générale.",
		plan:      "Appliquer le principe au prochain repas.",
		actions: []ConversationAction{
			{Type: ActionSuggestRecipe, Label: "Des exemples concrets"},
		},
	},
	IntentGreeting: {
		message:   "Bonjour ! Contente de te voir. Comment tu te sens aujourd'hui ? Faim, énergie, moral : dis-moi tout.",
		diagnosis: "",
		plan:      "",
		actions: []ConversationAction{
			{Type: ActionLogMeal, Label: "Noter mon dernier repas"},
			{Type: ActionViewProgress, Label: "Voir ma progression"},
		},
	},
	IntentUnknown: {
		message:   "Je ne suis pas sûre d'avoir bien compris. Tu peux me parler de ta faim, ton énergie, ton sommeil, ou me demander une idée de repas.",
		diagnosis: "",
		plan:      "",
		actions: []ConversationAction{
			{Type: ActionSuggestRecipe, Label: "Une idée de repas"},
			{Type: ActionViewProgress, Label: "Voir ma progression"},
		},
	},
}

// Generate picks the template for the top intent. Greetings are personalized
// when a first name is present in the user line.
func (g *RulesGenerator) Generate(_ context.Context, compact ConversationContextCompact, detection IntentDetectionResult) (GeneratedDraft, error) {
	top := detection.Top()
	tpl, ok := ruleTemplates[top]
	if !ok {
		tpl = ruleTemplates[IntentUnknown]
	}

	message := tpl.message
	if top == IntentGreeting {
		if name := firstNameFromUserLine(compact.UserLine); name != "" {
			message = strings.Replace(message, "Bonjour !", fmt.Sprintf("Bonjour %s !", name), 1)
		}
	}

	actions := make([]ConversationAction, len(tpl.actions))
	copy(actions, tpl.actions)

	return GeneratedDraft{
		Message:       message,
		Diagnosis:     tpl.diagnosis,
		ShortTermPlan: tpl.plan,
		Actions:       actions,
		Path:          PathRules,
		Model:         "rules",
	}, nil
}

func firstNameFromUserLine(line string) string {
	const prefix = "Prénom: "
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(prefix):]
	if cut := strings.Index(rest, " |"); cut >= 0 {
		rest = rest[:cut]
	}
	return strings.TrimSpace(rest)
}
