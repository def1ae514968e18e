package coach

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// UserInfo is the profile slice relevant to coaching.
type UserInfo struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	Age       int    `json:"age,omitempty"`
	Tier      Tier   `json:"tier"`
	Timezone  string `json:"timezone,omitempty"`
	Goal      string `json:"goal,omitempty"`
}

// NutritionSnapshot is today's intake versus targets.
type NutritionSnapshot struct {
	CaloriesConsumed int      `json:"calories_consumed"`
	CaloriesTarget   int      `json:"calories_target"`
	ProteinGrams     int      `json:"protein_grams"`
	ProteinTarget    int      `json:"protein_target"`
	MealsLogged      int      `json:"meals_logged"`
	LastMeal         string   `json:"last_meal,omitempty"`
	LastMealAt       string   `json:"last_meal_at,omitempty"`
	RecentFoods      []string `json:"recent_foods,omitempty"`
}

// WellnessSnapshot carries recent sleep, stress and energy self-reports.
type WellnessSnapshot struct {
	SleepHoursLastNight float64 `json:"sleep_hours_last_night,omitempty"`
	SleepQuality        string  `json:"sleep_quality,omitempty"`
	StressLevel         string  `json:"stress_level,omitempty"`
	EnergyLevel         string  `json:"energy_level,omitempty"`
}

// ProgramState describes where the user is in their coaching program.
type ProgramState struct {
	ProgramName  string `json:"program_name,omitempty"`
	WeekNumber   int    `json:"week_number,omitempty"`
	CurrentPhase string `json:"current_phase,omitempty"`
	Adherence7d  int    `json:"adherence_7d,omitempty"`
}

// TemporalSignals situates the message in the user's local time.
type TemporalSignals struct {
	LocalTime    time.Time `json:"local_time"`
	DayPart      string    `json:"day_part,omitempty"`
	IsWeekend    bool      `json:"is_weekend"`
	DaysSinceUse int       `json:"days_since_use,omitempty"`
}

// ConversationContextFull is everything known about the user and conversation
// before compaction. It is assembled by a ContextProvider.
type ConversationContextFull struct {
	User          UserInfo           `json:"user"`
	Nutrition     *NutritionSnapshot `json:"nutrition,omitempty"`
	Wellness      *WellnessSnapshot  `json:"wellness,omitempty"`
	Program       *ProgramState      `json:"program,omitempty"`
	Temporal      *TemporalSignals   `json:"temporal,omitempty"`
	History       []ConversationTurn `json:"history,omitempty"`
	MemorySummary string             `json:"memory_summary,omitempty"`
}

// CompactTurn is a history turn reduced to what generation needs.
type CompactTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationContextCompact is the bounded payload handed to the generator.
// Every field is plain text so Size is a faithful budget measure.
type ConversationContextCompact struct {
	UserLine       string        `json:"user_line"`
	NutritionLine  string        `json:"nutrition_line,omitempty"`
	WellnessLine   string        `json:"wellness_line,omitempty"`
	ProgramLine    string        `json:"program_line,omitempty"`
	TemporalLine   string        `json:"temporal_line,omitempty"`
	MemorySummary  string        `json:"memory_summary,omitempty"`
	RecentTurns    []CompactTurn `json:"recent_turns,omitempty"`
	CurrentMessage string        `json:"current_message"`
	SafetyNote     string        `json:"safety_note,omitempty"`
}

// Size returns the character count of every retained field.
func (c ConversationContextCompact) Size() int {
	n := len(c.UserLine) + len(c.NutritionLine) + len(c.WellnessLine) +
		len(c.ProgramLine) + len(c.TemporalLine) + len(c.MemorySummary) +
		len(c.CurrentMessage) + len(c.SafetyNote)
	for _, t := range c.RecentTurns {
		n += len(t.Role) + len(t.Content)
	}
	return n
}

// Compactor reduces a full context to a budgeted compact one. Truncation is
// deterministic: oldest history turns go first, then optional profile lines,
// then the memory summary. The current message and safety note are kept
// whole unless they alone exceed the budget.
type Compactor struct {
	budgetChars int
	window      int
}

// NewCompactor creates a compactor. budgetChars and window must be positive.
func NewCompactor(budgetChars, window int) *Compactor {
	if budgetChars <= 0 {
		budgetChars = 2000
	}
	if window <= 0 {
		window = 3
	}
	return &Compactor{budgetChars: budgetChars, window: window}
}

// Compact builds the compact context. overflowed reports that content had to
// be dropped to fit the budget.
func (c *Compactor) Compact(full ConversationContextFull, currentMessage, safetyNote string) (ConversationContextCompact, bool) {
	compact := ConversationContextCompact{
		UserLine:       userLine(full.User),
		NutritionLine:  nutritionLine(full.Nutrition),
		WellnessLine:   wellnessLine(full.Wellness),
		ProgramLine:    programLine(full.Program),
		TemporalLine:   temporalLine(full.Temporal),
		MemorySummary:  full.MemorySummary,
		RecentTurns:    recentTurns(full.History, c.window),
		CurrentMessage: currentMessage,
		SafetyNote:     safetyNote,
	}
	if compact.Size() <= c.budgetChars {
		return compact, false
	}

	overflowed := true

	// Drop oldest retained turns first.
	for len(compact.RecentTurns) > 0 && compact.Size() > c.budgetChars {
		compact.RecentTurns = compact.RecentTurns[1:]
	}
	if compact.Size() > c.budgetChars {
		compact.MemorySummary = ""
	}
	for _, drop := range []*string{&compact.TemporalLine, &compact.ProgramLine, &compact.WellnessLine, &compact.NutritionLine} {
		if compact.Size() <= c.budgetChars {
			break
		}
		*drop = ""
	}

	// Last resort: clip the user line, then the message itself.
	if compact.Size() > c.budgetChars {
		compact.UserLine = ""
	}
	if over := compact.Size() - c.budgetChars; over > 0 && len(compact.CurrentMessage) > over {
		compact.CurrentMessage = trimToRuneBoundary(compact.CurrentMessage, len(compact.CurrentMessage)-over)
	}
	return compact, overflowed
}

// trimToRuneBoundary cuts s to at most n bytes without splitting a rune.
func trimToRuneBoundary(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func recentTurns(history []ConversationTurn, window int) []CompactTurn {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	out := make([]CompactTurn, 0, len(history))
	for _, t := range history {
		out = append(out, CompactTurn{Role: t.Role, Content: t.Content})
	}
	return out
}

func userLine(u UserInfo) string {
	parts := []string{}
	if u.FirstName != "" {
		parts = append(parts, "Prénom: "+u.FirstName)
	}
	if u.Age > 0 {
		parts = append(parts, fmt.Sprintf("Âge: %d", u.Age))
	}
	if u.Goal != "" {
		parts = append(parts, "Objectif: "+u.Goal)
	}
	parts = append(parts, "Formule: "+string(u.Tier))
	return strings.Join(parts, " | ")
}

func nutritionLine(n *NutritionSnapshot) string {
	if n == nil {
		return ""
	}
	line := fmt.Sprintf("Aujourd'hui: %d/%d kcal, %d/%d g protéines, %d repas",
		n.CaloriesConsumed, n.CaloriesTarget, n.ProteinGrams, n.ProteinTarget, n.MealsLogged)
	if n.LastMeal != "" {
		line += ", dernier repas: " + n.LastMeal
		if n.LastMealAt != "" {
			line += " à " + n.LastMealAt
		}
	}
	return line
}

func wellnessLine(w *WellnessSnapshot) string {
	if w == nil {
		return ""
	}
	parts := []string{}
	if w.SleepHoursLastNight > 0 {
		parts = append(parts, fmt.Sprintf("Sommeil: %.1fh", w.SleepHoursLastNight))
	}
	if w.StressLevel != "" {
		parts = append(parts, "Stress: "+w.StressLevel)
	}
	if w.EnergyLevel != "" {
		parts = append(parts, "Énergie: "+w.EnergyLevel)
	}
	return strings.Join(parts, " | ")
}

func programLine(p *ProgramState) string {
	if p == nil || p.ProgramName == "" {
		return ""
	}
	line := fmt.Sprintf("Programme: %s, semaine %d", p.ProgramName, p.WeekNumber)
	if p.Adherence7d > 0 {
		line += fmt.Sprintf(", adhérence 7j: %d%%", p.Adherence7d)
	}
	return line
}

func temporalLine(t *TemporalSignals) string {
	if t == nil {
		return ""
	}
	line := "Moment: " + t.DayPart
	if t.IsWeekend {
		line += " (week-end)"
	}
	return line
}
