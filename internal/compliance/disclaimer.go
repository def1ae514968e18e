package compliance

import (
	"fmt"
	"strings"
)

// DisclaimerLevel represents the verbosity of the disclaimer.
type DisclaimerLevel string

const (
	// DisclaimerShort is the shortest disclaimer.
	DisclaimerShort DisclaimerLevel = "short"
	// DisclaimerMedium is a moderate disclaimer.
	DisclaimerMedium DisclaimerLevel = "medium"
	// DisclaimerFull is the most comprehensive disclaimer.
	DisclaimerFull DisclaimerLevel = "full"
)

// Generic disclaimer templates, appended to coaching replies.
const (
	disclaimerShortText = "Assistant automatisé, pas un avis médical."

	disclaimerMediumText = "Je suis un assistant automatisé. Pour tout sujet de santé, consulte un professionnel."

	disclaimerFullText = "Je suis un assistant de coaching automatisé. Mes conseils sont généraux et ne remplacent " +
		"pas l'avis d'un médecin ou d'un·e diététicien·ne. Pour toute question de santé, consulte un professionnel."
)

// Per-flag disclaimers, used when a specific risk signal was detected.
var flagDisclaimers = map[string]string{
	"MINOR_USER": "Tu sembles avoir moins de 18 ans. Mes conseils restent généraux : pour un suivi " +
		"nutritionnel adapté à ton âge, parles-en à tes parents et à ton médecin.",
	"PREGNANCY_MENTION": "Pendant la grossesse ou l'allaitement, les besoins nutritionnels sont particuliers. " +
		"Valide tout changement d'alimentation avec ton médecin ou ta sage-femme.",
	"DIABETES_MENTION": "Le diabète demande un suivi médical. Ne modifie pas ton alimentation ou ton " +
		"traitement sans l'avis de ton médecin.",
	"ALLERGY_MENTION": "En cas d'allergie ou d'intolérance, vérifie toujours la composition des aliments " +
		"et suis les recommandations de ton allergologue.",
	"MEDICAL_ADVICE_REQUEST": "Je ne peux pas donner d'avis médical ni parler de médicaments. " +
		"Pour cela, consulte ton médecin ou ton pharmacien.",
}

// DisclaimerConfig configures the disclaimer manager.
type DisclaimerConfig struct {
	// Level determines which generic template to use.
	Level DisclaimerLevel
	// Enabled controls whether disclaimers are added at all.
	Enabled bool
	// CustomText overrides the generic template.
	CustomText string
}

// DefaultDisclaimerConfig returns sensible defaults.
func DefaultDisclaimerConfig() DisclaimerConfig {
	return DisclaimerConfig{
		Level:   DisclaimerMedium,
		Enabled: true,
	}
}

// DisclaimerManager selects and appends health disclaimers.
type DisclaimerManager struct {
	config DisclaimerConfig
}

// NewDisclaimerManager creates a disclaimer manager.
func NewDisclaimerManager(config DisclaimerConfig) *DisclaimerManager {
	return &DisclaimerManager{config: config}
}

// Generic returns the configured generic disclaimer text.
func (m *DisclaimerManager) Generic() string {
	if m.config.CustomText != "" {
		return m.config.CustomText
	}
	switch m.config.Level {
	case DisclaimerShort:
		return disclaimerShortText
	case DisclaimerFull:
		return disclaimerFullText
	default:
		return disclaimerMediumText
	}
}

// ForFlag returns the disclaimer matching a risk signal, falling back to the
// generic text for unrecognized flags.
func (m *DisclaimerManager) ForFlag(flag string) string {
	if !m.config.Enabled {
		return ""
	}
	if text, ok := flagDisclaimers[flag]; ok {
		return text
	}
	return m.Generic()
}

// Append adds the disclaimer to the message, separated by a blank line. It is
// a no-op when disclaimers are disabled, the disclaimer is empty, or the
// message already contains it.
func (m *DisclaimerManager) Append(message, disclaimer string) string {
	if !m.config.Enabled || disclaimer == "" {
		return message
	}
	if strings.Contains(message, disclaimer) {
		return message
	}
	return fmt.Sprintf("%s\n\n%s", strings.TrimSpace(message), disclaimer)
}

// Enabled reports whether disclaimers are active.
func (m *DisclaimerManager) Enabled() bool {
	return m.config.Enabled
}
