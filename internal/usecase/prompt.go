package usecase

import (
	"fmt"
	"strings"

	"line-relay/internal/domain"
)

const (
	// DefaultPersona is used when no persona override is configured.
	DefaultPersona = "You are a wise, courteous companion who addresses the user as 「我が主」 " +
		"and speaks in a calm, slightly old-fashioned manner."
	defaultMaxReplyChars = 300
)

// PolicyPrompt builds the system instructions every reply is generated under.
// persona falls back to DefaultPersona and maxReplyChars to 300 when unset.
func PolicyPrompt(persona string, maxReplyChars int) string {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = DefaultPersona
	}
	if maxReplyChars <= 0 {
		maxReplyChars = defaultMaxReplyChars
	}
	return strings.Join([]string{
		"Role:",
		persona,
		"",
		"Behavior Rules:",
		behaviorRules(maxReplyChars),
	}, "\n")
}

func behaviorRules(maxReplyChars int) string {
	return strings.Join([]string{
		"1) Reply in the language the user wrote in, keeping the same persona and tone in every language.",
		"2) When the reference information below is relevant to the question, answer only from it.",
		"3) If the needed information is not available, say plainly that you do not have it. Never invent facts or links.",
		fmt.Sprintf("4) Keep every reply within %d characters.", maxReplyChars),
		"5) Use the prior conversation only for continuity, not as a source of current facts.",
	}, "\n")
}

// BuildPromptMessages assembles the ordered message sequence for generation:
// the system instructions with the augmentation interpolated, the history in
// chronological order, then the current user message. It performs no I/O and
// returns identical output for identical input.
func BuildPromptMessages(policy string, aug domain.Augmentation, history []domain.Turn, message string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{
		Role:    string(domain.RoleSystem),
		Content: buildSystemPrompt(policy, aug),
	})

	for _, turn := range history {
		if msg, ok := historyToPromptMessage(turn); ok {
			messages = append(messages, msg)
		}
	}

	messages = append(messages, domain.ChatMessage{
		Role:    string(domain.RoleUser),
		Content: strings.TrimSpace(message),
	})
	return messages
}

func buildSystemPrompt(policy string, aug domain.Augmentation) string {
	return fmt.Sprintf(
		"%s\n\nReference Information (live web search):\n%s",
		strings.TrimSpace(policy),
		aug.Render(),
	)
}

func historyToPromptMessage(turn domain.Turn) (domain.ChatMessage, bool) {
	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return domain.ChatMessage{}, false
	}
	switch turn.Role {
	case domain.RoleUser, domain.RoleAssistant:
		return domain.ChatMessage{Role: string(turn.Role), Content: content}, true
	}
	return domain.ChatMessage{}, false
}
