package domain

// ChatMessage is the provider-agnostic chat message shape used by the prompt
// composer and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams bounds a single generation call.
type GenerationParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        *float64
}
