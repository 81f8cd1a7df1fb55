package advisor

import "strings"

type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const basePreamble = "You are a wellness assistant for a personal health tracking app. " +
	"Use the USER HEALTH CONTEXT provided in this conversation to personalize general wellness guidance " +
	"about nutrition, lifestyle, and self-care. " +
	"Never diagnose conditions, never prescribe medication, and never propose treatment plans. " +
	"Always encourage the user to consult healthcare professionals for medical concerns."

const noContextPreamble = "You are a wellness assistant for a personal health tracking app. " +
	"Provide general wellness guidance about nutrition, lifestyle, and self-care. " +
	"Never diagnose conditions, never prescribe medication, and never propose treatment plans. " +
	"Always encourage the user to consult healthcare professionals for medical concerns."

// BuildPrompt is a pure function. The result always starts with exactly one
// system preamble and ends with exactly one user message; a non-empty context
// block adds a single extra system message between them, so the list length
// is always 2 or 3.
func BuildPrompt(message, contextBlock string) []PromptMessage {
	trimmedContext := strings.TrimSpace(contextBlock)
	if trimmedContext == "" {
		return []PromptMessage{
			{Role: RoleSystem, Content: noContextPreamble},
			{Role: RoleUser, Content: message},
		}
	}
	return []PromptMessage{
		{Role: RoleSystem, Content: basePreamble},
		{Role: RoleSystem, Content: trimmedContext},
		{Role: RoleUser, Content: message},
	}
}
