package advisor

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ResponseMetadata struct {
	Model       string      `json:"model,omitempty"`
	ProcessedAt time.Time   `json:"processed_at"`
	TokenUsage  *TokenUsage `json:"token_usage,omitempty"`
	Fallback    bool        `json:"fallback,omitempty"`
}

// LLMResponse is the terminal artifact of the pipeline. Content always
// carries the medical disclaimer exactly once.
type LLMResponse struct {
	Content  string           `json:"content"`
	Metadata ResponseMetadata `json:"metadata"`
}

// MalformedResponseError reports a 2xx provider response without any
// recognizable content field. It indicates a contract mismatch, not
// transient unavailability, so it is never retried.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed provider response: " + e.Reason
}

const disclaimerText = "This information is for general wellness purposes only and is " +
	"not a substitute for professional medical advice. Always consult healthcare " +
	"professionals for medical concerns."

// Phrases treated as an already-present disclaimer; checked case-insensitively
// before appending disclaimerText.
var disclaimerEquivalents = []string{
	disclaimerText,
	"not a substitute for professional medical advice",
	"not medical advice",
	"consult healthcare professionals",
}

type safetyRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order; later rules see already-rewritten text.
var safetyRules = []safetyRule{
	{regexp.MustCompile(`(?i)\b(diagnose|diagnosis|diagnoses|diagnosing)\b`), "potentially indicate"},
	{regexp.MustCompile(`(?i)\b(prescribe|prescription|treatment plan)\b`), "consider discussing with your doctor"},
	{regexp.MustCompile(`(?i)\b(cure|treat|heal)\b`), "potentially help with"},
	{regexp.MustCompile(`(?i)\b(should take|must take|need to take)\b`), "might consider discussing with your doctor"},
}

type ResponseProcessor struct {
	defaultModel string
	now          func() time.Time
}

func NewResponseProcessor(defaultModel string) *ResponseProcessor {
	return &ResponseProcessor{
		defaultModel: strings.TrimSpace(defaultModel),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Process extracts the completion text from the raw provider body, rewrites
// unsafe medical phrasing, and guarantees the disclaimer.
func (p *ResponseProcessor) Process(raw []byte) (LLMResponse, error) {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed == nil {
		return LLMResponse{}, &MalformedResponseError{Reason: "body is not a JSON object"}
	}

	content := extractCompletionText(parsed)
	if content == "" {
		return LLMResponse{}, &MalformedResponseError{Reason: "no recognizable content field"}
	}

	content = applySafetyRules(content)
	content = addDisclaimer(content)

	model := strings.TrimSpace(toString(parsed["model"]))
	if model == "" {
		model = p.defaultModel
	}

	return LLMResponse{
		Content: content,
		Metadata: ResponseMetadata{
			Model:       model,
			ProcessedAt: p.now(),
			TokenUsage:  extractTokenUsage(parsed),
		},
	}, nil
}

// extractCompletionText checks the known provider shapes in priority order:
// choices[0].message.content, choices[0].text, then top-level content.
func extractCompletionText(data map[string]any) string {
	if choices, ok := data["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if text := strings.TrimSpace(toString(message["content"])); text != "" {
					return text
				}
			}
			if text := strings.TrimSpace(toString(choice["text"])); text != "" {
				return text
			}
		}
	}
	return strings.TrimSpace(toString(data["content"]))
}

func applySafetyRules(content string) string {
	result := content
	for _, rule := range safetyRules {
		result = rule.pattern.ReplaceAllString(result, rule.replacement)
	}
	return result
}

// addDisclaimer is idempotent: content already carrying any
// disclaimer-equivalent phrase is returned unchanged.
func addDisclaimer(content string) string {
	lowered := strings.ToLower(content)
	for _, phrase := range disclaimerEquivalents {
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return content
		}
	}
	return content + "\n\n" + disclaimerText
}

func extractTokenUsage(data map[string]any) *TokenUsage {
	usageMap, ok := data["usage"].(map[string]any)
	if !ok {
		return nil
	}
	usage := &TokenUsage{
		PromptTokens:     int(extractNumberFromMap(usageMap, "prompt_tokens", "input_tokens")),
		CompletionTokens: int(extractNumberFromMap(usageMap, "completion_tokens", "output_tokens")),
		TotalTokens:      int(extractNumberFromMap(usageMap, "total_tokens")),
	}
	if usage.TotalTokens <= 0 && usage.PromptTokens <= 0 && usage.CompletionTokens <= 0 {
		return nil
	}
	if usage.TotalTokens <= 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
