package server

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type mealCreateRequest struct {
	Description string `json:"description"`
	RecordedAt  string `json:"recorded_at"`
}

type labResultCreateRequest struct {
	TestType   string         `json:"test_type"`
	Results    map[string]any `json:"results"`
	RecordedAt string         `json:"recorded_at"`
}

type symptomCreateRequest struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Duration    string `json:"duration"`
	RecordedAt  string `json:"recorded_at"`
}

type chatMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

var validSeverities = map[string]struct{}{
	"mild":     {},
	"moderate": {},
	"severe":   {},
}

func normalizeSeverity(input string) (string, bool) {
	severity := strings.ToLower(strings.TrimSpace(input))
	if severity == "" {
		return "", false
	}
	_, ok := validSeverities[severity]
	return severity, ok
}

// parseRecordedAt resolves an optional RFC3339 client timestamp, defaulting
// to now.
func parseRecordedAt(raw string, now time.Time) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return now.UTC(), true
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

func listLimit(c *gin.Context, fallback, max int) int {
	limit := fallback
	if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func mustMarshalJSON(input any) string {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func parseJSONStringMap(input []byte) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(input, &result); err != nil || result == nil {
		return map[string]any{}
	}
	return result
}

func normalizePreview(input *string) string {
	if input == nil {
		return "No messages yet"
	}
	normalized := strings.Join(strings.Fields(strings.TrimSpace(*input)), " ")
	if normalized == "" {
		return "No messages yet"
	}
	const maxLen = 96
	if len(normalized) <= maxLen {
		return normalized
	}
	return strings.TrimSpace(normalized[:maxLen]) + "..."
}

func deriveConversationTitle(firstUserInput *string) string {
	if firstUserInput == nil {
		return "New conversation"
	}
	normalized := strings.Join(strings.Fields(strings.TrimSpace(*firstUserInput)), " ")
	if normalized == "" {
		return "New conversation"
	}
	const maxLen = 38
	if len(normalized) <= maxLen {
		return normalized
	}
	return strings.TrimSpace(normalized[:maxLen]) + "..."
}
