package advisor

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"
)

type Category string

const (
	CategoryMeal      Category = "meal"
	CategoryLabResult Category = "lab_result"
	CategorySymptom   Category = "symptom"
)

// HealthEntry is a display-formatted health record. Only the fields relevant
// to the entry's category are populated.
type HealthEntry struct {
	Description string
	TestType    string
	Results     map[string]any
	Severity    string
	Duration    string
	RecordedAt  time.Time
}

type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

type HealthRecordStore interface {
	RecentEntries(ctx context.Context, userID string, category Category, limit int) ([]HealthEntry, error)
}

type ConversationStore interface {
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error)
}

const (
	defaultHealthEntryLimit      = 5
	defaultConversationTurnLimit = 10
	conversationContentRuneMax   = 100
)

// ContextAssembler builds a bounded natural-language snapshot of a user's
// recent health records and conversation history. It only reads; it never
// mutates the stores.
type ContextAssembler struct {
	records       HealthRecordStore
	conversations ConversationStore
	entryLimit    int
	turnLimit     int
}

func NewContextAssembler(records HealthRecordStore, conversations ConversationStore, entryLimit, turnLimit int) *ContextAssembler {
	if entryLimit <= 0 {
		entryLimit = defaultHealthEntryLimit
	}
	if turnLimit <= 0 {
		turnLimit = defaultConversationTurnLimit
	}
	return &ContextAssembler{
		records:       records,
		conversations: conversations,
		entryLimit:    entryLimit,
		turnLimit:     turnLimit,
	}
}

// Assemble returns the formatted context block, or the empty string when
// nothing is available. Store read failures degrade to an empty context so a
// data outage never blocks the chat itself.
func (a *ContextAssembler) Assemble(ctx context.Context, userID, conversationID string) string {
	sections := make([]string, 0, 4)

	if section := a.mealSection(ctx, userID); section != "" {
		sections = append(sections, section)
	}
	if section := a.labResultSection(ctx, userID); section != "" {
		sections = append(sections, section)
	}
	if section := a.symptomSection(ctx, userID); section != "" {
		sections = append(sections, section)
	}
	if section := a.conversationSection(ctx, conversationID); section != "" {
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		return ""
	}
	return "USER HEALTH CONTEXT:\n" + strings.Join(sections, "\n")
}

func (a *ContextAssembler) recentEntries(ctx context.Context, userID string, category Category) []HealthEntry {
	if a.records == nil {
		return nil
	}
	entries, err := a.records.RecentEntries(ctx, userID, category, a.entryLimit)
	if err != nil {
		log.Printf("context assembly skipped category=%s user_id=%s err=%v", category, userID, err)
		return nil
	}
	return entries
}

func (a *ContextAssembler) mealSection(ctx context.Context, userID string) string {
	entries := a.recentEntries(ctx, userID, CategoryMeal)
	if len(entries) == 0 {
		return ""
	}
	items := make([]string, 0, len(entries))
	for _, entry := range entries {
		items = append(items, formatContextTime(entry.RecordedAt)+": "+strings.TrimSpace(entry.Description))
	}
	return "Recent meals: " + strings.Join(items, "; ")
}

func (a *ContextAssembler) labResultSection(ctx context.Context, userID string) string {
	entries := a.recentEntries(ctx, userID, CategoryLabResult)
	if len(entries) == 0 {
		return ""
	}
	items := make([]string, 0, len(entries))
	for _, entry := range entries {
		items = append(items,
			strings.TrimSpace(entry.TestType)+
				" ("+entry.RecordedAt.UTC().Format("2006-01-02")+"): "+
				compactJSON(entry.Results),
		)
	}
	return "Recent lab results: " + strings.Join(items, "; ")
}

func (a *ContextAssembler) symptomSection(ctx context.Context, userID string) string {
	entries := a.recentEntries(ctx, userID, CategorySymptom)
	if len(entries) == 0 {
		return ""
	}
	items := make([]string, 0, len(entries))
	for _, entry := range entries {
		duration := strings.TrimSpace(entry.Duration)
		if duration == "" {
			duration = "Not specified"
		}
		items = append(items,
			strings.TrimSpace(entry.Description)+
				" (Severity: "+strings.TrimSpace(entry.Severity)+
				", Duration: "+duration+
				", Reported: "+formatContextTime(entry.RecordedAt)+")",
		)
	}
	return "Recent symptoms: " + strings.Join(items, "; ")
}

func (a *ContextAssembler) conversationSection(ctx context.Context, conversationID string) string {
	if a.conversations == nil || strings.TrimSpace(conversationID) == "" {
		return ""
	}
	turns, err := a.conversations.RecentTurns(ctx, conversationID, a.turnLimit)
	if err != nil {
		log.Printf("context assembly skipped conversation_id=%s err=%v", conversationID, err)
		return ""
	}
	if len(turns) == 0 {
		return ""
	}
	items := make([]string, 0, len(turns))
	for _, turn := range turns {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		items = append(items, role+": "+truncateRunes(turn.Content, conversationContentRuneMax))
	}
	return "Recent conversation: " + strings.Join(items, " | ")
}

func formatContextTime(value time.Time) string {
	return value.UTC().Format("2006-01-02 15:04")
}

func compactJSON(value map[string]any) string {
	if len(value) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func truncateRunes(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	runes := []rune(trimmed)
	if len(runes) <= max {
		return trimmed
	}
	return string(runes[:max]) + "..."
}
