package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"healthadvisor/backend/internal/advisor"
)

// pgStores backs both advisor store interfaces with Postgres. All methods are
// read-only; record writes happen in the HTTP handlers.
type pgStores struct {
	db *pgxpool.Pool
}

func newPGStores(db *pgxpool.Pool) *pgStores {
	return &pgStores{db: db}
}

func (s *pgStores) RecentEntries(ctx context.Context, userID string, category advisor.Category, limit int) ([]advisor.HealthEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	switch category {
	case advisor.CategoryMeal:
		return s.recentMeals(ctx, userID, limit)
	case advisor.CategoryLabResult:
		return s.recentLabResults(ctx, userID, limit)
	case advisor.CategorySymptom:
		return s.recentSymptoms(ctx, userID, limit)
	default:
		return nil, fmt.Errorf("unknown health record category: %s", category)
	}
}

func (s *pgStores) recentMeals(ctx context.Context, userID string, limit int) ([]advisor.HealthEntry, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT description, "recordedAt"
		 FROM "Meal"
		 WHERE "userId" = $1
		 ORDER BY "recordedAt" DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]advisor.HealthEntry, 0, limit)
	for rows.Next() {
		var description string
		var recordedAt time.Time
		if err := rows.Scan(&description, &recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, advisor.HealthEntry{
			Description: strings.TrimSpace(description),
			RecordedAt:  recordedAt,
		})
	}
	return entries, rows.Err()
}

func (s *pgStores) recentLabResults(ctx context.Context, userID string, limit int) ([]advisor.HealthEntry, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT "testType", COALESCE("resultsJson", '{}'::jsonb)::text, "recordedAt"
		 FROM "LabResult"
		 WHERE "userId" = $1
		 ORDER BY "recordedAt" DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]advisor.HealthEntry, 0, limit)
	for rows.Next() {
		var testType, resultsRaw string
		var recordedAt time.Time
		if err := rows.Scan(&testType, &resultsRaw, &recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, advisor.HealthEntry{
			TestType:   strings.TrimSpace(testType),
			Results:    parseJSONStringMap([]byte(resultsRaw)),
			RecordedAt: recordedAt,
		})
	}
	return entries, rows.Err()
}

func (s *pgStores) recentSymptoms(ctx context.Context, userID string, limit int) ([]advisor.HealthEntry, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT description, severity, duration, "recordedAt"
		 FROM "Symptom"
		 WHERE "userId" = $1
		 ORDER BY "recordedAt" DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]advisor.HealthEntry, 0, limit)
	for rows.Next() {
		var description, severity string
		var duration *string
		var recordedAt time.Time
		if err := rows.Scan(&description, &severity, &duration, &recordedAt); err != nil {
			return nil, err
		}
		entry := advisor.HealthEntry{
			Description: strings.TrimSpace(description),
			Severity:    strings.TrimSpace(severity),
			RecordedAt:  recordedAt,
		}
		if duration != nil {
			entry.Duration = strings.TrimSpace(*duration)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RecentTurns returns the most recent turns in chronological order, the shape
// the context assembler expects.
func (s *pgStores) RecentTurns(ctx context.Context, conversationID string, limit int) ([]advisor.Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		ctx,
		`SELECT role, content, "createdAt"
		 FROM "ChatMessage"
		 WHERE "conversationId" = $1
		 ORDER BY "createdAt" DESC
		 LIMIT $2`,
		conversationID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]advisor.Turn, 0, limit)
	for rows.Next() {
		var role, content string
		var createdAt time.Time
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, err
		}
		turns = append(turns, advisor.Turn{
			Role:      strings.ToLower(strings.TrimSpace(role)),
			Content:   strings.TrimSpace(content),
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
