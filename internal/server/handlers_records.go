package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (a *App) createMeal(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload mealCreateRequest
	if !mustJSON(c, &payload) {
		return
	}
	description := strings.TrimSpace(payload.Description)
	if description == "" {
		writeError(c, http.StatusBadRequest, "description is required")
		return
	}
	recordedAt, ok := parseRecordedAt(payload.RecordedAt, time.Now())
	if !ok {
		writeError(c, http.StatusBadRequest, "recorded_at must be RFC3339")
		return
	}

	mealID := uuid.NewString()
	if _, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO "Meal" (id, "userId", description, "recordedAt", "createdAt")
		 VALUES ($1, $2, $3, $4, NOW())`,
		mealID,
		user.ID,
		description,
		recordedAt,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create meal")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"meal_id":     mealID,
		"description": description,
		"recorded_at": recordedAt,
	})
}

func (a *App) listMeals(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit := listLimit(c, 20, 50)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, description, "recordedAt"
		 FROM "Meal"
		 WHERE "userId" = $1
		 ORDER BY "recordedAt" DESC
		 LIMIT $2`,
		user.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load meals")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, limit)
	for rows.Next() {
		var mealID, description string
		var recordedAt time.Time
		if err := rows.Scan(&mealID, &description, &recordedAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse meals")
			return
		}
		items = append(items, gin.H{
			"meal_id":     mealID,
			"description": description,
			"recorded_at": recordedAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"meals": items})
}

func (a *App) createLabResult(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload labResultCreateRequest
	if !mustJSON(c, &payload) {
		return
	}
	testType := strings.TrimSpace(payload.TestType)
	if testType == "" {
		writeError(c, http.StatusBadRequest, "test_type is required")
		return
	}
	if len(payload.Results) == 0 {
		writeError(c, http.StatusBadRequest, "results is required")
		return
	}
	recordedAt, ok := parseRecordedAt(payload.RecordedAt, time.Now())
	if !ok {
		writeError(c, http.StatusBadRequest, "recorded_at must be RFC3339")
		return
	}

	labResultID := uuid.NewString()
	if _, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO "LabResult" (id, "userId", "testType", "resultsJson", "recordedAt", "createdAt")
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		labResultID,
		user.ID,
		testType,
		mustMarshalJSON(payload.Results),
		recordedAt,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create lab result")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lab_result_id": labResultID,
		"test_type":     testType,
		"results":       payload.Results,
		"recorded_at":   recordedAt,
	})
}

func (a *App) listLabResults(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit := listLimit(c, 20, 50)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, "testType", COALESCE("resultsJson", '{}'::jsonb)::text, "recordedAt"
		 FROM "LabResult"
		 WHERE "userId" = $1
		 ORDER BY "recordedAt" DESC
		 LIMIT $2`,
		user.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load lab results")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, limit)
	for rows.Next() {
		var labResultID, testType, resultsRaw string
		var recordedAt time.Time
		if err := rows.Scan(&labResultID, &testType, &resultsRaw, &recordedAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse lab results")
			return
		}
		items = append(items, gin.H{
			"lab_result_id": labResultID,
			"test_type":     testType,
			"results":       parseJSONStringMap([]byte(resultsRaw)),
			"recorded_at":   recordedAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"lab_results": items})
}

func (a *App) createSymptom(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload symptomCreateRequest
	if !mustJSON(c, &payload) {
		return
	}
	description := strings.TrimSpace(payload.Description)
	if description == "" {
		writeError(c, http.StatusBadRequest, "description is required")
		return
	}
	severity, ok := normalizeSeverity(payload.Severity)
	if !ok {
		writeError(c, http.StatusBadRequest, "severity must be one of: mild, moderate, severe")
		return
	}
	recordedAt, ok := parseRecordedAt(payload.RecordedAt, time.Now())
	if !ok {
		writeError(c, http.StatusBadRequest, "recorded_at must be RFC3339")
		return
	}

	var durationRef any
	if duration := strings.TrimSpace(payload.Duration); duration != "" {
		durationRef = duration
	}

	symptomID := uuid.NewString()
	if _, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO "Symptom" (id, "userId", description, severity, duration, "recordedAt", "createdAt")
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		symptomID,
		user.ID,
		description,
		severity,
		durationRef,
		recordedAt,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create symptom")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symptom_id":  symptomID,
		"description": description,
		"severity":    severity,
		"recorded_at": recordedAt,
	})
}

func (a *App) listSymptoms(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit := listLimit(c, 20, 50)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, description, severity, duration, "recordedAt"
		 FROM "Symptom"
		 WHERE "userId" = $1
		 ORDER BY "recordedAt" DESC
		 LIMIT $2`,
		user.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load symptoms")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, limit)
	for rows.Next() {
		var symptomID, description, severity string
		var duration *string
		var recordedAt time.Time
		if err := rows.Scan(&symptomID, &description, &severity, &duration, &recordedAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse symptoms")
			return
		}
		item := gin.H{
			"symptom_id":  symptomID,
			"description": description,
			"severity":    severity,
			"recorded_at": recordedAt.UTC(),
		}
		if duration != nil && strings.TrimSpace(*duration) != "" {
			item["duration"] = strings.TrimSpace(*duration)
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"symptoms": items})
}
