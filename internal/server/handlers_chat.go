package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"healthadvisor/backend/internal/advisor"
)

type conversationRecord struct {
	ID        string
	UserID    string
	StartedAt time.Time
}

type conversationListItem struct {
	ConversationID string
	StartedAt      time.Time
	UpdatedAt      time.Time
	FirstUserInput *string
	LastPreview    *string
	LastMessageAt  time.Time
	MessageCount   int
}

func (a *App) createConversation(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conversationID := uuid.NewString()
	var startedAt time.Time
	err := a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO "Conversation" (id, "userId", "startedAt", "updatedAt")
		 VALUES ($1, $2, NOW(), NOW())
		 RETURNING "startedAt"`,
		conversationID,
		user.ID,
	).Scan(&startedAt)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create conversation")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"title":           "New conversation",
		"started_at":      startedAt.UTC(),
	})
}

func (a *App) listConversations(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit := listLimit(c, 50, 100)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT
			v.id,
			v."startedAt",
			v."updatedAt",
			(
				SELECT m.content
				FROM "ChatMessage" m
				WHERE m."conversationId" = v.id
				  AND m.role = 'user'
				ORDER BY m."createdAt" ASC
				LIMIT 1
			) AS first_user_input,
			(
				SELECT m.content
				FROM "ChatMessage" m
				WHERE m."conversationId" = v.id
				ORDER BY m."createdAt" DESC
				LIMIT 1
			) AS last_preview,
			COALESCE(
				(
					SELECT m."createdAt"
					FROM "ChatMessage" m
					WHERE m."conversationId" = v.id
					ORDER BY m."createdAt" DESC
					LIMIT 1
				),
				v."updatedAt"
			) AS last_message_at,
			(
				SELECT COUNT(*)::int
				FROM "ChatMessage" m
				WHERE m."conversationId" = v.id
			) AS message_count
		 FROM "Conversation" v
		 WHERE v."userId" = $1
		 ORDER BY last_message_at DESC
		 LIMIT $2`,
		user.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load conversations")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, 24)
	for rows.Next() {
		record := conversationListItem{}
		if err := rows.Scan(
			&record.ConversationID,
			&record.StartedAt,
			&record.UpdatedAt,
			&record.FirstUserInput,
			&record.LastPreview,
			&record.LastMessageAt,
			&record.MessageCount,
		); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse conversations")
			return
		}
		items = append(items, gin.H{
			"conversation_id": record.ConversationID,
			"title":           deriveConversationTitle(record.FirstUserInput),
			"preview":         normalizePreview(record.LastPreview),
			"started_at":      record.StartedAt.UTC(),
			"updated_at":      record.UpdatedAt.UTC(),
			"last_message_at": record.LastMessageAt.UTC(),
			"message_count":   record.MessageCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

func (a *App) getConversationMessages(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conversationID := strings.TrimSpace(c.Param("conversation_id"))
	if conversationID == "" {
		writeError(c, http.StatusBadRequest, "conversation_id is required")
		return
	}
	conversation, status, err := a.loadConversationForUser(c.Request.Context(), user.ID, conversationID)
	if err != nil {
		writeError(c, status, err.Error())
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, role, content, "metadataJson", "createdAt"
		 FROM "ChatMessage"
		 WHERE "conversationId" = $1
		 ORDER BY "createdAt" ASC`,
		conversation.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load chat messages")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0)
	var firstUserInput *string
	for rows.Next() {
		var messageID, role, content string
		var metadataRaw []byte
		var createdAt time.Time
		if err := rows.Scan(&messageID, &role, &content, &metadataRaw, &createdAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse chat messages")
			return
		}
		item := gin.H{
			"message_id": messageID,
			"role":       strings.ToLower(strings.TrimSpace(role)),
			"content":    content,
			"created_at": createdAt.UTC(),
		}
		if firstUserInput == nil && strings.EqualFold(strings.TrimSpace(role), "user") {
			candidate := strings.TrimSpace(content)
			if candidate != "" {
				firstUserInput = &candidate
			}
		}
		if len(metadataRaw) > 0 {
			item["metadata"] = parseJSONStringMap(metadataRaw)
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversation.ID,
		"title":           deriveConversationTitle(firstUserInput),
		"started_at":      conversation.StartedAt.UTC(),
		"messages":        items,
	})
}

// sendChatMessage runs the advisory pipeline for one user message. The
// context snapshot is taken before the provider call, so a concurrent message
// in the same conversation does not appear in this request's context.
func (a *App) sendChatMessage(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload chatMessageRequest
	if !mustJSON(c, &payload) {
		return
	}
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		writeError(c, http.StatusBadRequest, "message is required")
		return
	}

	ctx := c.Request.Context()
	conversationID := strings.TrimSpace(payload.ConversationID)
	if conversationID != "" {
		if _, status, err := a.loadConversationForUser(ctx, user.ID, conversationID); err != nil {
			writeError(c, status, err.Error())
			return
		}
	}

	response, err := a.advisor.SendMessage(ctx, message, user.ID, conversationID)
	if err != nil {
		a.writeAdvisorError(c, err)
		return
	}

	if conversationID == "" {
		newConversationID := uuid.NewString()
		if _, err := a.db.Exec(
			ctx,
			`INSERT INTO "Conversation" (id, "userId", "startedAt", "updatedAt")
			 VALUES ($1, $2, NOW(), NOW())`,
			newConversationID,
			user.ID,
		); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
		conversationID = newConversationID
	}

	userMessageID, err := a.insertChatMessage(ctx, conversationID, user.ID, "user", message, nil)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to store chat message")
		return
	}

	metadata := map[string]any{
		"processed_at": response.Metadata.ProcessedAt.UTC().Format(time.RFC3339),
		"fallback":     response.Metadata.Fallback,
	}
	if response.Metadata.Model != "" {
		metadata["model"] = response.Metadata.Model
	}
	if usage := response.Metadata.TokenUsage; usage != nil {
		metadata["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
	}

	assistantMessageID, err := a.insertChatMessage(ctx, conversationID, user.ID, "assistant", response.Content, metadata)
	if err != nil {
		_, _ = a.db.Exec(ctx, `DELETE FROM "ChatMessage" WHERE id = $1`, userMessageID)
		writeError(c, http.StatusInternalServerError, "Failed to store assistant message")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"message_id":      assistantMessageID,
		"content":         response.Content,
		"metadata":        metadata,
	})
}

func (a *App) loadConversationForUser(ctx context.Context, userID, conversationID string) (conversationRecord, int, error) {
	record := conversationRecord{}
	err := a.db.QueryRow(
		ctx,
		`SELECT id, "userId", "startedAt"
		 FROM "Conversation"
		 WHERE id = $1 AND "userId" = $2`,
		conversationID,
		userID,
	).Scan(&record.ID, &record.UserID, &record.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversationRecord{}, http.StatusNotFound, errors.New("Conversation not found")
	}
	if err != nil {
		return conversationRecord{}, http.StatusInternalServerError, err
	}
	return record, http.StatusOK, nil
}

func (a *App) insertChatMessage(
	ctx context.Context,
	conversationID, userID, role, content string,
	metadata map[string]any,
) (string, error) {
	messageID := uuid.NewString()

	var metadataValue any
	if metadata != nil {
		metadataValue = mustMarshalJSON(metadata)
	}

	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO "ChatMessage" (id, "conversationId", "userId", role, content, "metadataJson", "createdAt")
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		messageID,
		conversationID,
		userID,
		strings.ToLower(strings.TrimSpace(role)),
		strings.TrimSpace(content),
		metadataValue,
	); err != nil {
		return "", err
	}

	_, _ = a.db.Exec(ctx, `UPDATE "Conversation" SET "updatedAt" = NOW() WHERE id = $1`, conversationID)
	return messageID, nil
}

func (a *App) writeAdvisorError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	var malformed *advisor.MalformedResponseError
	if errors.As(err, &malformed) {
		writeError(c, http.StatusBadGateway, "AI provider returned an unexpected response")
		return
	}
	log.Printf("chat message failed unclassified err=%v", err)
	writeError(c, http.StatusInternalServerError, "Failed to process chat message")
}
