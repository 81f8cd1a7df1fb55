package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthadvisor/backend/internal/advisor"
	"healthadvisor/backend/internal/config"
)

type App struct {
	cfg     config.Config
	db      *pgxpool.Pool
	advisor *advisor.Service
}

type AuthUser struct {
	ID   string
	Name string
}

func New(cfg config.Config, db *pgxpool.Pool) *App {
	stores := newPGStores(db)
	service := advisor.NewService(
		stores,
		stores,
		advisor.ProviderConfig{
			BaseURL:          cfg.AIBaseURL,
			APIKey:           cfg.AIAPIKey,
			Model:            cfg.AIModel,
			MaxTokens:        cfg.AIMaxTokens,
			Temperature:      cfg.AITemperature,
			TopP:             cfg.AITopP,
			FrequencyPenalty: cfg.AIFrequencyPenalty,
			PresencePenalty:  cfg.AIPresencePenalty,
			Timeout:          time.Duration(cfg.AITimeoutMs) * time.Millisecond,
		},
		advisor.RetryPolicy{
			MaxRetries: cfg.AIMaxRetries,
			BaseDelay:  time.Duration(cfg.AIBaseDelayMs) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.AIMaxDelayMs) * time.Millisecond,
		},
		advisor.Limits{
			HealthEntries:     cfg.HealthEntryLimit,
			ConversationTurns: cfg.ConversationTurnLimit,
		},
	)
	return &App{cfg: cfg, db: db, advisor: service}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)
	api.Use(a.authMiddleware())

	api.POST("/meals", a.createMeal)
	api.GET("/meals", a.listMeals)
	api.POST("/lab-results", a.createLabResult)
	api.GET("/lab-results", a.listLabResults)
	api.POST("/symptoms", a.createSymptom)
	api.GET("/symptoms", a.listSymptoms)

	api.POST("/chat/conversations", a.createConversation)
	api.GET("/chat/conversations", a.listConversations)
	api.GET("/chat/conversations/:conversation_id/messages", a.getConversationMessages)
	api.POST("/chat/message", a.sendChatMessage)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "healthadvisor-api",
	})
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Invalid token payload")
			return
		}
		if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
			writeError(c, http.StatusUnauthorized, "Invalid token audience")
			return
		}
		if a.cfg.JWTIssuer != "" {
			issuer, _ := claims["iss"].(string)
			if issuer != a.cfg.JWTIssuer {
				writeError(c, http.StatusUnauthorized, "Invalid token issuer")
				return
			}
		}
		sub, _ := claims["sub"].(string)
		sub = strings.TrimSpace(sub)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}

		name := ""
		if rawName, ok := claims["name"].(string); ok {
			name = strings.TrimSpace(rawName)
		}

		c.Set("authUser", AuthUser{ID: sub, Name: name})
		c.Next()
	}
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}
