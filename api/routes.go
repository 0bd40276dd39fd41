package api

import (
	"github.com/gin-gonic/gin"

	"github.com/armysheng/ai-mail/api/handlers"
	"github.com/armysheng/ai-mail/api/middleware"
	"github.com/armysheng/ai-mail/internal/repository"
	"github.com/armysheng/ai-mail/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, repos *repository.Repositories, apiKey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())

	// Health check endpoint, no auth
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-API-KEY",
		ValidAPIKey: apiKey,
	})

	// API group with version, auth and tracing
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		api.GET("/sync/status", handlers.SyncStatus(s.SyncScheduler))

		// Account endpoints, scoped to the calling user
		accounts := api.Group("/accounts")
		accounts.Use(middleware.UserIDMiddleware())
		{
			accounts.POST("", handlers.RegisterAccount(s.AccountService))
			accounts.GET("", handlers.ListAccounts(s.AccountService))
			accounts.GET("/:id", handlers.GetAccount(s.AccountService))
			accounts.DELETE("/:id", handlers.DeleteAccount(s.AccountService))
			accounts.POST("/:id/test", handlers.TestConnection(s.AccountService))
			accounts.POST("/:id/sync", handlers.TriggerSync(s.AccountService, s.SyncScheduler))

			accounts.GET("/:id/emails", handlers.ListEmails(s.AccountService, repos.EmailRepository))
			accounts.GET("/:id/emails/:emailId", handlers.GetEmail(s.AccountService, repos.EmailRepository))
		}
	}
}
