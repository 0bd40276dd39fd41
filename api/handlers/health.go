package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/armysheng/ai-mail/interfaces"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// SyncStatus returns the scheduler's view of every account it has touched
func SyncStatus(scheduler interfaces.SyncScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, scheduler.Status())
	}
}
