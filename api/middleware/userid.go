package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const UserIDHeader = "X-USER-ID"

const UserIDContextKey = "UserId"

// UserIDMiddleware extracts the calling user's identity from the request
// header. Accounts are scoped per user, so every account route needs it.
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing " + UserIDHeader + " header",
			})
			c.Abort()
			return
		}

		c.Set(UserIDContextKey, userID)
		c.Next()
	}
}

// GetUserID reads the user identity stored by UserIDMiddleware.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDContextKey)
}
