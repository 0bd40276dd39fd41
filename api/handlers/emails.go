package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/armysheng/ai-mail/api/middleware"
	"github.com/armysheng/ai-mail/interfaces"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListEmails pages through an account's synced emails, optionally
// filtered by folder
func ListEmails(accounts interfaces.AccountService, emails interfaces.EmailRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, err := accounts.GetAccount(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			respondAccountError(c, err)
			return
		}

		limit, offset := pagination(c)
		folder := c.Query("folder")

		var (
			items interface{}
			total int64
		)
		if folder != "" {
			rows, count, err := emails.ListByFolder(c.Request.Context(), acc.ID, folder, limit, offset)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			items, total = rows, count
		} else {
			rows, count, err := emails.ListByAccount(c.Request.Context(), acc.ID, limit, offset)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			items, total = rows, count
		}

		c.JSON(http.StatusOK, gin.H{
			"emails": items,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// GetEmail returns a single synced email with recipients and attachments
func GetEmail(accounts interfaces.AccountService, emails interfaces.EmailRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, err := accounts.GetAccount(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			respondAccountError(c, err)
			return
		}

		email, err := emails.GetByID(c.Request.Context(), c.Param("emailId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if email == nil || email.AccountID != acc.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
			return
		}

		c.JSON(http.StatusOK, email)
	}
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
