package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/armysheng/ai-mail/api/middleware"
	"github.com/armysheng/ai-mail/dto"
	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/services/account"
	"github.com/armysheng/ai-mail/services/scheduler"
)

// RegisterAccount creates a new email account with encrypted credentials
func RegisterAccount(accounts interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request dto.RegisterAccountRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		created, err := accounts.RegisterAccount(c.Request.Context(), middleware.GetUserID(c), &request)
		if err != nil {
			respondAccountError(c, err)
			return
		}

		c.JSON(http.StatusCreated, dto.NewAccountResponse(created))
	}
}

// ListAccounts returns all accounts belonging to the calling user
func ListAccounts(accounts interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := accounts.ListAccounts(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			respondAccountError(c, err)
			return
		}

		responses := make([]*dto.AccountResponse, 0, len(list))
		for _, acc := range list {
			responses = append(responses, dto.NewAccountResponse(acc))
		}
		c.JSON(http.StatusOK, gin.H{"accounts": responses})
	}
}

// GetAccount returns a single account owned by the calling user
func GetAccount(accounts interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, err := accounts.GetAccount(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			respondAccountError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewAccountResponse(acc))
	}
}

// DeleteAccount removes an account together with its emails and sync state
func DeleteAccount(accounts interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := accounts.DeleteAccount(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			respondAccountError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// TestConnection probes the provider with the stored credentials
func TestConnection(accounts interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := accounts.TestConnection(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			if errors.Is(err, account.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"connected": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true})
	}
}

// TriggerSync starts a sync pass for the account outside the regular tick
func TriggerSync(accounts interfaces.AccountService, syncScheduler interfaces.SyncScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Ownership check before handing the ID to the scheduler
		acc, err := accounts.GetAccount(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			respondAccountError(c, err)
			return
		}

		if err := syncScheduler.TriggerSync(c.Request.Context(), acc.ID); err != nil {
			if errors.Is(err, scheduler.ErrSyncInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"triggered": true})
	}
}

func respondAccountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrAccountExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrInvalidEmail),
		errors.Is(err, account.ErrMissingImapSetup),
		errors.Is(err, account.ErrMissingOAuth),
		errors.Is(err, account.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
