package api

import (
	"net/http"

	approvalDelivery "mailsync-backend/internal/approval/delivery"
	"mailsync-backend/internal/auth/delivery"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emailDelivery "mailsync-backend/internal/email/delivery"
	mailboxDelivery "mailsync-backend/internal/mailbox/delivery"
	"mailsync-backend/internal/notification"

	"github.com/gin-gonic/gin"
)

// Handlers groups the delivery handlers mounted by SetupRoutes.
type Handlers struct {
	Auth     *delivery.AuthHandler
	Mailbox  *mailboxDelivery.MailboxHandler
	Email    *emailDelivery.EmailHandler
	Approval *approvalDelivery.ApprovalHandler
	Push     *notification.PushHandler
	Settings *SettingsHandler
}

func SetupRoutes(r *gin.Engine, authUsecase authUsecase.AuthUsecase, h Handlers) {
	// Push endpoint authenticates with the shared verification token, not a JWT
	r.POST("/webhooks/gmail/push", h.Push.HandlePush)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		api.POST("/auth/token", h.Auth.IssueToken)

		// Operator devices (protected)
		devices := api.Group("/devices")
		devices.Use(delivery.AuthMiddleware(authUsecase))
		{
			devices.POST("", h.Auth.RegisterDevice)
			devices.DELETE("/:token", h.Auth.RemoveDevice)
		}

		// Mailbox routes (protected)
		mailboxes := api.Group("/mailboxes")
		mailboxes.Use(delivery.AuthMiddleware(authUsecase))
		{
			mailboxes.GET("", h.Mailbox.List)
			mailboxes.GET("/oauth/url", h.Mailbox.GetAuthURL)
			mailboxes.POST("/connect", h.Mailbox.Connect)
			mailboxes.GET("/:email", h.Mailbox.Status)
			mailboxes.POST("/:email/watch", h.Mailbox.Watch)
			mailboxes.GET("/:email/audit", h.Mailbox.Audit)

			mailboxes.POST("/:email/sync", h.Email.Sync)
			mailboxes.GET("/:email/messages", h.Email.GetMessages)
			mailboxes.GET("/:email/messages/:id", h.Email.GetMessageByID)

			mailboxes.POST("/:email/messages/:id/draft", h.Approval.CreateDraft)
			mailboxes.GET("/:email/drafts/pending", h.Approval.ListPending)
			mailboxes.POST("/:email/drafts/send", h.Approval.Send)
			mailboxes.POST("/:email/drafts/:id/discard", h.Approval.Discard)
		}

		// Settings routes (protected) - classifier runtime configuration
		settings := api.Group("/settings")
		settings.Use(delivery.AuthMiddleware(authUsecase))
		{
			settings.GET("/ollama", h.Settings.GetOllamaSettings)
			settings.PUT("/ollama", h.Settings.UpdateOllamaSettings)
			settings.POST("/ollama/test", h.Settings.TestOllamaConnection)
		}
	}
}
