package delivery

import (
	"net/http"
	"strconv"

	emaildelivery "mailsync-backend/internal/email/delivery"
	mailboxdto "mailsync-backend/internal/mailbox/dto"
	"mailsync-backend/internal/mailbox/usecase"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MailboxHandler struct {
	mailboxUsecase usecase.MailboxUsecase
}

func NewMailboxHandler(mailboxUsecase usecase.MailboxUsecase) *MailboxHandler {
	return &MailboxHandler{mailboxUsecase: mailboxUsecase}
}

func (h *MailboxHandler) GetAuthURL(c *gin.Context) {
	state := uuid.New().String()
	c.JSON(http.StatusOK, mailboxdto.AuthURLResponse{
		URL:   h.mailboxUsecase.AuthURL(state),
		State: state,
	})
}

func (h *MailboxHandler) Connect(c *gin.Context) {
	var req mailboxdto.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mailbox, err := h.mailboxUsecase.Connect(c.Request.Context(), req.Code)
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mailbox)
}

func (h *MailboxHandler) List(c *gin.Context) {
	mailboxes, err := h.mailboxUsecase.List(c.Request.Context())
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mailboxdto.MailboxesResponse{Mailboxes: mailboxes})
}

func (h *MailboxHandler) Status(c *gin.Context) {
	status, err := h.mailboxUsecase.Status(c.Request.Context(), c.Param("email"))
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Watch registers push delivery and rebaselines the watermark.
func (h *MailboxHandler) Watch(c *gin.Context) {
	result, err := h.mailboxUsecase.RegisterWatch(c.Request.Context(), c.Param("email"))
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"history_id": result.HistoryID,
		"expiration": result.Expiration,
	})
}

func (h *MailboxHandler) Audit(c *gin.Context) {
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.mailboxUsecase.AuditTrail(c.Request.Context(), c.Param("email"), limit)
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mailboxdto.AuditResponse{Entries: entries})
}
