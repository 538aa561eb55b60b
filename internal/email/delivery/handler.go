package delivery

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	emaildomain "mailsync-backend/internal/email/domain"
	emaildto "mailsync-backend/internal/email/dto"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
)

// SyncRunner runs a serialised pass on request.
type SyncRunner interface {
	SyncNow(ctx context.Context, mailbox string) (*usecase.SyncResult, error)
}

type EmailHandler struct {
	syncer   SyncRunner
	messages repository.MessageRepository
}

func NewEmailHandler(syncer SyncRunner, messages repository.MessageRepository) *EmailHandler {
	return &EmailHandler{
		syncer:   syncer,
		messages: messages,
	}
}

// Sync polls history for the mailbox now, waiting behind any pass already running.
func (h *EmailHandler) Sync(c *gin.Context) {
	result, err := h.syncer.SyncNow(c.Request.Context(), c.Param("email"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EmailHandler) GetMessages(c *gin.Context) {
	mailbox := c.Param("email")

	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	state := emaildomain.MessageState(c.Query("state"))
	messages, total, err := h.messages.ListByMailbox(c.Request.Context(), mailbox, state, limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.MessagesResponse{
		Messages: messages,
		Limit:    limit,
		Offset:   offset,
		Total:    total,
	})
}

func (h *EmailHandler) GetMessageByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := h.messages.FindByID(c.Request.Context(), c.Param("email"), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	if msg == nil {
		RespondError(c, fmt.Errorf("%w: message %d", emaildomain.ErrNotFound, id))
		return
	}

	c.JSON(http.StatusOK, msg)
}
