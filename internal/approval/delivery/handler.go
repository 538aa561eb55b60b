package delivery

import (
	"net/http"
	"strconv"

	approvaldto "mailsync-backend/internal/approval/dto"
	"mailsync-backend/internal/approval/usecase"
	emaildelivery "mailsync-backend/internal/email/delivery"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdempotencyHeader carries the caller's send request key.
const IdempotencyHeader = "Idempotency-Key"

type ApprovalHandler struct {
	approvalUsecase usecase.ApprovalUsecase
}

func NewApprovalHandler(approvalUsecase usecase.ApprovalUsecase) *ApprovalHandler {
	return &ApprovalHandler{approvalUsecase: approvalUsecase}
}

func (h *ApprovalHandler) ListPending(c *gin.Context) {
	drafts, err := h.approvalUsecase.ListPending(c.Request.Context(), c.Param("email"))
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, approvaldto.PendingDraftsResponse{Drafts: drafts})
}

// Send sends the draft for a message. Without an Idempotency-Key header every request is distinct.
func (h *ApprovalHandler) Send(c *gin.Context) {
	var req approvaldto.SendDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := c.GetHeader(IdempotencyHeader)
	if key == "" {
		key = uuid.New().String()
	}

	msg, err := h.approvalUsecase.SendByMessage(c.Request.Context(), c.Param("email"), req.MessageID, key)
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, approvaldto.SendDraftResponse{
		MessageID:      msg.ID,
		State:          string(msg.State),
		ProviderSentID: msg.ProviderSentID,
		RequestKey:     key,
	})
}

// CreateDraft drafts a reply for a classified message on operator request.
func (h *ApprovalHandler) CreateDraft(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}

	msg, err := h.approvalUsecase.DraftForMessage(c.Request.Context(), c.Param("email"), id)
	if err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ApprovalHandler) Discard(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}

	if err := h.approvalUsecase.DiscardDraft(c.Request.Context(), c.Param("email"), id); err != nil {
		emaildelivery.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "draft discarded"})
}

func messageID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return id, true
}
