package dto

import (
	"mailsync-backend/internal/approval/usecase"
)

type PendingDraftsResponse struct {
	Drafts []usecase.PendingDraft `json:"drafts"`
}

type SendDraftRequest struct {
	MessageID uint64 `json:"message_id" binding:"required"`
}

type SendDraftResponse struct {
	MessageID      uint64 `json:"message_id"`
	State          string `json:"state"`
	ProviderSentID string `json:"provider_sent_id"`
	RequestKey     string `json:"request_key"`
}
