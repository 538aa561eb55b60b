package dto

import (
	emaildomain "mailsync-backend/internal/email/domain"
)

type MessagesResponse struct {
	Messages []emaildomain.Message `json:"messages"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
	Total    int64                 `json:"total"`
}
