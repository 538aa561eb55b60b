package dto

import (
	auditdomain "mailsync-backend/internal/audit/domain"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
)

type AuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type ConnectRequest struct {
	Code string `json:"code" binding:"required"`
}

type MailboxesResponse struct {
	Mailboxes []mailboxdomain.Mailbox `json:"mailboxes"`
}

type AuditResponse struct {
	Entries []auditdomain.Entry `json:"entries"`
}
