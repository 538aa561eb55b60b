package usecase

import (
	"context"
	"fmt"
	"log"

	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
	"mailsync-backend/internal/mailbox/repository"

	"golang.org/x/oauth2"
)

// ProfileFetcher resolves the mailbox address behind a freshly exchanged token.
type ProfileFetcher interface {
	Profile(ctx context.Context, token *oauth2.Token) (string, uint64, error)
}

// MailboxUsecase covers connecting mailboxes and registering push watches.
type MailboxUsecase interface {
	AuthURL(state string) string
	Connect(ctx context.Context, code string) (*mailboxdomain.Mailbox, error)
	RegisterWatch(ctx context.Context, email string) (*emaildomain.WatchResult, error)
	RenewWatch(ctx context.Context, email string) error
	Status(ctx context.Context, email string) (*mailboxdomain.MailboxStatus, error)
	List(ctx context.Context) ([]mailboxdomain.Mailbox, error)
	AuditTrail(ctx context.Context, email string, limit int) ([]auditdomain.Entry, error)
}

type mailboxUsecase struct {
	mailboxRepo   repository.MailboxRepository
	watermarkRepo repository.WatermarkRepository
	auditRepo     auditrepo.AuditRepository
	tokens        *TokenStore
	oauth         *oauth2.Config
	profiles      ProfileFetcher
	provider      emaildomain.MailProvider
	topic         string
}

// NewMailboxUsecase creates a new instance of mailboxUsecase
func NewMailboxUsecase(
	mailboxRepo repository.MailboxRepository,
	watermarkRepo repository.WatermarkRepository,
	auditRepo auditrepo.AuditRepository,
	tokens *TokenStore,
	oauth *oauth2.Config,
	profiles ProfileFetcher,
	provider emaildomain.MailProvider,
	topic string,
) MailboxUsecase {
	return &mailboxUsecase{
		mailboxRepo:   mailboxRepo,
		watermarkRepo: watermarkRepo,
		auditRepo:     auditRepo,
		tokens:        tokens,
		oauth:         oauth,
		profiles:      profiles,
		provider:      provider,
		topic:         topic,
	}
}

func (u *mailboxUsecase) AuthURL(state string) string {
	return u.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Connect exchanges an authorization code and stores the mailbox credentials.
func (u *mailboxUsecase) Connect(ctx context.Context, code string) (*mailboxdomain.Mailbox, error) {
	token, err := u.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	email, _, err := u.profiles.Profile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox profile: %w", err)
	}

	mailbox, err := u.tokens.Store(ctx, email, token)
	if err != nil {
		return nil, err
	}
	log.Printf("[Mailbox] Connected %s", email)
	return mailbox, nil
}

// RegisterWatch (re)starts push delivery and resets the watermark to the watch baseline.
// This is the only path that may move the watermark backwards.
func (u *mailboxUsecase) RegisterWatch(ctx context.Context, email string) (*emaildomain.WatchResult, error) {
	mailbox, err := u.requireMailbox(ctx, email)
	if err != nil {
		return nil, err
	}

	// Gmail keeps one watch per user; a missing one is not an error here.
	if err := u.provider.Stop(ctx, mailbox.Email); err != nil {
		log.Printf("[Mailbox] Could not stop previous watch for %s: %v", mailbox.Email, err)
	}

	result, err := u.provider.Watch(ctx, mailbox.Email, u.topic)
	if err != nil {
		return nil, err
	}

	if err := u.watermarkRepo.Reset(ctx, mailbox.Email, result.HistoryID); err != nil {
		return nil, err
	}
	if err := u.mailboxRepo.SetWatchExpiration(ctx, mailbox.Email, result.Expiration); err != nil {
		return nil, err
	}
	if mailbox.Status != mailboxdomain.StatusActive {
		if err := u.mailboxRepo.SetStatus(ctx, mailbox.Email, mailboxdomain.StatusActive, ""); err != nil {
			return nil, err
		}
	}

	entry := auditrepo.NewEntry(auditdomain.ActorHuman, auditdomain.ActionWatchRegistered, "mailbox", mailbox.Email, mailbox.Email,
		map[string]any{"history_id": result.HistoryID, "expiration": result.Expiration})
	if err := u.auditRepo.Append(ctx, entry); err != nil {
		return nil, err
	}
	return result, nil
}

// RenewWatch extends push delivery without touching the watermark.
func (u *mailboxUsecase) RenewWatch(ctx context.Context, email string) error {
	mailbox, err := u.requireMailbox(ctx, email)
	if err != nil {
		return err
	}
	result, err := u.provider.Watch(ctx, mailbox.Email, u.topic)
	if err != nil {
		return err
	}
	log.Printf("[Mailbox] Renewed watch for %s until %s", mailbox.Email, result.Expiration)
	return u.mailboxRepo.SetWatchExpiration(ctx, mailbox.Email, result.Expiration)
}

func (u *mailboxUsecase) Status(ctx context.Context, email string) (*mailboxdomain.MailboxStatus, error) {
	mailbox, err := u.requireMailbox(ctx, email)
	if err != nil {
		return nil, err
	}
	wm, err := u.watermarkRepo.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	return &mailboxdomain.MailboxStatus{Mailbox: mailbox, Watermark: wm}, nil
}

func (u *mailboxUsecase) List(ctx context.Context) ([]mailboxdomain.Mailbox, error) {
	return u.mailboxRepo.List(ctx)
}

func (u *mailboxUsecase) AuditTrail(ctx context.Context, email string, limit int) ([]auditdomain.Entry, error) {
	if _, err := u.requireMailbox(ctx, email); err != nil {
		return nil, err
	}
	return u.auditRepo.ListByMailbox(ctx, email, limit)
}

func (u *mailboxUsecase) requireMailbox(ctx context.Context, email string) (*mailboxdomain.Mailbox, error) {
	mailbox, err := u.mailboxRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if mailbox == nil {
		return nil, fmt.Errorf("%w: %s", emaildomain.ErrMailboxNotFound, email)
	}
	return mailbox, nil
}
