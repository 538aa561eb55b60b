package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
	"mailsync-backend/internal/mailbox/repository"
	"mailsync-backend/pkg/utils/crypto"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// refreshSkew renews tokens this long before they expire.
const refreshSkew = time.Minute

// TokenStore keeps encrypted OAuth credentials per mailbox and refreshes them on demand.
type TokenStore struct {
	repo   repository.MailboxRepository
	cipher *crypto.Cipher
	oauth  *oauth2.Config
	group  singleflight.Group
}

func NewTokenStore(repo repository.MailboxRepository, cipher *crypto.Cipher, oauth *oauth2.Config) *TokenStore {
	return &TokenStore{
		repo:   repo,
		cipher: cipher,
		oauth:  oauth,
	}
}

// Store persists a freshly exchanged token, creating or reconnecting the mailbox.
func (s *TokenStore) Store(ctx context.Context, email string, token *oauth2.Token) (*mailboxdomain.Mailbox, error) {
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	access, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}

	var refresh string
	switch {
	case token.RefreshToken != "":
		if refresh, err = s.cipher.Encrypt(token.RefreshToken); err != nil {
			return nil, err
		}
	case existing != nil && existing.RefreshToken != "":
		// reconsent without offline access keeps the stored refresh token
		refresh = existing.RefreshToken
	default:
		return nil, fmt.Errorf("no refresh token granted for %s", email)
	}

	mailbox := &mailboxdomain.Mailbox{
		Email:        email,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenExpiry:  token.Expiry,
	}
	if err := s.repo.SaveConnected(ctx, mailbox); err != nil {
		return nil, err
	}
	return mailbox, nil
}

// GetValidToken returns a non-expired access token, refreshing at most once per mailbox concurrently.
func (s *TokenStore) GetValidToken(ctx context.Context, email string) (*oauth2.Token, error) {
	mailbox, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if mailbox == nil {
		return nil, fmt.Errorf("%w: %s", emaildomain.ErrMailboxNotFound, email)
	}
	if mailbox.Status == mailboxdomain.StatusReauthRequired {
		return nil, fmt.Errorf("%w: %s", emaildomain.ErrReauthRequired, email)
	}

	if time.Until(mailbox.TokenExpiry) > refreshSkew {
		access, err := s.cipher.Decrypt(mailbox.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt access token for %s: %w", email, err)
		}
		if access != "" {
			return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: mailbox.TokenExpiry}, nil
		}
	}

	v, err, _ := s.group.Do(email, func() (interface{}, error) {
		return s.refresh(ctx, mailbox)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (s *TokenStore) refresh(ctx context.Context, mailbox *mailboxdomain.Mailbox) (*oauth2.Token, error) {
	refreshToken, err := s.cipher.Decrypt(mailbox.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token for %s: %w", mailbox.Email, err)
	}
	if refreshToken == "" {
		return nil, s.requireReauth(ctx, mailbox.Email, "no refresh token stored")
	}

	src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)})
	token, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, s.requireReauth(ctx, mailbox.Email, retrieveErr.ErrorDescription)
		}
		return nil, emaildomain.NewTransientError("token_refresh", 0, err)
	}

	access, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	rotated := ""
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if rotated, err = s.cipher.Encrypt(token.RefreshToken); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateTokens(ctx, mailbox.Email, access, rotated, token.Expiry); err != nil {
		return nil, err
	}
	log.Printf("[TokenStore] Refreshed access token for %s (expires %s)", mailbox.Email, token.Expiry.Format(time.RFC3339))
	return token, nil
}

func (s *TokenStore) requireReauth(ctx context.Context, email, reason string) error {
	log.Printf("[TokenStore] Refresh token for %s rejected: %s", email, reason)
	if err := s.repo.SetStatus(ctx, email, mailboxdomain.StatusReauthRequired, reason); err != nil {
		log.Printf("[TokenStore] Failed to mark %s reauth_required: %v", email, err)
	}
	return fmt.Errorf("%w: %s", emaildomain.ErrReauthRequired, email)
}
