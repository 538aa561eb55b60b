package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/emersion/go-message/mail"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const user = "me"

// TokenSource hands out a usable access token for a mailbox.
type TokenSource interface {
	GetValidToken(ctx context.Context, mailbox string) (*oauth2.Token, error)
}

// Service implements emaildomain.MailProvider on top of the Gmail API.
type Service struct {
	tokens TokenSource
	cb     *gobreaker.CircuitBreaker
	opts   []option.ClientOption
}

var _ emaildomain.MailProvider = (*Service)(nil)

// NewService creates a Gmail provider. Extra client options are appended to every client it builds.
func NewService(tokens TokenSource, opts ...option.ClientOption) *Service {
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Service{
		tokens: tokens,
		cb:     gobreaker.NewCircuitBreaker(settings),
		opts:   opts,
	}
}

// GetGmailService creates a Gmail client authorised for mailbox
func (s *Service) GetGmailService(ctx context.Context, mailbox string) (*gmail.Service, error) {
	token, err := s.tokens.GetValidToken(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	return s.serviceForToken(ctx, token)
}

func (s *Service) serviceForToken(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, s.opts...)

	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// Profile returns the address and current history id for a freshly exchanged token.
func (s *Service) Profile(ctx context.Context, token *oauth2.Token) (string, uint64, error) {
	srv, err := s.serviceForToken(ctx, token)
	if err != nil {
		return "", 0, err
	}
	var profile *gmail.Profile
	err = s.execute("get_profile", func() error {
		var callErr error
		profile, callErr = srv.Users.GetProfile(user).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", 0, err
	}
	return profile.EmailAddress, profile.HistoryId, nil
}

// HistorySince lists messageAdded records after cursor, following every page.
func (s *Service) HistorySince(ctx context.Context, mailbox string, cursor uint64) (*emaildomain.HistoryPage, error) {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return nil, err
	}

	page := &emaildomain.HistoryPage{Cursor: cursor}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		call := srv.Users.History.List(user).
			StartHistoryId(cursor).
			HistoryTypes("messageAdded").
			MaxResults(500).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListHistoryResponse
		err := s.execute("history_list", func() error {
			var callErr error
			resp, callErr = call.Do()
			return callErr
		})
		if err != nil {
			if emaildomain.IsProviderNotFound(err) {
				return nil, fmt.Errorf("%w: start history id %d", emaildomain.ErrCursorExpired, cursor)
			}
			return nil, err
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				page.Changes = append(page.Changes, emaildomain.HistoryChange{
					MessageID: added.Message.Id,
					ThreadID:  added.Message.ThreadId,
					LabelIDs:  added.Message.LabelIds,
				})
			}
		}
		if resp.HistoryId > page.Cursor {
			page.Cursor = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return page, nil
}

func (s *Service) CurrentCursor(ctx context.Context, mailbox string) (uint64, error) {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return 0, err
	}
	var profile *gmail.Profile
	err = s.execute("get_profile", func() error {
		var callErr error
		profile, callErr = srv.Users.GetProfile(user).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return 0, err
	}
	return profile.HistoryId, nil
}

// ListRecent lists inbox messages received within window, newest first, up to max.
func (s *Service) ListRecent(ctx context.Context, mailbox string, window time.Duration, max int) ([]emaildomain.HistoryChange, error) {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 100
	}

	query := fmt.Sprintf("after:%d", time.Now().Add(-window).Unix())
	var changes []emaildomain.HistoryChange
	pageToken := ""

	for len(changes) < max {
		call := srv.Users.Messages.List(user).
			Q(query).
			LabelIds("INBOX").
			MaxResults(int64(max - len(changes))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := s.execute("messages_list", func() error {
			var callErr error
			resp, callErr = call.Do()
			return callErr
		})
		if err != nil {
			return nil, err
		}

		for _, m := range resp.Messages {
			changes = append(changes, emaildomain.HistoryChange{MessageID: m.Id, ThreadID: m.ThreadId})
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	// oldest first, so arrival order is kept when stored
	for i, j := 0, len(changes)-1; i < j; i, j = i+1, j-1 {
		changes[i], changes[j] = changes[j], changes[i]
	}
	return changes, nil
}

func (s *Service) GetMessage(ctx context.Context, mailbox, messageID string) (*emaildomain.ProviderMessage, error) {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	var msg *gmail.Message
	err = s.execute("messages_get", func() error {
		var callErr error
		msg, callErr = srv.Users.Messages.Get(user, messageID).Format("full").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return convertGmailMessage(msg), nil
}

// CreateDraft stores an RFC 5322 reply as a draft in the original thread.
func (s *Service) CreateDraft(ctx context.Context, mailbox string, req emaildomain.DraftRequest) (string, error) {
	raw, err := buildReply(mailbox, req)
	if err != nil {
		return "", emaildomain.NewPermanentError("drafts_create", 0, err)
	}

	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return "", err
	}

	draft := &gmail.Draft{
		Message: &gmail.Message{
			Raw:      base64.URLEncoding.EncodeToString(raw),
			ThreadId: req.ThreadID,
		},
	}
	var created *gmail.Draft
	err = s.execute("drafts_create", func() error {
		var callErr error
		created, callErr = srv.Users.Drafts.Create(user, draft).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (s *Service) SendDraft(ctx context.Context, mailbox, draftID string) (string, error) {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return "", err
	}
	var sent *gmail.Message
	err = s.execute("drafts_send", func() error {
		var callErr error
		sent, callErr = srv.Users.Drafts.Send(user, &gmail.Draft{Id: draftID}).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

// DeleteDraft removes a draft. A draft that is already gone is not an error.
func (s *Service) DeleteDraft(ctx context.Context, mailbox, draftID string) error {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return err
	}
	err = s.execute("drafts_delete", func() error {
		return srv.Users.Drafts.Delete(user, draftID).Context(ctx).Do()
	})
	if emaildomain.IsProviderNotFound(err) {
		return nil
	}
	return err
}

// Watch sets up push notifications for the mailbox inbox
func (s *Service) Watch(ctx context.Context, mailbox string, topicName string) (*emaildomain.WatchResult, error) {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return nil, err
	}

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}

	var resp *gmail.WatchResponse
	err = s.execute("watch", func() error {
		var callErr error
		resp, callErr = srv.Users.Watch(user, req).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Gmail] Watch started for %s. Expiration: %d, HistoryId: %d", mailbox, resp.Expiration, resp.HistoryId)

	return &emaildomain.WatchResult{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration),
	}, nil
}

// Stop stops push notifications for the mailbox
func (s *Service) Stop(ctx context.Context, mailbox string) error {
	srv, err := s.GetGmailService(ctx, mailbox)
	if err != nil {
		return err
	}
	return s.execute("stop", func() error {
		return srv.Users.Stop(user).Context(ctx).Do()
	})
}

// execute runs fn through the circuit breaker. Client errors do not count against it.
func (s *Service) execute(op string, fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	} else if err != nil {
		log.Printf("[Gmail] %s failed: breaker=%s err=%v", op, s.cb.State().String(), err)
	}
	return mapError(op, err)
}

type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// mapError converts Gmail and transport failures into ProviderError.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	// shutdown and caller cancellation are not provider failures
	if errors.Is(err, emaildomain.ErrReauthRequired) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return emaildomain.NewTransientError(op, 0, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return emaildomain.NewTransientError(op, apiErr.Code, err)
		case apiErr.Code == 403 && isRateLimit(apiErr):
			return emaildomain.NewTransientError(op, apiErr.Code, err)
		case apiErr.Code >= 500:
			return emaildomain.NewTransientError(op, apiErr.Code, err)
		default:
			return emaildomain.NewPermanentError(op, apiErr.Code, err)
		}
	}

	// timeouts and transport errors
	return emaildomain.NewTransientError(op, 0, err)
}

func isRateLimit(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(apiErr.Message, "Rate Limit")
}

// buildReply renders the reply as a single text/plain part.
func buildReply(mailbox string, req emaildomain.DraftRequest) ([]byte, error) {
	to, err := mail.ParseAddressList(req.To)
	if err != nil {
		return nil, fmt.Errorf("invalid reply recipient %q: %w", req.To, err)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: mailbox}})
	h.SetAddressList("To", to)
	h.SetSubject(req.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if req.InReplyTo != "" {
		h.Set("In-Reply-To", req.InReplyTo)
		refs := strings.TrimSpace(req.References + " " + req.InReplyTo)
		h.Set("References", refs)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(req.Body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Helper functions

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func convertGmailMessage(msg *gmail.Message) *emaildomain.ProviderMessage {
	out := &emaildomain.ProviderMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		LabelIDs:   msg.LabelIds,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}
	if msg.Payload == nil {
		return out
	}

	headers := msg.Payload.Headers
	out.Subject = getHeader(headers, "Subject")
	out.From = getHeader(headers, "From")
	out.To = getHeader(headers, "To")
	out.RFCMessageID = getHeader(headers, "Message-ID")
	out.References = getHeader(headers, "References")

	body, isHTML := getEmailBody(msg.Payload)
	if isHTML {
		body = htmlToText(body)
	}
	out.Body = strings.TrimSpace(body)
	return out
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// getEmailBody prefers text/plain and falls back to text/html.
func getEmailBody(payload *gmail.MessagePart) (string, bool) {
	if len(payload.Parts) == 0 && payload.Body != nil && payload.Body.Data != "" {
		if data, err := decodeBody(payload.Body.Data); err == nil {
			return data, payload.MimeType == "text/html"
		}
	}

	var htmlBody, plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
				switch part.MimeType {
				case "text/plain":
					if plainBody == "" {
						plainBody, _ = decodeBody(part.Body.Data)
					}
				case "text/html":
					if htmlBody == "" {
						htmlBody, _ = decodeBody(part.Body.Data)
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}
	findBody(payload.Parts)

	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, htmlBody != ""
}

func decodeBody(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail sometimes omits padding
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", err
		}
	}
	return string(decoded), nil
}

func htmlToText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&nbsp;", " ", "&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
