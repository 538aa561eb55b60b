package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type staticTokens struct {
	err error
}

func (s staticTokens) GetValidToken(ctx context.Context, mailbox string) (*oauth2.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &oauth2.Token{AccessToken: "test-token", TokenType: "Bearer"}, nil
}

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewService(staticTokens{}, option.WithEndpoint(srv.URL+"/"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHistorySinceFollowsPages(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/users/me/history"))
		assert.Equal(t, "10", r.URL.Query().Get("startHistoryId"))
		assert.Equal(t, "messageAdded", r.URL.Query().Get("historyTypes"))

		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"historyId":     "12",
				"nextPageToken": "p2",
				"history": []any{
					map[string]any{"messagesAdded": []any{
						map[string]any{"message": map[string]any{"id": "m1", "threadId": "t1", "labelIds": []string{"INBOX"}}},
						map[string]any{"message": map[string]any{"id": "m2", "threadId": "t2"}}},
					},
				},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"historyId": "13",
			"history": []any{
				map[string]any{"messagesAdded": []any{
					map[string]any{"message": map[string]any{"id": "m2", "threadId": "t2"}},
					map[string]any{"message": map[string]any{"id": "m3", "threadId": "t3", "labelIds": []string{"SENT"}}}},
				},
			},
		})
	})

	page, err := svc.HistorySince(context.Background(), "a@x.com", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), page.Cursor)
	require.Len(t, page.Changes, 3)
	assert.Equal(t, "m1", page.Changes[0].MessageID)
	assert.Equal(t, "m3", page.Changes[2].MessageID)
	assert.True(t, emaildomain.HasLabel(page.Changes[2].LabelIDs, "SENT"))
}

func TestHistorySinceExpiredCursor(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"code": 404, "message": "Requested entity was not found."},
		})
	})

	_, err := svc.HistorySince(context.Background(), "a@x.com", 1)
	assert.ErrorIs(t, err, emaildomain.ErrCursorExpired)
}

func TestGetMessageConvertsPayload(t *testing.T) {
	body := base64.URLEncoding.EncodeToString([]byte("Hi there,\nCan we meet Tuesday?"))
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/m1"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":           "m1",
			"threadId":     "t1",
			"labelIds":     []string{"INBOX", "UNREAD"},
			"internalDate": "1700000000000",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []any{
					map[string]string{"name": "Subject", "value": "Meeting"},
					map[string]string{"name": "From", "value": "Bob <b@y.com>"},
					map[string]string{"name": "To", "value": "a@x.com"},
					map[string]string{"name": "Message-Id", "value": "<abc@y.com>"},
				},
				"parts": []any{
					map[string]any{"mimeType": "text/html", "body": map[string]any{"data": base64.URLEncoding.EncodeToString([]byte("<p>html</p>"))}},
					map[string]any{"mimeType": "text/plain", "body": map[string]any{"data": body}},
				},
			},
		})
	})

	msg, err := svc.GetMessage(context.Background(), "a@x.com", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Meeting", msg.Subject)
	assert.Equal(t, "Bob <b@y.com>", msg.From)
	assert.Equal(t, "<abc@y.com>", msg.RFCMessageID)
	assert.Equal(t, "Hi there,\nCan we meet Tuesday?", msg.Body)
	assert.Equal(t, int64(1700000000), msg.ReceivedAt.Unix())
}

func TestCreateDraftBuildsThreadedReply(t *testing.T) {
	var captured gmail.Draft
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, http.StatusOK, map[string]any{"id": "d1", "message": map[string]any{"id": "x", "threadId": "t1"}})
	})

	id, err := svc.CreateDraft(context.Background(), "a@x.com", emaildomain.DraftRequest{
		ThreadID:   "t1",
		InReplyTo:  "<abc@y.com>",
		References: "<root@y.com>",
		To:         "Bob <b@y.com>",
		Subject:    "Re: Meeting",
		Body:       "Tuesday works.",
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", id)
	assert.Equal(t, "t1", captured.Message.ThreadId)

	raw, err := base64.URLEncoding.DecodeString(captured.Message.Raw)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "In-Reply-To: <abc@y.com>")
	assert.Contains(t, text, "References: <root@y.com> <abc@y.com>")
	assert.Contains(t, text, "Subject: Re: Meeting")
	assert.Contains(t, text, "Tuesday works.")
}

func TestDeleteDraftIgnoresMissing(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "gone"}})
	})
	assert.NoError(t, svc.DeleteDraft(context.Background(), "a@x.com", "d1"))
}

func TestTokenErrorsPassThrough(t *testing.T) {
	svc := NewService(staticTokens{err: emaildomain.ErrReauthRequired})
	_, err := svc.CurrentCursor(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, emaildomain.ErrReauthRequired)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		code      int
	}{
		{"server error", &googleapi.Error{Code: 503}, true, 503},
		{"too many requests", &googleapi.Error{Code: 429}, true, 429},
		{"rate limited 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true, 403},
		{"forbidden", &googleapi.Error{Code: 403}, false, 403},
		{"not found", &googleapi.Error{Code: 404}, false, 404},
		{"bad request", &googleapi.Error{Code: 400}, false, 400},
		{"transport", errors.New("connection reset"), true, 0},
		{"deadline", context.DeadlineExceeded, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError("op", tt.err)
			var pe *emaildomain.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.transient, pe.Transient)
			assert.Equal(t, tt.code, pe.Code)
		})
	}

	assert.NoError(t, mapError("op", nil))

	canceled := mapError("op", fmt.Errorf("get message: %w", context.Canceled))
	assert.ErrorIs(t, canceled, context.Canceled)
	assert.False(t, emaildomain.IsPermanent(canceled))
	assert.False(t, emaildomain.IsTransient(canceled))
}
