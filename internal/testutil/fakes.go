package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
)

type historyRecord struct {
	id     uint64
	change emaildomain.HistoryChange
}

// FakeProvider is an in-memory MailProvider with a single history feed shared by all mailboxes.
type FakeProvider struct {
	mu         sync.Mutex
	cursor     uint64
	history    []historyRecord
	messages   map[string]*emaildomain.ProviderMessage
	drafts     map[string]emaildomain.DraftRequest
	nextDraft  int
	fetchFails map[string]error

	HistoryErr    error
	CursorExpired bool
	SendErr       error
	SendDelay     time.Duration
	StopErr       error

	HistoryCalls atomic.Int64
	FetchCalls   atomic.Int64
	SendCalls    atomic.Int64
	DraftCalls   atomic.Int64
	WatchCalls   atomic.Int64
	StopCalls    atomic.Int64
}

func NewFakeProvider(cursor uint64) *FakeProvider {
	return &FakeProvider{
		cursor:     cursor,
		messages:   make(map[string]*emaildomain.ProviderMessage),
		drafts:     make(map[string]emaildomain.DraftRequest),
		fetchFails: make(map[string]error),
	}
}

// Deliver appends a message to the history feed and returns the new cursor.
func (f *FakeProvider) Deliver(msg emaildomain.ProviderMessage) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor++
	if msg.ThreadID == "" {
		msg.ThreadID = "thread-" + msg.ID
	}
	if msg.RFCMessageID == "" {
		msg.RFCMessageID = fmt.Sprintf("<%s@example.com>", msg.ID)
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	m := msg
	f.messages[msg.ID] = &m
	f.history = append(f.history, historyRecord{
		id:     f.cursor,
		change: emaildomain.HistoryChange{MessageID: msg.ID, ThreadID: msg.ThreadID, LabelIDs: msg.LabelIDs},
	})
	return f.cursor
}

// SetCursor moves the provider cursor without adding history.
func (f *FakeProvider) SetCursor(cursor uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
}

// Remove deletes a message so later fetches see a 404.
func (f *FakeProvider) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, id)
}

// FailFetch makes GetMessage for id return err until cleared with nil.
func (f *FakeProvider) FailFetch(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fetchFails, id)
		return
	}
	f.fetchFails[id] = err
}

func (f *FakeProvider) Draft(id string) (emaildomain.DraftRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	return d, ok
}

func (f *FakeProvider) HistorySince(ctx context.Context, mailbox string, cursor uint64) (*emaildomain.HistoryPage, error) {
	f.HistoryCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	if f.CursorExpired {
		return nil, emaildomain.ErrCursorExpired
	}
	page := &emaildomain.HistoryPage{Cursor: f.cursor}
	for _, rec := range f.history {
		if rec.id > cursor {
			page.Changes = append(page.Changes, rec.change)
		}
	}
	return page, nil
}

func (f *FakeProvider) CurrentCursor(ctx context.Context, mailbox string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return 0, f.HistoryErr
	}
	return f.cursor, nil
}

func (f *FakeProvider) ListRecent(ctx context.Context, mailbox string, window time.Duration, max int) ([]emaildomain.HistoryChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var changes []emaildomain.HistoryChange
	cutoff := time.Now().Add(-window)
	for _, rec := range f.history {
		msg, ok := f.messages[rec.change.MessageID]
		if !ok || msg.ReceivedAt.Before(cutoff) {
			continue
		}
		changes = append(changes, emaildomain.HistoryChange{MessageID: rec.change.MessageID, ThreadID: rec.change.ThreadID})
	}
	if len(changes) > max {
		changes = changes[len(changes)-max:]
	}
	return changes, nil
}

func (f *FakeProvider) GetMessage(ctx context.Context, mailbox, messageID string) (*emaildomain.ProviderMessage, error) {
	f.FetchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fetchFails[messageID]; ok {
		return nil, err
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, emaildomain.NewPermanentError("messages_get", 404, errors.New("not found"))
	}
	cp := *msg
	return &cp, nil
}

func (f *FakeProvider) CreateDraft(ctx context.Context, mailbox string, req emaildomain.DraftRequest) (string, error) {
	f.DraftCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDraft++
	id := fmt.Sprintf("draft-%d", f.nextDraft)
	f.drafts[id] = req
	return id, nil
}

func (f *FakeProvider) SendDraft(ctx context.Context, mailbox, draftID string) (string, error) {
	f.SendCalls.Add(1)
	if f.SendDelay > 0 {
		time.Sleep(f.SendDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	if _, ok := f.drafts[draftID]; !ok {
		return "", emaildomain.NewPermanentError("drafts_send", 404, errors.New("draft not found"))
	}
	delete(f.drafts, draftID)
	return "sent-" + draftID, nil
}

func (f *FakeProvider) DeleteDraft(ctx context.Context, mailbox, draftID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, draftID)
	return nil
}

func (f *FakeProvider) Watch(ctx context.Context, mailbox string, topic string) (*emaildomain.WatchResult, error) {
	f.WatchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return &emaildomain.WatchResult{HistoryID: f.cursor, Expiration: time.Now().Add(7 * 24 * time.Hour)}, nil
}

func (f *FakeProvider) Stop(ctx context.Context, mailbox string) error {
	f.StopCalls.Add(1)
	return f.StopErr
}

// FakeClassifier returns a fixed verdict or error.
type FakeClassifier struct {
	mu     sync.Mutex
	Result emaildomain.Classification
	Err    error
	Delay  time.Duration
	Calls  atomic.Int64
}

func (c *FakeClassifier) Classify(ctx context.Context, input emaildomain.ClassificationInput) (*emaildomain.Classification, error) {
	c.Calls.Add(1)
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	result := c.Result
	return &result, nil
}
