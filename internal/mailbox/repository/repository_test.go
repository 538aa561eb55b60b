package repository

import (
	"context"
	"testing"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
	"mailsync-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermarkInitIsOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	audit := auditrepo.NewAuditRepository(db)
	repo := NewWatermarkRepository(db, audit)

	created, err := repo.Init(ctx, "a@x.com", 10)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Init(ctx, "a@x.com", 99)
	require.NoError(t, err)
	assert.False(t, created)

	wm, err := repo.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), wm.HistoryID)

	n, err := audit.CountByAction(ctx, "a@x.com", auditdomain.ActionWatermarkInit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWatermarkAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	audit := auditrepo.NewAuditRepository(db)
	repo := NewWatermarkRepository(db, audit)

	_, err := repo.Init(ctx, "a@x.com", 10)
	require.NoError(t, err)

	require.NoError(t, repo.Advance(ctx, "a@x.com", 10, 13))
	// stale expectation loses the compare-and-advance
	err = repo.Advance(ctx, "a@x.com", 10, 20)
	assert.ErrorIs(t, err, emaildomain.ErrWatermarkConflict)
	// backwards and equal moves are no-ops
	require.NoError(t, repo.Advance(ctx, "a@x.com", 13, 11))
	require.NoError(t, repo.Advance(ctx, "a@x.com", 13, 13))

	wm, err := repo.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(13), wm.HistoryID)

	n, err := audit.CountByAction(ctx, "a@x.com", auditdomain.ActionWatermarkAdvance)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWatermarkResetOverrides(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := NewWatermarkRepository(db, auditrepo.NewAuditRepository(db))

	require.NoError(t, repo.Reset(ctx, "a@x.com", 50))
	require.NoError(t, repo.Reset(ctx, "a@x.com", 40))

	wm, err := repo.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), wm.HistoryID)

	missing, err := repo.Get(ctx, "b@x.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMailboxSaveConnectedUpserts(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	audit := auditrepo.NewAuditRepository(db)
	repo := NewMailboxRepository(db, audit)

	require.NoError(t, repo.SaveConnected(ctx, &mailboxdomain.Mailbox{Email: "a@x.com", AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, repo.SetStatus(ctx, "a@x.com", mailboxdomain.StatusFailed, "boom"))
	require.NoError(t, repo.SetStatus(ctx, "a@x.com", mailboxdomain.StatusFailed, "boom again"))

	mb, err := repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, mailboxdomain.StatusFailed, mb.Status)
	assert.Equal(t, 2, mb.ConsecutiveFailures)
	assert.True(t, mb.Suspended())

	require.NoError(t, repo.SaveConnected(ctx, &mailboxdomain.Mailbox{Email: "a@x.com", AccessToken: "a2", RefreshToken: "r2"}))
	mb, err = repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, mailboxdomain.StatusActive, mb.Status)
	assert.Equal(t, 0, mb.ConsecutiveFailures)
	assert.Equal(t, "r2", mb.RefreshToken)

	require.NoError(t, repo.UpdateTokens(ctx, "a@x.com", "a3", "", time.Now().Add(time.Hour)))
	mb, err = repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a3", mb.AccessToken)
	assert.Equal(t, "r2", mb.RefreshToken)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	n, err := audit.CountByAction(ctx, "a@x.com", auditdomain.ActionMailboxConnected)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
