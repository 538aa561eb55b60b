package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: message 1", emaildomain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: z@x.com", emaildomain.ErrMailboxNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: message 1", emaildomain.ErrAlreadySent), http.StatusConflict},
		{fmt.Errorf("refresh: %w", emaildomain.ErrReauthRequired), http.StatusConflict},
		{fmt.Errorf("%w: a@x.com is failed", emaildomain.ErrMailboxSuspended), http.StatusLocked},
		{emaildomain.NewTransientError("history_list", 503, errors.New("unavailable")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
