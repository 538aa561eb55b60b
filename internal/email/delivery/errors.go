package delivery

import (
	"errors"
	"log"
	"net/http"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/gin-gonic/gin"
)

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, emaildomain.ErrNotFound), errors.Is(err, emaildomain.ErrMailboxNotFound):
		return http.StatusNotFound
	case errors.Is(err, emaildomain.ErrAlreadySent), errors.Is(err, emaildomain.ErrReauthRequired):
		return http.StatusConflict
	case errors.Is(err, emaildomain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, emaildomain.ErrMailboxSuspended):
		return http.StatusLocked
	case errors.Is(err, emaildomain.ErrAuthentication):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err with its mapped status. Internal errors are logged.
func RespondError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
