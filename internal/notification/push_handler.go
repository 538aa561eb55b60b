package notification

import (
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

const maxPushBody = 64 << 10

// pushEnvelope is the Pub/Sub push request body. Data arrives base64 encoded.
type pushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type PushHandler struct {
	ingestor *Ingestor
	secret   string
	header   string
}

// NewPushHandler verifies pushes against secret sent in header. An empty secret rejects every push.
func NewPushHandler(ingestor *Ingestor, secret, header string) *PushHandler {
	if secret == "" {
		log.Printf("[Push] PUSH_VERIFICATION_TOKEN is empty; all push requests will be rejected")
	}
	return &PushHandler{ingestor: ingestor, secret: secret, header: header}
}

// HandlePush answers 202 when a pass was scheduled and 204 otherwise. Rejections still
// get a 2xx so the publisher does not redeliver them.
func (h *PushHandler) HandlePush(c *gin.Context) {
	if !h.verify(c.GetHeader(h.header)) {
		log.Printf("[Push] %v: bad verification token from %s", emaildomain.ErrAuthentication, c.ClientIP())
		c.Status(http.StatusNoContent)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		log.Printf("[Push] Failed to read body: %v", err)
		c.Status(http.StatusNoContent)
		return
	}

	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Printf("[Push] Malformed envelope: %v", err)
		c.Status(http.StatusNoContent)
		return
	}

	err = h.ingestor.Accept(c.Request.Context(), env.Subscription, env.Message.Data)
	if err != nil {
		switch {
		case errors.Is(err, emaildomain.ErrAuthentication),
			errors.Is(err, emaildomain.ErrMailboxNotFound),
			errors.Is(err, emaildomain.ErrMailboxSuspended),
			errors.Is(err, ErrInvalidPayload):
			log.Printf("[Push] Rejected message %s: %v", env.Message.MessageID, err)
			c.Status(http.StatusNoContent)
		default:
			// storage trouble; let the publisher retry
			log.Printf("[Push] Failed to handle message %s: %v", env.Message.MessageID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "temporarily unavailable"})
		}
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *PushHandler) verify(token string) bool {
	if h.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
