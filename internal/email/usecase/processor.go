package usecase

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/retry"

	"github.com/googleapis/gax-go/v2"
)

// maxClassifierContent caps the body sent to the classifier.
const maxClassifierContent = 8000

// DraftManager creates reply drafts and applies the send policy to them.
type DraftManager interface {
	CreateReplyDraft(ctx context.Context, msg *emaildomain.Message) (*emaildomain.Message, error)
	ApplyPolicy(ctx context.Context, msg *emaildomain.Message) error
}

// ProcessorConfig controls the post-ingest pipeline.
type ProcessorConfig struct {
	ClassifierTimeout time.Duration
	MaxAttempts       int
	Backoff           gax.Backoff
	AutoCreateDrafts  bool
}

// Processor moves a stored message through classification, drafting and the send policy.
// Each stage is keyed on the persisted state, so a rerun resumes where the last one stopped.
type Processor struct {
	messages   repository.MessageRepository
	classifier emaildomain.Classifier
	drafts     DraftManager
	cfg        ProcessorConfig
}

func NewProcessor(messages repository.MessageRepository, classifier emaildomain.Classifier, drafts DraftManager, cfg ProcessorConfig) *Processor {
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = 30 * time.Second
	}
	return &Processor{
		messages:   messages,
		classifier: classifier,
		drafts:     drafts,
		cfg:        cfg,
	}
}

func (p *Processor) Process(ctx context.Context, msg *emaildomain.Message) error {
	if msg.Direction != emaildomain.DirectionInbound {
		return nil
	}

	if msg.State == emaildomain.StateReceived {
		if err := p.classify(ctx, msg); err != nil {
			return err
		}
		reloaded, err := p.reload(ctx, msg)
		if err != nil {
			return err
		}
		msg = reloaded
	}

	if msg.State == emaildomain.StateClassified {
		if !p.cfg.AutoCreateDrafts {
			return nil
		}
		drafted, err := p.drafts.CreateReplyDraft(ctx, msg)
		if err != nil {
			return fmt.Errorf("create draft for message %d: %w", msg.ID, err)
		}
		msg = drafted
	}

	if msg.State == emaildomain.StateDrafted {
		return p.drafts.ApplyPolicy(ctx, msg)
	}
	return nil
}

// classify never fails the message: a classifier error or timeout is stored as
// confidence 0 so the reply always goes to a human.
func (p *Processor) classify(ctx context.Context, msg *emaildomain.Message) error {
	threadLength, err := p.messages.CountByThread(ctx, msg.Mailbox, msg.ThreadID)
	if err != nil {
		return err
	}

	input := emaildomain.ClassificationInput{
		Subject:      msg.Subject,
		From:         msg.From,
		Content:      truncate(msg.Content, maxClassifierContent),
		ThreadLength: int(threadLength),
	}

	var result *emaildomain.Classification
	err = retry.Do(ctx, p.cfg.MaxAttempts, p.cfg.Backoff, emaildomain.IsTransient, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifierTimeout)
		defer cancel()
		var callErr error
		result, callErr = p.classifier.Classify(cctx, input)
		return callErr
	})

	update := repository.ClassificationUpdate{
		Category:         emaildomain.CategoryUnclassified,
		Confidence:       0,
		RequiresApproval: true,
		Status:           emaildomain.ClassificationFailed,
	}
	if err != nil || result == nil {
		log.Printf("[Processor] Classifier failed for message %d, routing to manual review: %v", msg.ID, err)
	} else {
		update = repository.ClassificationUpdate{
			Category:         normalizeCategory(result.Category),
			Confidence:       clamp01(result.Confidence),
			SuggestedSubject: result.SuggestedSubject,
			SuggestedReply:   result.SuggestedReply,
			RequiresApproval: result.RequiresApproval,
			Status:           emaildomain.ClassificationSucceeded,
		}
	}
	return p.messages.SaveClassification(ctx, msg.ID, update)
}

func (p *Processor) reload(ctx context.Context, msg *emaildomain.Message) (*emaildomain.Message, error) {
	reloaded, err := p.messages.FindByID(ctx, msg.Mailbox, msg.ID)
	if err != nil {
		return nil, err
	}
	if reloaded == nil {
		return nil, fmt.Errorf("%w: message %d", emaildomain.ErrNotFound, msg.ID)
	}
	return reloaded, nil
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return emaildomain.CategoryUnclassified
	}
	return category
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}
