package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/goccy/go-json"
)

// DefaultCategories is offered to the model when no list is configured.
var DefaultCategories = []string{
	"scheduling", "question", "support", "billing", "sales", "personal", "notification", "spam", "other",
}

// ErrMalformedVerdict is returned when the model answer holds no usable JSON object.
var ErrMalformedVerdict = errors.New("malformed classifier verdict")

// Classifier implements emaildomain.Classifier on top of a Generator.
type Classifier struct {
	generator  Generator
	categories []string
}

var _ emaildomain.Classifier = (*Classifier)(nil)

func NewClassifier(generator Generator, categories []string) *Classifier {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	return &Classifier{generator: generator, categories: categories}
}

func (c *Classifier) Classify(ctx context.Context, input emaildomain.ClassificationInput) (*emaildomain.Classification, error) {
	answer, err := c.generator.Generate(ctx, c.prompt(input))
	if err != nil {
		return nil, err
	}
	return parseVerdict(answer)
}

func (c *Classifier) prompt(input emaildomain.ClassificationInput) string {
	return fmt.Sprintf(`You triage inbound email for a support inbox and draft replies.

Classify the email into exactly one category from: %s.
Rate your confidence from 0 to 1 that the category is right AND that your reply can be sent without edits.
Set requires_approval to true if the email involves money, legal matters, complaints, personal data, or anything you are unsure about.
Write the reply in the language of the email. Do not quote the original message. Do not add a signature.

Reply with a single JSON object and nothing else:
{"category": "...", "confidence": 0.0, "suggested_subject": "...", "suggested_reply": "...", "requires_approval": true}

THREAD LENGTH: %d
FROM: %s
SUBJECT: %s

EMAIL:
%s`, strings.Join(c.categories, ", "), input.ThreadLength, input.From, input.Subject, input.Content)
}

type rawVerdict struct {
	Category         string   `json:"category"`
	Confidence       *float64 `json:"confidence"`
	SuggestedSubject string   `json:"suggested_subject"`
	SuggestedReply   string   `json:"suggested_reply"`
	RequiresApproval *bool    `json:"requires_approval"`
}

// parseVerdict extracts the first JSON object from a model answer. Missing fields
// fall back to the cautious value: no confidence, approval required.
func parseVerdict(answer string) (*emaildomain.Classification, error) {
	text := strings.TrimSpace(answer)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrMalformedVerdict, truncateForLog(text))
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}

	verdict := &emaildomain.Classification{
		Category:         strings.ToLower(strings.TrimSpace(raw.Category)),
		SuggestedSubject: strings.TrimSpace(raw.SuggestedSubject),
		SuggestedReply:   strings.TrimSpace(raw.SuggestedReply),
		RequiresApproval: true,
	}
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		verdict.Confidence = math.Max(0, math.Min(1, *raw.Confidence))
	}
	if raw.RequiresApproval != nil {
		verdict.RequiresApproval = *raw.RequiresApproval
	}
	if verdict.Category == "" {
		return nil, fmt.Errorf("%w: missing category", ErrMalformedVerdict)
	}
	return verdict, nil
}

func truncateForLog(s string) string {
	if r := []rune(s); len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return s
}
