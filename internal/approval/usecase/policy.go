package usecase

import (
	"fmt"
	"strings"

	emaildomain "mailsync-backend/internal/email/domain"
)

// Policy decides whether a drafted reply may be sent without a human.
// The zero value never auto-sends.
type Policy struct {
	Enabled           bool
	Threshold         float64
	AllowedCategories []string
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	AutoSend bool
	Reason   string
}

// Decide is the single place the auto-send rule is evaluated.
func (p Policy) Decide(msg *emaildomain.Message) Decision {
	if !p.Enabled {
		return Decision{Reason: "auto-send disabled"}
	}
	if msg.ClassificationStatus != emaildomain.ClassificationSucceeded || msg.ConfidenceScore == nil {
		return Decision{Reason: "message not classified"}
	}
	if msg.ClassifierApproval {
		return Decision{Reason: "classifier requested approval"}
	}
	if msg.Confidence() <= p.Threshold {
		return Decision{Reason: fmt.Sprintf("confidence %.2f does not exceed %.2f", msg.Confidence(), p.Threshold)}
	}
	if !p.allows(msg.Category) {
		return Decision{Reason: fmt.Sprintf("category %q not in allow-list", msg.Category)}
	}
	return Decision{AutoSend: true, Reason: fmt.Sprintf("category %q at confidence %.2f", msg.Category, msg.Confidence())}
}

func (p Policy) allows(category string) bool {
	for _, allowed := range p.AllowedCategories {
		if strings.EqualFold(strings.TrimSpace(allowed), category) {
			return true
		}
	}
	return false
}
