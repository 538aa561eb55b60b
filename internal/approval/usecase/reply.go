package usecase

import (
	"regexp"
	"strings"

	emaildomain "mailsync-backend/internal/email/domain"
)

var (
	replyPrefix = regexp.MustCompile(`(?i)^\s*(re|aw|sv)\s*:`)
	// "On Tue, 1 Jan 2030 at 10:00, Bob <b@y.com> wrote:"
	quoteHeader = regexp.MustCompile(`(?im)^\s*on\s.+wrote:\s*$`)
)

// replySubject prefers the classifier suggestion, otherwise prefixes the original subject once.
func replySubject(msg *emaildomain.Message) string {
	if s := strings.TrimSpace(msg.SuggestedSubject); s != "" {
		return s
	}
	subject := strings.TrimSpace(msg.Subject)
	if replyPrefix.MatchString(subject) {
		return subject
	}
	if subject == "" {
		return "Re:"
	}
	return "Re: " + subject
}

// stripQuoted removes quoted history and the signature block from a suggested reply body.
func stripQuoted(body string) string {
	if loc := quoteHeader.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "-- " || trimmed == "--" {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(trimmed), ">") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
