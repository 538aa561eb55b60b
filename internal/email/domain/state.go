package domain

import "fmt"

// MessageState is the lifecycle state of a message and its reply draft.
type MessageState string

const (
	StateReceived        MessageState = "received"
	StateClassified      MessageState = "classified"
	StateDrafted         MessageState = "drafted"
	StatePendingApproval MessageState = "pending_approval"
	StateAutoSent        MessageState = "auto_sent"
	StateSending         MessageState = "sending"
	StateSent            MessageState = "sent"
	StateDiscarded       MessageState = "discarded"
)

var transitions = map[MessageState][]MessageState{
	StateReceived:        {StateClassified},
	StateClassified:      {StateDrafted},
	StateDrafted:         {StatePendingApproval, StateAutoSent},
	StatePendingApproval: {StateSending, StateDiscarded},
	StateSending:         {StateSent, StatePendingApproval},
	StateAutoSent:        {StateSent, StatePendingApproval},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to MessageState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s MessageState) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CheckTransition returns ErrInvalidTransition wrapped with context when the edge is illegal.
func CheckTransition(from, to MessageState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
