package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to MessageState
		want     bool
	}{
		{StateReceived, StateClassified, true},
		{StateClassified, StateDrafted, true},
		{StateDrafted, StatePendingApproval, true},
		{StateDrafted, StateAutoSent, true},
		{StatePendingApproval, StateSending, true},
		{StatePendingApproval, StateDiscarded, true},
		{StateSending, StateSent, true},
		{StateSending, StatePendingApproval, true},
		{StateAutoSent, StateSent, true},
		{StateAutoSent, StatePendingApproval, true},
		{StateReceived, StateSent, false},
		{StatePendingApproval, StateSent, false},
		{StateSent, StatePendingApproval, false},
		{StateDiscarded, StateSending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateSent.IsTerminal())
	assert.True(t, StateDiscarded.IsTerminal())
	assert.False(t, StatePendingApproval.IsTerminal())
	assert.False(t, StateAutoSent.IsTerminal())
}

func TestCheckTransitionWrapsSentinel(t *testing.T) {
	err := CheckTransition(StateSent, StateSending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, CheckTransition(StateDrafted, StateAutoSent))
}

func TestProviderErrorClassification(t *testing.T) {
	transient := fmt.Errorf("fetch: %w", NewTransientError("get_message", 503, errors.New("unavailable")))
	permanent := NewPermanentError("get_message", 404, errors.New("not found"))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.True(t, IsPermanent(permanent))
	assert.True(t, IsProviderNotFound(permanent))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.Contains(t, permanent.Error(), "code 404")
}
