package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vehiql/internal/model"
)

func TestFSMTransitions(t *testing.T) {
	fsm := NewFSM()

	tests := []struct {
		name        string
		actor       Actor
		from        model.BookingStatus
		to          model.BookingStatus
		shouldAllow bool
	}{
		{"admin confirms pending", ActorAdmin, model.StatusPending, model.StatusConfirmed, true},
		{"admin cancels pending", ActorAdmin, model.StatusPending, model.StatusCancelled, true},
		{"admin completes confirmed", ActorAdmin, model.StatusConfirmed, model.StatusCompleted, true},
		{"admin cancels confirmed", ActorAdmin, model.StatusConfirmed, model.StatusCancelled, true},
		{"admin marks no show", ActorAdmin, model.StatusConfirmed, model.StatusNoShow, true},
		{"owner cancels pending", ActorOwner, model.StatusPending, model.StatusCancelled, true},
		// Invalid transitions
		{"owner cancels confirmed", ActorOwner, model.StatusConfirmed, model.StatusCancelled, false},
		{"owner confirms", ActorOwner, model.StatusPending, model.StatusConfirmed, false},
		{"pending to completed", ActorAdmin, model.StatusPending, model.StatusCompleted, false},
		{"pending to no show", ActorAdmin, model.StatusPending, model.StatusNoShow, false},
		{"confirmed back to pending", ActorAdmin, model.StatusConfirmed, model.StatusPending, false},
		{"same status", ActorAdmin, model.StatusPending, model.StatusPending, false},
		{"unknown target", ActorAdmin, model.StatusPending, model.BookingStatus("ARCHIVED"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.shouldAllow, fsm.CanTransition(tt.actor, tt.from, tt.to))
		})
	}
}

func TestFSMTerminalStates(t *testing.T) {
	fsm := NewFSM()

	for _, from := range []model.BookingStatus{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow} {
		for _, to := range model.BookingStatuses {
			for _, actor := range []Actor{ActorAdmin, ActorOwner} {
				assert.False(t, fsm.CanTransition(actor, from, to), "%s: %s -> %s", actor, from, to)
			}
		}
		assert.Empty(t, fsm.Next(ActorAdmin, from))
	}
}

func TestFSMCheck(t *testing.T) {
	fsm := NewFSM()

	assert.NoError(t, fsm.Check(ActorAdmin, model.StatusPending, model.StatusConfirmed))

	err := fsm.Check(ActorAdmin, model.StatusCompleted, model.StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Contains(t, err.Error(), "COMPLETED -> CANCELLED")
}

func TestFSMNext(t *testing.T) {
	fsm := NewFSM()

	assert.Equal(t,
		[]model.BookingStatus{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
		fsm.Next(ActorAdmin, model.StatusConfirmed))
	assert.Equal(t, []model.BookingStatus{model.StatusCancelled}, fsm.Next(ActorOwner, model.StatusPending))

	next := fsm.Next(ActorAdmin, model.StatusPending)
	next[0] = model.StatusNoShow
	assert.Equal(t, model.StatusConfirmed, fsm.Next(ActorAdmin, model.StatusPending)[0], "Next returns a copy")
}
