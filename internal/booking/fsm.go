// Package booking manages the test drive booking lifecycle.
package booking

import (
	"errors"
	"fmt"

	"vehiql/internal/model"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// Actor is who requests a status change.
type Actor string

const (
	ActorOwner Actor = "owner"
	ActorAdmin Actor = "admin"
)

// FSM holds the allowed status transitions per actor.
type FSM struct {
	transitions map[Actor]map[model.BookingStatus][]model.BookingStatus
}

// NewFSM creates the booking status machine.
// Terminal statuses have no outgoing transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[Actor]map[model.BookingStatus][]model.BookingStatus{
			ActorAdmin: {
				model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
				model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
			},
			ActorOwner: {
				model.StatusPending: {model.StatusCancelled},
			},
		},
	}
}

// CanTransition checks if actor may move a booking from one status to another.
func (f *FSM) CanTransition(actor Actor, from, to model.BookingStatus) bool {
	for _, s := range f.transitions[actor][from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns ErrInvalidStatusTransition when the transition is not allowed.
func (f *FSM) Check(actor Actor, from, to model.BookingStatus) error {
	if !f.CanTransition(actor, from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// Next lists the statuses actor may move a booking to from the given one.
func (f *FSM) Next(actor Actor, from model.BookingStatus) []model.BookingStatus {
	allowed := f.transitions[actor][from]
	out := make([]model.BookingStatus, len(allowed))
	copy(out, allowed)
	return out
}
