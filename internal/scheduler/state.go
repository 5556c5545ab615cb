// Package scheduler drives a component's polling loop as an explicit state machine.
//
//	IDLE -> SCANNING -> PUBLISHING | LOADING -> SCANNING
//	SCANNING -> IDLE | THROTTLED | BACKOFF -> SCANNING
//	any -> STOPPED
//
// A step reports the state its work ended in and how long to wait there.
// Errors move the loop to BACKOFF for a fixed interval. Cancellation is
// checked at the top of every iteration and during every wait.
package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// State is a scheduler state
type State string

const (
	StateIdle       State = "IDLE"
	StateScanning   State = "SCANNING"
	StatePublishing State = "PUBLISHING"
	StateLoading    State = "LOADING"
	StateThrottled  State = "THROTTLED"
	StateBackoff    State = "BACKOFF"
	StateStopped    State = "STOPPED"
)

// AllStates lists every state, in display order
var AllStates = []State{
	StateIdle, StateScanning, StatePublishing, StateLoading,
	StateThrottled, StateBackoff, StateStopped,
}

// ErrInvalidTransition is returned when a step reports a state the machine cannot enter
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[State][]State{
	StateIdle:       {StateScanning, StateStopped},
	StateScanning:   {StatePublishing, StateLoading, StateIdle, StateThrottled, StateBackoff, StateStopped},
	StatePublishing: {StateScanning, StateStopped},
	StateLoading:    {StateScanning, StateStopped},
	StateThrottled:  {StateScanning, StateStopped},
	StateBackoff:    {StateScanning, StateStopped},
	StateStopped:    {},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one state change
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

func (t Transition) String() string {
	if t.Reason == "" {
		return fmt.Sprintf("%s -> %s", t.From, t.To)
	}
	return fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.Reason)
}

// StateNames returns AllStates as strings for metric labels
func StateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = string(s)
	}
	return names
}
