package shutter

import (
	"context"
)

const (
	ShutterOpenState    = "open"
	ShutterClosedState  = "closed"
	ShutterOpeningState = "opening"
	ShutterClosingState = "closing"
)

const (
	FullOpenPosition  = 100
	FullClosePosition = 0
)

// State is the movement direction reported to the hub.
// Values follow the HomeKit PositionState numbering.
type State int

const (
	Decreasing State = iota
	Increasing
	Stopped
)

func (s State) String() string {
	switch s {
	case Decreasing:
		return "decreasing"
	case Increasing:
		return "increasing"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// StateBetween derives the movement direction from a target and a current position.
func StateBetween(current, target int) State {
	switch {
	case target > current:
		return Increasing
	case target < current:
		return Decreasing
	}
	return Stopped
}

// Snapshot is the reconciled triple published after every change.
type Snapshot struct {
	Current int
	Target  int
	State   State
}

// ShutterState maps a snapshot onto the open/closed/opening/closing vocabulary.
func (s Snapshot) ShutterState() string {
	switch s.State {
	case Increasing:
		return ShutterOpeningState
	case Decreasing:
		return ShutterClosingState
	}
	if s.Current == FullClosePosition {
		return ShutterClosedState
	}
	return ShutterOpenState
}

type ShutterUpdateHandler func(snapshot Snapshot)

type Shutter interface {
	Name() string

	CurrentPosition(ctx context.Context) (int, error)
	TargetPosition() int
	PositionState() State

	OnUpdate(h ShutterUpdateHandler)

	SetTargetPosition(ctx context.Context, position int) error
	Stop(ctx context.Context) error
}
