// Package portal talks to the external seat portal: reserving, extending and releasing seats
// and polling the state of every seat in a room.
package portal

import (
	"context"
	"time"
)

// SeatStatus is the state of a seat as reported by the portal.
type SeatStatus string

const (
	SeatAvailable   SeatStatus = "AVAILABLE"
	SeatOccupied    SeatStatus = "OCCUPIED"
	SeatUnavailable SeatStatus = "UNAVAILABLE"
)

// SeatState is one seat of a pollStatus answer.
type SeatState struct {
	Seat      string
	Status    SeatStatus
	StudentID string
	// EndsAt is the scheduled end of the current hold, when the portal reports one.
	EndsAt *time.Time
}

// Result is the portal's answer to a reserve, extend or release command.
// Success false means the portal refused the command; Reason carries its message.
type Result struct {
	Success bool
	Reason  string
	EndsAt  *time.Time
}

// SeatAdapter is the set of portal operations the service relies on. Implementations must not
// issue concurrent calls for the same room.
type SeatAdapter interface {
	Reserve(ctx context.Context, room, seat, studentID string) (Result, error)
	Extend(ctx context.Context, room, seat, studentID string) (Result, error)
	Release(ctx context.Context, room, seat, studentID string) (Result, error)
	PollStatus(ctx context.Context, room string) ([]SeatState, error)
}
