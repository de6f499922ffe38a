package store

import (
	"time"

	"seat-queue-backend/internal/model"
)

// Event is a seat transition to append to the occupancy log.
type Event struct {
	Room         string
	Seat         string
	Type         model.EventType
	Timestamp    time.Time
	PeriodType   model.PeriodType
	StudentID    string
	ScheduledEnd *time.Time
}

// SessionFilter selects closed sessions. Zero values leave a dimension unfiltered.
type SessionFilter struct {
	Room       string
	PeriodType model.PeriodType
	DayType    model.DayType
	StartHours []int
	MinMinutes float64
	MaxMinutes float64
}
