package model

import (
	"time"
)

// EventType is the kind of seat transition recorded in the event log.
type EventType string

const (
	EventOccupied EventType = "OCCUPIED"
	EventVacated  EventType = "VACATED"
)

// PeriodType classifies the academic calendar at a point in time.
type PeriodType string

const (
	PeriodNormal   PeriodType = "NORMAL"
	PeriodExam     PeriodType = "EXAM"
	PeriodVacation PeriodType = "VACATION"
	PeriodFinals   PeriodType = "FINALS"
)

// DayType distinguishes weekdays from weekends.
type DayType string

const (
	DayWeekday DayType = "WEEKDAY"
	DayWeekend DayType = "WEEKEND"
)

// DayTypeOf returns the day type of t in t's location.
func DayTypeOf(t time.Time) DayType {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return DayWeekend
	}
	return DayWeekday
}

// OccupancyEvent is one entry of the append-only seat transition log.
type OccupancyEvent struct {
	ID         int64      `gorm:"primaryKey"`
	Room       string     `gorm:"size:64;not null;index:idx_occupancy_events_room_ts,priority:1"`
	Seat       string     `gorm:"size:32;not null"`
	Type       EventType  `gorm:"size:16;not null"`
	StudentID  string     `gorm:"size:64"`
	Timestamp  time.Time  `gorm:"not null;index:idx_occupancy_events_room_ts,priority:2"`
	PeriodType PeriodType `gorm:"size:16;not null"`
}

// OccupancySession is one continuous hold of a seat, derived from the event log.
// EndTime is nil while the session is active (hot), set once it is closed (cold).
type OccupancySession struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	Room            string     `gorm:"size:64;not null;index:idx_occupancy_sessions_seat,priority:1" json:"room"`
	Seat            string     `gorm:"size:32;not null;index:idx_occupancy_sessions_seat,priority:2" json:"seat"`
	StudentID       string     `gorm:"size:64;index" json:"studentId,omitempty"`
	StartTime       time.Time  `gorm:"not null" json:"startTime"`
	EndTime         *time.Time `gorm:"index" json:"endTime,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduledEnd,omitempty"`
	PeriodType      PeriodType `gorm:"size:16;not null;index" json:"periodType"`
	DayType         DayType    `gorm:"size:16;not null" json:"dayType"`
	StartHour       int        `gorm:"not null" json:"startHour"`
	DurationMinutes *float64   `json:"durationMinutes,omitempty"`
}

// Active reports whether the session is still open.
func (s OccupancySession) Active() bool {
	return s.EndTime == nil
}
