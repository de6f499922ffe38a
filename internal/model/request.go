package model

import "time"

// RequestType is the kind of reservation a student queued.
type RequestType string

const (
	RequestSeat          RequestType = "SEAT"
	RequestEmptySeatWait RequestType = "EMPTY_SEAT_WAIT"
)

// RequestStatus is the lifecycle state of a reservation request.
type RequestStatus string

const (
	StatusWaiting    RequestStatus = "WAITING"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusFailed     RequestStatus = "FAILED"
	StatusCanceled   RequestStatus = "CANCELED"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// ReservationRequest is a queued reservation attempt.
type ReservationRequest struct {
	ID                int64         `gorm:"primaryKey" json:"id"`
	StudentID         string        `gorm:"size:64;not null;index" json:"studentId"`
	RequestType       RequestType   `gorm:"size:24;not null" json:"requestType"`
	Room              string        `gorm:"size:64;not null;index:idx_requests_room_status,priority:1" json:"room"`
	Seat              string        `gorm:"size:32" json:"seat,omitempty"`
	Status            RequestStatus `gorm:"size:16;not null;index:idx_requests_room_status,priority:2" json:"status"`
	QueuePosition     int           `gorm:"not null" json:"queuePosition"`
	Priority          int           `gorm:"not null" json:"priority"`
	AutoReturnCurrent bool          `gorm:"not null" json:"autoReturnCurrent"`
	RetryCount        int           `gorm:"not null" json:"retryCount"`
	MaxRetries        int           `gorm:"not null" json:"maxRetries"`
	ScheduledAt       time.Time     `gorm:"not null" json:"scheduledAt"`
	ProcessedAt       *time.Time    `json:"processedAt,omitempty"`
	ErrorMessage      string        `gorm:"size:512" json:"errorMessage,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// RoomSlot marks the single in-flight request of a room. Its primary key is the room.
type RoomSlot struct {
	Room      string    `gorm:"primaryKey;size:64"`
	RequestID int64     `gorm:"not null;uniqueIndex"`
	ClaimedAt time.Time `gorm:"not null"`
}
