package notification

import (
	"fmt"
	"time"

	"seat-queue-backend/internal/model"
)

// Outcome is the final state of a reservation request, reported to its student.
type Outcome struct {
	RequestID int64               `json:"requestId"`
	StudentID string              `json:"studentId"`
	Room      string              `json:"room"`
	Seat      string              `json:"seat,omitempty"`
	Status    model.RequestStatus `json:"status"`
	Message   string              `json:"message,omitempty"`
	At        time.Time           `json:"at"`
}

// Text renders the outcome as a short human-readable line.
func (o Outcome) Text() string {
	place := o.Room
	if o.Seat != "" {
		place = fmt.Sprintf("%s seat %s", o.Room, o.Seat)
	}
	switch o.Status {
	case model.StatusCompleted:
		return fmt.Sprintf("Reserved %s.", place)
	case model.StatusCanceled:
		return fmt.Sprintf("Reservation request for %s was canceled.", place)
	default:
		if o.Message == "" {
			return fmt.Sprintf("Reservation request for %s failed.", place)
		}
		return fmt.Sprintf("Reservation request for %s failed: %s", place, o.Message)
	}
}

// Notifier delivers outcomes. Notify must not block the caller.
type Notifier interface {
	Notify(o Outcome)
}

// Multi fans an outcome out to several notifiers. Nil entries are skipped.
type Multi []Notifier

// Notify forwards o to every notifier.
func (m Multi) Notify(o Outcome) {
	for _, n := range m {
		if n != nil {
			n.Notify(o)
		}
	}
}
