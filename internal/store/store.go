package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"seat-queue-backend/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateActiveRequest is returned when a student already holds a non-terminal request for the room.
	ErrDuplicateActiveRequest = errors.New("student already has an active request for this room")
	// ErrNotOwner is returned when a student acts on another student's request.
	ErrNotOwner = errors.New("request belongs to another student")
	// ErrNotCancelable is returned when the request already reached a terminal state.
	ErrNotCancelable = errors.New("request can no longer be canceled")
)

// OccupancyStore is the occupancy event log and the sessions derived from it.
type OccupancyStore interface {
	AppendEvent(ctx context.Context, ev Event) (bool, error)
	QueryClosedSessions(ctx context.Context, f SessionFilter) ([]model.OccupancySession, error)
	ActiveSession(ctx context.Context, room, seat string) (*model.OccupancySession, error)
	ActiveSessionsByRoom(ctx context.Context, room string) ([]model.OccupancySession, error)
	ActiveSessionForStudent(ctx context.Context, studentID string) (*model.OccupancySession, error)
	UpdateScheduledEnd(ctx context.Context, sessionID int64, end time.Time) (bool, error)
}

// PeriodStore holds the academic calendar.
type PeriodStore interface {
	CreatePeriod(ctx context.Context, p *model.AcademicPeriod) error
	ListPeriods(ctx context.Context, activeOnly bool) ([]model.AcademicPeriod, error)
}

// RequestStore holds reservation requests and the per-room in-flight slots.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *model.ReservationRequest) error
	GetRequest(ctx context.Context, id int64) (*model.ReservationRequest, error)
	ListStudentRequests(ctx context.Context, studentID string) ([]model.ReservationRequest, error)
	ListWaiting(ctx context.Context, now time.Time) ([]model.ReservationRequest, error)
	ListWaitingInRoom(ctx context.Context, room string, now time.Time) ([]model.ReservationRequest, error)
	ClaimRequest(ctx context.Context, id int64, room string, now time.Time) (bool, error)
	CompleteRequest(ctx context.Context, id int64, now time.Time, ev *Event) (bool, error)
	FailRequest(ctx context.Context, id int64, now time.Time, retryCount int, message string) (bool, error)
	RequeueRequest(ctx context.Context, id int64, now time.Time, retryCount int, scheduledAt time.Time, message string) (bool, error)
	CancelRequest(ctx context.Context, id int64, studentID string, now time.Time) (*model.ReservationRequest, error)
	RecoverProcessing(ctx context.Context, staleBefore time.Time, inFlight, abandoned map[int64]bool) (int, error)
	QueueStats(ctx context.Context) (map[model.RequestStatus]int64, error)
	CleanupRequests(ctx context.Context, before time.Time) (int64, error)
}

// ExtensionStore holds auto-extension policies and their daily counters.
type ExtensionStore interface {
	GetExtensionConfig(ctx context.Context, studentID string) (*model.AutoExtensionConfig, error)
	UpsertExtensionConfig(ctx context.Context, cfg *model.AutoExtensionConfig) error
	ListEnabledExtensionConfigs(ctx context.Context) ([]model.AutoExtensionConfig, error)
	ResetExtensionCount(ctx context.Context, studentID, date string) (bool, error)
	RecordExtension(ctx context.Context, studentID string, now time.Time, sessionID int64, newEnd *time.Time) (bool, error)
}

// SubscriptionStore holds browser push subscriptions.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context, studentID string) ([]model.PushSubscription, error)
}

// Store defines the interface for all database operations.
type Store interface {
	OccupancyStore
	PeriodStore
	RequestStore
	ExtensionStore
	SubscriptionStore
}

// Option configures a gormStore.
type Option func(*gormStore)

// WithLocation sets the timezone used to derive day types and start hours.
func WithLocation(loc *time.Location) Option {
	return func(s *gormStore) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	loc *time.Location
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) Store {
	s := &gormStore{db: db, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
