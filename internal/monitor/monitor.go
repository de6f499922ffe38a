// Package monitor polls the seat portal and records occupancy transitions in the event store.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/model"
	"seat-queue-backend/internal/portal"
	"seat-queue-backend/internal/store"
)

// Store is the part of the occupancy store the monitor writes to.
type Store interface {
	AppendEvent(ctx context.Context, ev store.Event) (bool, error)
	ActiveSessionsByRoom(ctx context.Context, room string) ([]model.OccupancySession, error)
	UpdateScheduledEnd(ctx context.Context, sessionID int64, end time.Time) (bool, error)
}

// PeriodClassifier stamps new sessions with the academic period.
type PeriodClassifier interface {
	PeriodAt(ctx context.Context, t time.Time) (model.PeriodType, error)
}

// Service diffs portal seat states against active sessions.
type Service struct {
	cfg     config.MonitorConfig
	store   Store
	adapter portal.SeatAdapter
	periods PeriodClassifier
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithClassifier sets the period classifier.
func WithClassifier(c PeriodClassifier) Option {
	return func(s *Service) { s.periods = c }
}

// NewService creates a monitor for the configured rooms.
func NewService(cfg config.MonitorConfig, st Store, adapter portal.SeatAdapter, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		store:   st,
		adapter: adapter,
		now:     time.Now,
		seen:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PollOnce polls every room once and returns the number of events appended.
func (s *Service) PollOnce(ctx context.Context) int {
	if !s.cfg.Enabled {
		return 0
	}
	total := 0
	for _, room := range s.cfg.Rooms {
		if ctx.Err() != nil {
			break
		}
		n, err := s.pollRoom(ctx, room)
		if err != nil {
			log.Printf("Error polling room %s, occupancy left unchanged: %v", room, err)
		}
		total += n
	}
	return total
}

func (s *Service) pollRoom(ctx context.Context, room string) (int, error) {
	seats, err := s.adapter.PollStatus(ctx, room)
	if err != nil {
		return 0, err
	}
	active, err := s.store.ActiveSessionsByRoom(ctx, room)
	if err != nil {
		return 0, err
	}

	now := s.now()
	period := s.periodAt(ctx, now)
	firstPoll := s.markSeen(room)

	open := make(map[string]model.OccupancySession, len(active))
	for _, sess := range active {
		open[sess.Seat] = sess
	}

	appended := 0
	appendEvent := func(ev store.Event) {
		ok, err := s.store.AppendEvent(ctx, ev)
		if err != nil {
			log.Printf("Error recording %s for %s/%s: %v", ev.Type, ev.Room, ev.Seat, err)
			return
		}
		if ok {
			appended++
		}
	}
	vacate := func(sess model.OccupancySession) {
		appendEvent(store.Event{
			Room: room, Seat: sess.Seat, Type: model.EventVacated, Timestamp: now,
			PeriodType: sess.PeriodType, StudentID: sess.StudentID,
		})
	}

	reported := make(map[string]bool, len(seats))
	for _, st := range seats {
		reported[st.Seat] = true
		sess, isOpen := open[st.Seat]

		if st.Status != portal.SeatOccupied {
			if isOpen {
				vacate(sess)
			}
			continue
		}

		if isOpen {
			if st.StudentID == "" || sess.StudentID == "" || st.StudentID == sess.StudentID {
				s.refreshEnd(ctx, sess, st.EndsAt)
				continue
			}
			// Handed over between polls.
			vacate(sess)
		}
		if firstPoll {
			continue
		}
		appendEvent(store.Event{
			Room: room, Seat: st.Seat, Type: model.EventOccupied, Timestamp: now,
			PeriodType: period, StudentID: st.StudentID, ScheduledEnd: st.EndsAt,
		})
	}

	for seat, sess := range open {
		if !reported[seat] {
			vacate(sess)
		}
	}

	if appended > 0 {
		log.Printf("Room %s: %d occupancy events recorded", room, appended)
	}
	return appended, nil
}

// refreshEnd stores the end time the portal now reports for a held seat.
func (s *Service) refreshEnd(ctx context.Context, sess model.OccupancySession, endsAt *time.Time) {
	if endsAt == nil || (sess.ScheduledEnd != nil && sess.ScheduledEnd.Equal(*endsAt)) {
		return
	}
	if _, err := s.store.UpdateScheduledEnd(ctx, sess.ID, *endsAt); err != nil {
		log.Printf("Error updating scheduled end of %s/%s: %v", sess.Room, sess.Seat, err)
	}
}

// markSeen records a successful poll of room and reports whether it was the first.
func (s *Service) markSeen(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.seen[room]
	s.seen[room] = true
	return first
}

func (s *Service) periodAt(ctx context.Context, t time.Time) model.PeriodType {
	if s.periods == nil {
		return model.PeriodNormal
	}
	p, err := s.periods.PeriodAt(ctx, t)
	if err != nil {
		log.Printf("Warning: could not classify period, using %s: %v", model.PeriodNormal, err)
		return model.PeriodNormal
	}
	return p
}
