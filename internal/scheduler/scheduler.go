// Package scheduler runs the reservation queue: it accepts requests, serializes attempts per
// room, retries transient portal failures with backoff and reports terminal outcomes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/model"
	"seat-queue-backend/internal/notification"
	"seat-queue-backend/internal/portal"
	"seat-queue-backend/internal/store"
)

// ErrInvalidRequest is returned by Enqueue for malformed requests.
var ErrInvalidRequest = errors.New("invalid reservation request")

const (
	priorityEmptySeatWait = 1
	prioritySeat          = 2
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seatq_scheduler_attempts_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	recoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seatq_scheduler_recovered_total",
		Help: "Stale PROCESSING requests returned to WAITING.",
	})
)

// Store is the persistence the scheduler needs.
type Store interface {
	store.RequestStore
	store.OccupancyStore
	store.ExtensionStore
}

// PeriodClassifier stamps new occupancy events with the academic period.
type PeriodClassifier interface {
	PeriodAt(ctx context.Context, t time.Time) (model.PeriodType, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithNotifier sets where terminal outcomes are reported.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClassifier sets the period classifier for OCCUPIED events.
func WithClassifier(c PeriodClassifier) Option {
	return func(s *Scheduler) { s.periods = c }
}

// Scheduler owns the reservation request lifecycle.
type Scheduler struct {
	store    Store
	adapter  portal.SeatAdapter
	cfg      config.QueueConfig
	notifier notification.Notifier
	periods  PeriodClassifier
	now      func() time.Time

	mu        sync.Mutex
	inFlight  map[int64]bool
	abandoned map[int64]bool
	students  map[string]*sync.Mutex
}

// New creates a Scheduler.
func New(st Store, adapter portal.SeatAdapter, cfg config.QueueConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		adapter:   adapter,
		cfg:       cfg,
		now:       time.Now,
		inFlight:  make(map[int64]bool),
		abandoned: make(map[int64]bool),
		students:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Concurrency <= 0 {
		s.cfg.Concurrency = 1
	}
	if s.cfg.AdapterTimeout <= 0 {
		s.cfg.AdapterTimeout = 10 * time.Second
	}
	return s
}

// EnqueueRequest is a new reservation request. Nil Priority and AutoReturnCurrent take defaults.
type EnqueueRequest struct {
	StudentID         string            `json:"studentId"`
	RequestType       model.RequestType `json:"requestType"`
	Room              string            `json:"room"`
	Seat              string            `json:"seat"`
	Priority          *int              `json:"priority"`
	AutoReturnCurrent *bool             `json:"autoReturnCurrent"`
}

// Enqueue validates and queues a request in WAITING.
func (s *Scheduler) Enqueue(ctx context.Context, in EnqueueRequest) (*model.ReservationRequest, error) {
	if in.StudentID == "" || in.Room == "" {
		return nil, fmt.Errorf("%w: studentId and room are required", ErrInvalidRequest)
	}

	req := &model.ReservationRequest{
		StudentID:   in.StudentID,
		RequestType: in.RequestType,
		Room:        in.Room,
		Seat:        in.Seat,
		MaxRetries:  s.cfg.MaxRetries,
		ScheduledAt: s.now(),
		CreatedAt:   s.now(),
	}

	switch in.RequestType {
	case model.RequestSeat:
		if in.Seat == "" {
			return nil, fmt.Errorf("%w: seat is required for %s", ErrInvalidRequest, in.RequestType)
		}
		req.Priority = prioritySeat
	case model.RequestEmptySeatWait:
		req.Priority = priorityEmptySeatWait
	default:
		return nil, fmt.Errorf("%w: unknown request type %q", ErrInvalidRequest, in.RequestType)
	}
	if in.Priority != nil {
		req.Priority = *in.Priority
	}

	if in.AutoReturnCurrent != nil {
		req.AutoReturnCurrent = *in.AutoReturnCurrent
	} else if in.RequestType == model.RequestEmptySeatWait {
		cfg, err := s.store.GetExtensionConfig(ctx, in.StudentID)
		switch {
		case err == nil:
			req.AutoReturnCurrent = cfg.AutoReturnOnEmptyReservation
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	lock := s.studentLock(in.StudentID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	log.Printf("Queued request %d (%s) for student %s in room %s at position %d", req.ID, req.RequestType, req.StudentID, req.Room, req.QueuePosition)
	return req, nil
}

// Cancel cancels a WAITING or PROCESSING request owned by studentID. An in-flight attempt is
// left to finish and its result is discarded.
func (s *Scheduler) Cancel(ctx context.Context, id int64, studentID string) (*model.ReservationRequest, error) {
	req, err := s.store.CancelRequest(ctx, id, studentID, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("Request %d canceled by student %s", id, studentID)
	s.notify(req, "")
	return req, nil
}

// Get returns a request by id.
func (s *Scheduler) Get(ctx context.Context, id int64) (*model.ReservationRequest, error) {
	return s.store.GetRequest(ctx, id)
}

// StudentRequests returns a student's requests, newest first.
func (s *Scheduler) StudentRequests(ctx context.Context, studentID string) ([]model.ReservationRequest, error) {
	return s.store.ListStudentRequests(ctx, studentID)
}

// Stats returns the number of requests per status.
func (s *Scheduler) Stats(ctx context.Context) (map[model.RequestStatus]int64, error) {
	return s.store.QueueStats(ctx)
}

// Cleanup deletes terminal requests older than the retention window.
func (s *Scheduler) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.store.CleanupRequests(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("Cleaned up %d finished requests", n)
	}
	return n, nil
}

// Recover returns PROCESSING requests left behind by a previous run, or by an attempt whose
// result could not be stored, to WAITING.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	inFlight, abandoned := s.recoverySnapshot()
	n, err := s.store.RecoverProcessing(ctx, s.now().Add(-s.cfg.StaleAfter), inFlight, abandoned)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	for id := range abandoned {
		if !inFlight[id] {
			delete(s.abandoned, id)
		}
	}
	s.mu.Unlock()
	if n > 0 {
		recoveredTotal.Add(float64(n))
		log.Printf("Recovered %d processing requests", n)
	}
	return n, nil
}

// DrainStats summarizes one drain.
type DrainStats struct {
	Attempted int
	Completed int
	Requeued  int
	Failed    int
	Discarded int
}

func (d *DrainStats) add(o outcome) {
	d.Attempted++
	switch o {
	case outcomeCompleted:
		d.Completed++
	case outcomeRequeued:
		d.Requeued++
	case outcomeFailed:
		d.Failed++
	case outcomeDiscarded:
		d.Discarded++
	}
}

// Drain runs one dequeue pass: every room with due WAITING requests gets its head attempted,
// rooms run concurrently, and a room keeps going after each terminal outcome.
func (s *Scheduler) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	if _, err := s.Recover(ctx); err != nil {
		log.Printf("Error recovering stale requests: %v", err)
	}

	waiting, err := s.store.ListWaiting(ctx, s.now())
	if err != nil {
		return stats, err
	}

	var rooms []string
	byRoom := make(map[string][]model.ReservationRequest)
	for _, r := range waiting {
		if _, ok := byRoom[r.Room]; !ok {
			rooms = append(rooms, r.Room)
		}
		byRoom[r.Room] = append(byRoom[r.Room], r)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, room := range rooms {
		room, reqs := room, byRoom[room]
		g.Go(func() error {
			roomStats := s.drainRoom(ctx, room, reqs)
			mu.Lock()
			stats.Attempted += roomStats.Attempted
			stats.Completed += roomStats.Completed
			stats.Requeued += roomStats.Requeued
			stats.Failed += roomStats.Failed
			stats.Discarded += roomStats.Discarded
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return stats, nil
}

func (s *Scheduler) drainRoom(ctx context.Context, room string, candidates []model.ReservationRequest) DrainStats {
	var stats DrainStats
	tried := make(map[int64]bool)
	for {
		if ctx.Err() != nil {
			return stats
		}
		req, ok := nextCandidate(candidates, tried)
		if !ok {
			return stats
		}
		tried[req.ID] = true

		claimed, err := s.store.ClaimRequest(ctx, req.ID, room, s.now())
		if err != nil {
			log.Printf("Error claiming request %d in room %s: %v", req.ID, room, err)
			return stats
		}
		if !claimed {
			continue
		}
		req.Status = model.StatusProcessing

		o := s.attempt(ctx, &req)
		stats.add(o)
		if o == outcomeRequeued || o == outcomeError {
			return stats
		}

		// Requests enqueued since the drain started are served in order too.
		candidates, err = s.store.ListWaitingInRoom(ctx, room, s.now())
		if err != nil {
			log.Printf("Error listing waiting requests of room %s: %v", room, err)
			return stats
		}
	}
}

func nextCandidate(candidates []model.ReservationRequest, tried map[int64]bool) (model.ReservationRequest, bool) {
	for _, c := range candidates {
		if !tried[c.ID] {
			return c, true
		}
	}
	return model.ReservationRequest{}, false
}

func (s *Scheduler) studentLock(studentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.students[studentID]
	if !ok {
		l = &sync.Mutex{}
		s.students[studentID] = l
	}
	return l
}

func (s *Scheduler) markInFlight(id int64, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.inFlight[id] = true
	} else {
		delete(s.inFlight, id)
	}
}

// abandon marks a request whose attempt ended without a stored result.
func (s *Scheduler) abandon(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned[id] = true
}

func (s *Scheduler) recoverySnapshot() (inFlight, abandoned map[int64]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inFlight = make(map[int64]bool, len(s.inFlight))
	for id := range s.inFlight {
		inFlight[id] = true
	}
	abandoned = make(map[int64]bool, len(s.abandoned))
	for id := range s.abandoned {
		abandoned[id] = true
	}
	return inFlight, abandoned
}

func (s *Scheduler) notify(req *model.ReservationRequest, seat string) {
	if s.notifier == nil {
		return
	}
	if seat == "" {
		seat = req.Seat
	}
	s.notifier.Notify(notification.Outcome{
		RequestID: req.ID,
		StudentID: req.StudentID,
		Room:      req.Room,
		Seat:      seat,
		Status:    req.Status,
		Message:   req.ErrorMessage,
		At:        s.now(),
	})
}
