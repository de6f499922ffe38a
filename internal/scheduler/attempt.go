package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"seat-queue-backend/internal/model"
	"seat-queue-backend/internal/portal"
	"seat-queue-backend/internal/store"
)

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRequeued
	outcomeFailed
	outcomeDiscarded
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomeRequeued:
		return "requeued"
	case outcomeFailed:
		return "failed"
	case outcomeDiscarded:
		return "discarded"
	}
	return "error"
}

const (
	retryPrefix   = "will retry: "
	noRetryPrefix = "will not retry: "
)

// attempt runs one portal attempt for a PROCESSING request and records its result.
func (s *Scheduler) attempt(ctx context.Context, req *model.ReservationRequest) outcome {
	s.markInFlight(req.ID, true)
	defer s.markInFlight(req.ID, false)

	// Release-then-reserve must not interleave with another attempt of the same student.
	lock := s.studentLock(req.StudentID)
	lock.Lock()
	defer lock.Unlock()

	actx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	seat, result, err := s.execute(actx, req)
	cancel()

	if err == nil && !result.Success {
		reason := result.Reason
		if reason == "" {
			reason = "reservation refused by portal"
		}
		err = portal.Permanent("reserve", errors.New(reason))
	}

	// The result is recorded even if the tick was abandoned meanwhile.
	wctx := context.WithoutCancel(ctx)
	o, werr := s.record(wctx, req, seat, result, err)
	if werr != nil {
		log.Printf("Error recording attempt of request %d, returning it to the queue on the next drain: %v", req.ID, werr)
		s.abandon(req.ID)
		o = outcomeError
	}
	attemptsTotal.WithLabelValues(o.String()).Inc()
	return o
}

// execute resolves the seat, returns the student's current seat when asked to, then reserves.
func (s *Scheduler) execute(ctx context.Context, req *model.ReservationRequest) (string, portal.Result, error) {
	seat := req.Seat
	if req.RequestType == model.RequestEmptySeatWait {
		var err error
		seat, err = s.vacantSeat(ctx, req.Room, req.Seat)
		if err != nil {
			return "", portal.Result{}, err
		}
	}

	if req.AutoReturnCurrent {
		if err := s.returnCurrentSeat(ctx, req, seat); err != nil {
			return seat, portal.Result{}, err
		}
	}

	result, err := s.adapter.Reserve(ctx, req.Room, seat, req.StudentID)
	return seat, result, err
}

// vacantSeat polls the room and returns want if it is free, or the first free seat when want
// is empty. A busy room is a transient condition.
func (s *Scheduler) vacantSeat(ctx context.Context, room, want string) (string, error) {
	seats, err := s.adapter.PollStatus(ctx, room)
	if err != nil {
		return "", err
	}
	for _, st := range seats {
		if st.Status != portal.SeatAvailable {
			continue
		}
		if want == "" || st.Seat == want {
			return st.Seat, nil
		}
	}
	if want == "" {
		return "", portal.Transient("wait "+room, errors.New("no vacant seat"))
	}
	return "", portal.Transient("wait "+room, fmt.Errorf("seat %s is not vacant yet", want))
}

// returnCurrentSeat releases the seat the student holds now, unless it is the target.
func (s *Scheduler) returnCurrentSeat(ctx context.Context, req *model.ReservationRequest, target string) error {
	current, err := s.store.ActiveSessionForStudent(ctx, req.StudentID)
	if err != nil {
		return portal.Transient("return current seat", err)
	}
	if current == nil || (current.Room == req.Room && current.Seat == target) {
		return nil
	}

	result, err := s.adapter.Release(ctx, current.Room, current.Seat, req.StudentID)
	if err != nil {
		return err
	}
	if !result.Success {
		return portal.Permanent("return current seat", fmt.Errorf("portal refused to release %s/%s: %s", current.Room, current.Seat, result.Reason))
	}

	if _, err := s.store.AppendEvent(ctx, store.Event{
		Room:       current.Room,
		Seat:       current.Seat,
		Type:       model.EventVacated,
		Timestamp:  s.now(),
		PeriodType: current.PeriodType,
		StudentID:  req.StudentID,
	}); err != nil {
		log.Printf("Error recording release of %s/%s for request %d: %v", current.Room, current.Seat, req.ID, err)
	}
	log.Printf("Returned seat %s/%s of student %s before reserving", current.Room, current.Seat, req.StudentID)
	return nil
}

// record applies the attempt result to the request.
func (s *Scheduler) record(ctx context.Context, req *model.ReservationRequest, seat string, result portal.Result, attemptErr error) (outcome, error) {
	now := s.now()

	if attemptErr == nil {
		applied, err := s.store.CompleteRequest(ctx, req.ID, now, &store.Event{
			Room:         req.Room,
			Seat:         seat,
			Type:         model.EventOccupied,
			Timestamp:    now,
			PeriodType:   s.periodAt(ctx, now),
			StudentID:    req.StudentID,
			ScheduledEnd: result.EndsAt,
		})
		if err != nil {
			return outcomeError, err
		}
		if !applied {
			log.Printf("Request %d was canceled while in flight; discarding reservation of %s/%s", req.ID, req.Room, seat)
			return outcomeDiscarded, nil
		}
		req.Status = model.StatusCompleted
		req.ErrorMessage = ""
		log.Printf("Request %d completed: %s/%s reserved for %s", req.ID, req.Room, seat, req.StudentID)
		s.notify(req, seat)
		return outcomeCompleted, nil
	}

	perr := portal.Classify(attemptErr)
	if perr.Kind == portal.KindPermanent {
		return s.fail(ctx, req, now, req.RetryCount, noRetryPrefix+perr.Error())
	}

	retryCount := req.RetryCount + 1
	if retryCount >= req.MaxRetries {
		return s.fail(ctx, req, now, retryCount, fmt.Sprintf("%sgave up after %d attempts: %v", noRetryPrefix, retryCount, perr))
	}

	next := now.Add(Backoff(s.cfg.BaseBackoff, s.cfg.MaxBackoff, retryCount))
	message := retryPrefix + perr.Error()
	applied, err := s.store.RequeueRequest(ctx, req.ID, now, retryCount, next, message)
	if err != nil {
		return outcomeError, err
	}
	if !applied {
		return outcomeDiscarded, nil
	}
	log.Printf("Request %d requeued (retry %d/%d) until %s: %v", req.ID, retryCount, req.MaxRetries, next.Format(time.RFC3339), perr)
	return outcomeRequeued, nil
}

func (s *Scheduler) fail(ctx context.Context, req *model.ReservationRequest, now time.Time, retryCount int, message string) (outcome, error) {
	applied, err := s.store.FailRequest(ctx, req.ID, now, retryCount, message)
	if err != nil {
		return outcomeError, err
	}
	if !applied {
		return outcomeDiscarded, nil
	}
	req.Status = model.StatusFailed
	req.RetryCount = retryCount
	req.ErrorMessage = message
	log.Printf("Request %d failed: %s", req.ID, message)
	s.notify(req, "")
	return outcomeFailed, nil
}

func (s *Scheduler) periodAt(ctx context.Context, t time.Time) model.PeriodType {
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

// Backoff returns base × 2^retryCount, capped at max.
func Backoff(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return max
	}
	d := base * time.Duration(1<<uint(retryCount))
	if d > max || d <= 0 {
		return max
	}
	return d
}
