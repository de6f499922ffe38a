package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"seat-queue-backend/internal/model"
)

var activeStatuses = []model.RequestStatus{model.StatusWaiting, model.StatusProcessing}

var terminalStatuses = []model.RequestStatus{model.StatusCompleted, model.StatusFailed, model.StatusCanceled}

// errNotClaimed rolls back a claim transaction that lost the race.
var errNotClaimed = errors.New("claim lost")

// CreateRequest enqueues a request in WAITING and renumbers the room's queue.
func (s *gormStore) CreateRequest(ctx context.Context, req *model.ReservationRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&model.ReservationRequest{}).
			Where("student_id = ? AND room = ? AND status IN ?", req.StudentID, req.Room, activeStatuses).
			Count(&active).Error; err != nil {
			return fmt.Errorf("failed to check active requests: %w", err)
		}
		if active > 0 {
			return ErrDuplicateActiveRequest
		}

		now := time.Now().UTC()
		if req.CreatedAt.IsZero() {
			req.CreatedAt = now
		}
		req.CreatedAt = req.CreatedAt.UTC()
		req.UpdatedAt = req.CreatedAt
		if req.ScheduledAt.IsZero() {
			req.ScheduledAt = req.CreatedAt
		}
		req.ScheduledAt = req.ScheduledAt.UTC()
		req.Status = model.StatusWaiting

		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if err := reindexRoom(tx, req.Room); err != nil {
			return err
		}
		var positions []int
		if err := tx.Model(&model.ReservationRequest{}).Where("id = ?", req.ID).Pluck("queue_position", &positions).Error; err != nil {
			return fmt.Errorf("failed to read queue position: %w", err)
		}
		if len(positions) > 0 {
			req.QueuePosition = positions[0]
		}
		return nil
	})
}

// GetRequest returns a request by id.
func (s *gormStore) GetRequest(ctx context.Context, id int64) (*model.ReservationRequest, error) {
	var req model.ReservationRequest
	err := s.db.WithContext(ctx).First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request %d: %w", id, err)
	}
	return &req, nil
}

// ListStudentRequests returns a student's requests, newest first.
func (s *gormStore) ListStudentRequests(ctx context.Context, studentID string) ([]model.ReservationRequest, error) {
	var reqs []model.ReservationRequest
	if err := s.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("id DESC").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list requests for student %s: %w", studentID, err)
	}
	return reqs, nil
}

// ListWaiting returns WAITING requests due at now, ordered by room, priority and queue position.
func (s *gormStore) ListWaiting(ctx context.Context, now time.Time) ([]model.ReservationRequest, error) {
	return s.listWaiting(s.db.WithContext(ctx), now)
}

// ListWaitingInRoom returns the due WAITING requests of one room in dispatch order.
func (s *gormStore) ListWaitingInRoom(ctx context.Context, room string, now time.Time) ([]model.ReservationRequest, error) {
	return s.listWaiting(s.db.WithContext(ctx).Where("room = ?", room), now)
}

func (s *gormStore) listWaiting(q *gorm.DB, now time.Time) ([]model.ReservationRequest, error) {
	var reqs []model.ReservationRequest
	if err := q.
		Where("status = ?", model.StatusWaiting).
		Order("room").Order("priority").Order("queue_position").Order("id").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list waiting requests: %w", err)
	}

	due := reqs[:0]
	for _, r := range reqs {
		if !r.ScheduledAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// ClaimRequest takes the room slot and moves the request from WAITING to PROCESSING.
// It reports false when the room already has an in-flight request or the request left WAITING.
func (s *gormStore) ClaimRequest(ctx context.Context, id int64, room string, now time.Time) (bool, error) {
	now = now.UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot := model.RoomSlot{Room: room, RequestID: id, ClaimedAt: now}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&slot)
		if res.Error != nil {
			return fmt.Errorf("failed to claim room %s: %w", room, res.Error)
		}
		if res.RowsAffected == 0 {
			return errNotClaimed
		}

		res = tx.Model(&model.ReservationRequest{}).
			Where("id = ? AND status = ?", id, model.StatusWaiting).
			Updates(map[string]interface{}{
				"status":     model.StatusProcessing,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark request %d processing: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return errNotClaimed
		}
		return reindexRoom(tx, room)
	})
	if errors.Is(err, errNotClaimed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompleteRequest moves a PROCESSING request to COMPLETED and appends ev with it. The room slot
// is released in every case; when the request is no longer PROCESSING (canceled meanwhile)
// nothing else is written and false is returned.
func (s *gormStore) CompleteRequest(ctx context.Context, id int64, now time.Time, ev *Event) (bool, error) {
	now = now.UTC()
	return s.finish(ctx, id, map[string]interface{}{
		"status":        model.StatusCompleted,
		"processed_at":  now,
		"error_message": "",
		"updated_at":    now,
	}, func(tx *gorm.DB) error {
		if ev == nil {
			return nil
		}
		_, err := s.appendEvent(tx, *ev)
		return err
	})
}

// FailRequest moves a PROCESSING request to FAILED.
func (s *gormStore) FailRequest(ctx context.Context, id int64, now time.Time, retryCount int, message string) (bool, error) {
	now = now.UTC()
	return s.finish(ctx, id, map[string]interface{}{
		"status":        model.StatusFailed,
		"retry_count":   retryCount,
		"processed_at":  now,
		"error_message": message,
		"updated_at":    now,
	}, nil)
}

// RequeueRequest moves a PROCESSING request back to WAITING, due at scheduledAt.
func (s *gormStore) RequeueRequest(ctx context.Context, id int64, now time.Time, retryCount int, scheduledAt time.Time, message string) (bool, error) {
	now = now.UTC()
	return s.finish(ctx, id, map[string]interface{}{
		"status":        model.StatusWaiting,
		"retry_count":   retryCount,
		"scheduled_at":  scheduledAt.UTC(),
		"error_message": message,
		"updated_at":    now,
	}, nil)
}

func (s *gormStore) finish(ctx context.Context, id int64, updates map[string]interface{}, then func(tx *gorm.DB) error) (bool, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", id).Delete(&model.RoomSlot{}).Error; err != nil {
			return fmt.Errorf("failed to release room slot of request %d: %w", id, err)
		}

		res := tx.Model(&model.ReservationRequest{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update request %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if updates["status"] == model.StatusWaiting {
			var rooms []string
			if err := tx.Model(&model.ReservationRequest{}).Where("id = ?", id).Pluck("room", &rooms).Error; err != nil {
				return err
			}
			for _, room := range rooms {
				if err := reindexRoom(tx, room); err != nil {
					return err
				}
			}
		}
		if then != nil {
			return then(tx)
		}
		return nil
	})
	return applied, err
}

// CancelRequest cancels a WAITING or PROCESSING request owned by studentID. A PROCESSING request
// keeps its room slot until the in-flight attempt finishes.
func (s *gormStore) CancelRequest(ctx context.Context, id int64, studentID string, now time.Time) (*model.ReservationRequest, error) {
	now = now.UTC()
	var req model.ReservationRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&req, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to fetch request %d: %w", id, err)
		}
		if req.StudentID != studentID {
			return ErrNotOwner
		}
		if req.Status != model.StatusWaiting && req.Status != model.StatusProcessing {
			return ErrNotCancelable
		}

		res := tx.Model(&model.ReservationRequest{}).
			Where("id = ? AND status = ?", id, req.Status).
			Updates(map[string]interface{}{
				"status":       model.StatusCanceled,
				"processed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to cancel request %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotCancelable
		}
		if req.Status == model.StatusWaiting {
			if err := reindexRoom(tx, req.Room); err != nil {
				return err
			}
		}
		req.Status = model.StatusCanceled
		req.ProcessedAt = &now
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// RecoverProcessing returns PROCESSING requests that are not in flight to WAITING when they are
// stale or listed in abandoned, and drops room slots whose request is neither PROCESSING nor in
// flight. It returns the number of requests recovered.
func (s *gormStore) RecoverProcessing(ctx context.Context, staleBefore time.Time, inFlight, abandoned map[int64]bool) (int, error) {
	var recovered int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var processing []model.ReservationRequest
		if err := tx.Where("status = ?", model.StatusProcessing).Find(&processing).Error; err != nil {
			return fmt.Errorf("failed to list processing requests: %w", err)
		}

		rooms := make(map[string]struct{})
		for _, r := range processing {
			if inFlight[r.ID] || (!abandoned[r.ID] && r.UpdatedAt.After(staleBefore)) {
				continue
			}
			res := tx.Model(&model.ReservationRequest{}).
				Where("id = ? AND status = ?", r.ID, model.StatusProcessing).
				Updates(map[string]interface{}{
					"status":     model.StatusWaiting,
					"updated_at": time.Now().UTC(),
				})
			if res.Error != nil {
				return fmt.Errorf("failed to recover request %d: %w", r.ID, res.Error)
			}
			if err := tx.Where("request_id = ?", r.ID).Delete(&model.RoomSlot{}).Error; err != nil {
				return fmt.Errorf("failed to release room slot of request %d: %w", r.ID, err)
			}
			if res.RowsAffected > 0 {
				recovered++
				rooms[r.Room] = struct{}{}
			}
		}

		var slots []model.RoomSlot
		if err := tx.Find(&slots).Error; err != nil {
			return fmt.Errorf("failed to list room slots: %w", err)
		}
		for _, slot := range slots {
			if inFlight[slot.RequestID] {
				continue
			}
			var held int64
			if err := tx.Model(&model.ReservationRequest{}).
				Where("id = ? AND status = ?", slot.RequestID, model.StatusProcessing).
				Count(&held).Error; err != nil {
				return err
			}
			if held == 0 {
				if err := tx.Where("room = ?", slot.Room).Delete(&model.RoomSlot{}).Error; err != nil {
					return fmt.Errorf("failed to drop orphan slot of room %s: %w", slot.Room, err)
				}
			}
		}

		for room := range rooms {
			if err := reindexRoom(tx, room); err != nil {
				return err
			}
		}
		return nil
	})
	return recovered, err
}

// QueueStats returns the number of requests per status.
func (s *gormStore) QueueStats(ctx context.Context) (map[model.RequestStatus]int64, error) {
	type row struct {
		Status model.RequestStatus
		Count  int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Model(&model.ReservationRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate queue stats: %w", err)
	}

	stats := map[model.RequestStatus]int64{
		model.StatusWaiting:    0,
		model.StatusProcessing: 0,
		model.StatusCompleted:  0,
		model.StatusFailed:     0,
		model.StatusCanceled:   0,
	}
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}

// CleanupRequests deletes terminal requests last updated before the cutoff.
func (s *gormStore) CleanupRequests(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminalStatuses, before.UTC()).
		Delete(&model.ReservationRequest{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up requests: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// reindexRoom renumbers the room's WAITING requests densely by (priority, enqueue order).
func reindexRoom(tx *gorm.DB, room string) error {
	var waiting []model.ReservationRequest
	if err := tx.Select("id", "queue_position").
		Where("room = ? AND status = ?", room, model.StatusWaiting).
		Order("priority").Order("id").
		Find(&waiting).Error; err != nil {
		return fmt.Errorf("failed to load queue of room %s: %w", room, err)
	}
	for i, r := range waiting {
		if r.QueuePosition == i {
			continue
		}
		if err := tx.Model(&model.ReservationRequest{}).
			Where("id = ?", r.ID).
			UpdateColumn("queue_position", i).Error; err != nil {
			return fmt.Errorf("failed to reposition request %d: %w", r.ID, err)
		}
	}
	return nil
}
