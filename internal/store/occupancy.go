package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"seat-queue-backend/internal/model"
)

// AppendEvent records a seat transition and applies it to the session table in one transaction.
// Events that are not transitions (OCCUPIED on a held seat, VACATED on a free seat) are dropped
// and reported as not applied.
func (s *gormStore) AppendEvent(ctx context.Context, ev Event) (bool, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = s.appendEvent(tx, ev)
		return err
	})
	return applied, err
}

func (s *gormStore) appendEvent(tx *gorm.DB, ev Event) (bool, error) {
	open, err := activeSession(tx, ev.Room, ev.Seat)
	if err != nil {
		return false, err
	}

	ts := ev.Timestamp.UTC()
	switch ev.Type {
	case model.EventOccupied:
		if open != nil {
			return false, nil
		}
	case model.EventVacated:
		if open == nil {
			return false, nil
		}
	default:
		return false, fmt.Errorf("unknown event type %q", ev.Type)
	}

	periodType := ev.PeriodType
	if periodType == "" {
		periodType = model.PeriodNormal
	}

	record := model.OccupancyEvent{
		Room:       ev.Room,
		Seat:       ev.Seat,
		Type:       ev.Type,
		StudentID:  ev.StudentID,
		Timestamp:  ts,
		PeriodType: periodType,
	}
	if err := tx.Create(&record).Error; err != nil {
		return false, fmt.Errorf("failed to append %s event for %s/%s: %w", ev.Type, ev.Room, ev.Seat, err)
	}

	if ev.Type == model.EventOccupied {
		local := ts.In(s.loc)
		session := model.OccupancySession{
			Room:       ev.Room,
			Seat:       ev.Seat,
			StudentID:  ev.StudentID,
			StartTime:  ts,
			PeriodType: periodType,
			DayType:    model.DayTypeOf(local),
			StartHour:  local.Hour(),
		}
		if ev.ScheduledEnd != nil {
			end := ev.ScheduledEnd.UTC()
			session.ScheduledEnd = &end
		}
		if err := tx.Create(&session).Error; err != nil {
			return false, fmt.Errorf("failed to open session for %s/%s: %w", ev.Room, ev.Seat, err)
		}
		return true, nil
	}

	duration := ts.Sub(open.StartTime).Minutes()
	if duration < 0 {
		duration = 0
	}
	if err := tx.Model(&model.OccupancySession{}).
		Where("id = ?", open.ID).
		Updates(map[string]interface{}{
			"end_time":         ts,
			"duration_minutes": duration,
		}).Error; err != nil {
		return false, fmt.Errorf("failed to close session %d: %w", open.ID, err)
	}
	return true, nil
}

func activeSession(tx *gorm.DB, room, seat string) (*model.OccupancySession, error) {
	var sessions []model.OccupancySession
	if err := tx.Where("room = ? AND seat = ? AND end_time IS NULL", room, seat).
		Order("start_time DESC").
		Limit(1).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active session for %s/%s: %w", room, seat, err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// ActiveSession returns the open session of a seat, or nil when the seat is free.
func (s *gormStore) ActiveSession(ctx context.Context, room, seat string) (*model.OccupancySession, error) {
	return activeSession(s.db.WithContext(ctx), room, seat)
}

// UpdateScheduledEnd moves the scheduled end of an open session. It reports false when the
// session is already closed.
func (s *gormStore) UpdateScheduledEnd(ctx context.Context, sessionID int64, end time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.OccupancySession{}).
		Where("id = ? AND end_time IS NULL", sessionID).
		Update("scheduled_end", end.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("failed to update scheduled end of session %d: %w", sessionID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ActiveSessionsByRoom returns every open session in a room.
func (s *gormStore) ActiveSessionsByRoom(ctx context.Context, room string) ([]model.OccupancySession, error) {
	var sessions []model.OccupancySession
	if err := s.db.WithContext(ctx).
		Where("room = ? AND end_time IS NULL", room).
		Order("seat").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active sessions for room %s: %w", room, err)
	}
	return sessions, nil
}

// ActiveSessionForStudent returns the student's most recent open session, or nil.
func (s *gormStore) ActiveSessionForStudent(ctx context.Context, studentID string) (*model.OccupancySession, error) {
	var sessions []model.OccupancySession
	if err := s.db.WithContext(ctx).
		Where("student_id = ? AND end_time IS NULL", studentID).
		Order("start_time DESC").
		Limit(1).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active session for student %s: %w", studentID, err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// QueryClosedSessions returns closed sessions matching the filter.
func (s *gormStore) QueryClosedSessions(ctx context.Context, f SessionFilter) ([]model.OccupancySession, error) {
	q := s.db.WithContext(ctx).Where("end_time IS NOT NULL")
	if f.Room != "" {
		q = q.Where("room = ?", f.Room)
	}
	if f.PeriodType != "" {
		q = q.Where("period_type = ?", f.PeriodType)
	}
	if f.DayType != "" {
		q = q.Where("day_type = ?", f.DayType)
	}
	if len(f.StartHours) > 0 {
		q = q.Where("start_hour IN ?", f.StartHours)
	}
	if f.MinMinutes > 0 {
		q = q.Where("duration_minutes >= ?", f.MinMinutes)
	}
	if f.MaxMinutes > 0 {
		q = q.Where("duration_minutes <= ?", f.MaxMinutes)
	}

	var sessions []model.OccupancySession
	if err := q.Order("id").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to query closed sessions: %w", err)
	}
	return sessions, nil
}

// CreatePeriod inserts an academic period.
func (s *gormStore) CreatePeriod(ctx context.Context, p *model.AcademicPeriod) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create academic period %q: %w", p.Name, err)
	}
	return nil
}

// ListPeriods returns academic periods ordered by start date.
func (s *gormStore) ListPeriods(ctx context.Context, activeOnly bool) ([]model.AcademicPeriod, error) {
	q := s.db.WithContext(ctx)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var periods []model.AcademicPeriod
	if err := q.Order("start_date").Find(&periods).Error; err != nil {
		return nil, fmt.Errorf("failed to list academic periods: %w", err)
	}
	return periods, nil
}
