package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"seat-queue-backend/internal/db"
	"seat-queue-backend/internal/model"
)

// newSQLiteStore opens a private in-memory database with every table migrated.
func newSQLiteStore(t *testing.T, opts ...Option) (*gorm.DB, *gormStore) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB, NewGormStore(gormDB, opts...).(*gormStore)
}

func TestAppendEvent_SessionLifecycle(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	gormDB, s := newSQLiteStore(t, WithLocation(loc))
	ctx := context.Background()

	// Saturday 09:30 in Seoul
	start := time.Date(2026, 3, 7, 9, 30, 0, 0, loc)
	end := start.Add(4 * time.Hour)

	applied, err := s.AppendEvent(ctx, Event{
		Room: "R1", Seat: "12", Type: model.EventOccupied, Timestamp: start,
		PeriodType: model.PeriodExam, StudentID: "s1", ScheduledEnd: &end,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	active, err := s.ActiveSession(ctx, "R1", "12")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, model.DayWeekend, active.DayType)
	assert.Equal(t, 9, active.StartHour)
	assert.Equal(t, model.PeriodExam, active.PeriodType)
	assert.Equal(t, "s1", active.StudentID)
	require.NotNil(t, active.ScheduledEnd)
	assert.True(t, end.Equal(*active.ScheduledEnd))

	// A second OCCUPIED is not a transition.
	applied, err = s.AppendEvent(ctx, Event{Room: "R1", Seat: "12", Type: model.EventOccupied, Timestamp: start.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.AppendEvent(ctx, Event{Room: "R1", Seat: "12", Type: model.EventVacated, Timestamp: start.Add(95 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, applied)

	active, err = s.ActiveSession(ctx, "R1", "12")
	require.NoError(t, err)
	assert.Nil(t, active)

	// VACATED on a free seat is not a transition either.
	applied, err = s.AppendEvent(ctx, Event{Room: "R1", Seat: "12", Type: model.EventVacated, Timestamp: start.Add(100 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, applied)

	var events int64
	gormDB.Model(&model.OccupancyEvent{}).Count(&events)
	assert.Equal(t, int64(2), events)

	closed, err := s.QueryClosedSessions(ctx, SessionFilter{Room: "R1"})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.NotNil(t, closed[0].DurationMinutes)
	assert.InDelta(t, 95.0, *closed[0].DurationMinutes, 0.001)
	require.NotNil(t, closed[0].EndTime)
}

func TestAppendEvent_DefaultsPeriodToNormal(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.AppendEvent(ctx, Event{Room: "R1", Seat: "1", Type: model.EventOccupied, Timestamp: time.Now()})
	require.NoError(t, err)

	active, err := s.ActiveSession(ctx, "R1", "1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, model.PeriodNormal, active.PeriodType)
}

func TestAppendEvent_RejectsUnknownType(t *testing.T) {
	_, s := newSQLiteStore(t)
	_, err := s.AppendEvent(context.Background(), Event{Room: "R1", Seat: "1", Type: "BROKEN", Timestamp: time.Now()})
	assert.Error(t, err)
}

func TestQueryClosedSessions_Filters(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	// Wednesday
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	sessions := []struct {
		room    string
		seat    string
		start   time.Time
		minutes int
		period  model.PeriodType
	}{
		{"R1", "1", base, 60, model.PeriodNormal},
		{"R1", "2", base.Add(4 * time.Hour), 120, model.PeriodNormal},
		{"R2", "1", base, 30, model.PeriodExam},
		{"R2", "2", base.Add(72 * time.Hour), 2, model.PeriodNormal}, // Saturday, too short
	}
	for _, ss := range sessions {
		_, err := s.AppendEvent(ctx, Event{Room: ss.room, Seat: ss.seat, Type: model.EventOccupied, Timestamp: ss.start, PeriodType: ss.period})
		require.NoError(t, err)
		_, err = s.AppendEvent(ctx, Event{Room: ss.room, Seat: ss.seat, Type: model.EventVacated, Timestamp: ss.start.Add(time.Duration(ss.minutes) * time.Minute)})
		require.NoError(t, err)
	}
	// still open, never part of the closed sample
	_, err := s.AppendEvent(ctx, Event{Room: "R1", Seat: "3", Type: model.EventOccupied, Timestamp: base})
	require.NoError(t, err)

	all, err := s.QueryClosedSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byRoom, err := s.QueryClosedSessions(ctx, SessionFilter{Room: "R1"})
	require.NoError(t, err)
	assert.Len(t, byRoom, 2)

	byPeriod, err := s.QueryClosedSessions(ctx, SessionFilter{PeriodType: model.PeriodExam})
	require.NoError(t, err)
	require.Len(t, byPeriod, 1)
	assert.Equal(t, "R2", byPeriod[0].Room)

	byHours, err := s.QueryClosedSessions(ctx, SessionFilter{StartHours: []int{13, 14, 15, 16, 17}})
	require.NoError(t, err)
	require.Len(t, byHours, 1)
	assert.Equal(t, "2", byHours[0].Seat)

	weekend, err := s.QueryClosedSessions(ctx, SessionFilter{DayType: model.DayWeekend})
	require.NoError(t, err)
	assert.Len(t, weekend, 1)

	bounded, err := s.QueryClosedSessions(ctx, SessionFilter{MinMinutes: 5, MaxMinutes: 90})
	require.NoError(t, err)
	assert.Len(t, bounded, 2)
}

func TestActiveSessionQueries(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, seat := range []string{"2", "1"} {
		_, err := s.AppendEvent(ctx, Event{Room: "R1", Seat: seat, Type: model.EventOccupied, Timestamp: now, StudentID: "s" + seat})
		require.NoError(t, err)
	}

	byRoom, err := s.ActiveSessionsByRoom(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, byRoom, 2)
	assert.Equal(t, "1", byRoom[0].Seat)

	mine, err := s.ActiveSessionForStudent(ctx, "s2")
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, "2", mine.Seat)

	none, err := s.ActiveSessionForStudent(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUpdateScheduledEnd(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	_, err := s.AppendEvent(ctx, Event{Room: "R1", Seat: "1", Type: model.EventOccupied, StudentID: "a", Timestamp: start})
	require.NoError(t, err)
	open, err := s.ActiveSession(ctx, "R1", "1")
	require.NoError(t, err)
	require.Nil(t, open.ScheduledEnd)

	end := start.Add(3 * time.Hour)
	ok, err := s.UpdateScheduledEnd(ctx, open.ID, end)
	require.NoError(t, err)
	assert.True(t, ok)

	open, err = s.ActiveSession(ctx, "R1", "1")
	require.NoError(t, err)
	require.NotNil(t, open.ScheduledEnd)
	assert.True(t, end.Equal(*open.ScheduledEnd))

	_, err = s.AppendEvent(ctx, Event{Room: "R1", Seat: "1", Type: model.EventVacated, Timestamp: start.Add(time.Hour)})
	require.NoError(t, err)
	ok, err = s.UpdateScheduledEnd(ctx, open.ID, end.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "closed sessions keep their end")
}

func TestPeriods(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePeriod(ctx, &model.AcademicPeriod{
		Name: "Finals", Type: model.PeriodFinals, IsActive: true,
		StartDate: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.CreatePeriod(ctx, &model.AcademicPeriod{
		Name: "Old break", Type: model.PeriodVacation, IsActive: false,
		StartDate: time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
	}))

	all, err := s.ListPeriods(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Old break", all[0].Name)

	active, err := s.ListPeriods(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.PeriodFinals, active[0].Type)
}
