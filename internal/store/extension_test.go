package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-queue-backend/internal/model"
)

func TestUpsertExtensionConfig_KeepsCounters(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	cfg := &model.AutoExtensionConfig{
		StudentID: "s1", IsEnabled: true, TriggerMinutesBefore: 30, MaxAutoExtensions: 2,
		TimeRestriction: model.RestrictAllTimes,
	}
	require.NoError(t, s.UpsertExtensionConfig(ctx, cfg))
	assert.NotZero(t, cfg.ID)

	applied, err := s.RecordExtension(ctx, "s1", time.Now(), 0, nil)
	require.NoError(t, err)
	require.True(t, applied)

	start, end := "09:00", "18:00"
	update := &model.AutoExtensionConfig{
		StudentID: "s1", IsEnabled: false, TriggerMinutesBefore: 15, MaxAutoExtensions: 4,
		TimeRestriction: model.RestrictWeekdays, StartTime: &start, EndTime: &end,
	}
	require.NoError(t, s.UpsertExtensionConfig(ctx, update))

	got, err := s.GetExtensionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
	assert.Equal(t, 15, got.TriggerMinutesBefore)
	assert.Equal(t, 4, got.MaxAutoExtensions)
	assert.Equal(t, 1, got.CurrentExtensionCount)
	require.NotNil(t, got.StartTime)
	assert.Equal(t, "09:00", *got.StartTime)
	assert.NotNil(t, got.LastExtendedAt)

	_, err = s.GetExtensionConfig(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordExtension_HoldsCap(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.AppendEvent(ctx, Event{Room: "R1", Seat: "1", Type: model.EventOccupied, Timestamp: now, StudentID: "s1"})
	require.NoError(t, err)
	session, err := s.ActiveSessionForStudent(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, session)

	require.NoError(t, s.UpsertExtensionConfig(ctx, &model.AutoExtensionConfig{
		StudentID: "s1", IsEnabled: true, TriggerMinutesBefore: 30, MaxAutoExtensions: 2,
		TimeRestriction: model.RestrictAllTimes,
	}))

	newEnd := now.Add(4 * time.Hour)
	for i := 0; i < 2; i++ {
		applied, err := s.RecordExtension(ctx, "s1", now, session.ID, &newEnd)
		require.NoError(t, err)
		assert.True(t, applied)
	}
	applied, err := s.RecordExtension(ctx, "s1", now, session.ID, &newEnd)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetExtensionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentExtensionCount)

	session, err = s.ActiveSessionForStudent(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, session.ScheduledEnd)
	assert.WithinDuration(t, newEnd, *session.ScheduledEnd, time.Second)
}

func TestResetExtensionCount_OncePerDate(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertExtensionConfig(ctx, &model.AutoExtensionConfig{
		StudentID: "s1", IsEnabled: true, TriggerMinutesBefore: 30, MaxAutoExtensions: 2,
		TimeRestriction: model.RestrictAllTimes,
	}))
	_, err := s.RecordExtension(ctx, "s1", time.Now(), 0, nil)
	require.NoError(t, err)

	reset, err := s.ResetExtensionCount(ctx, "s1", "2026-03-05")
	require.NoError(t, err)
	assert.True(t, reset)

	_, err = s.RecordExtension(ctx, "s1", time.Now(), 0, nil)
	require.NoError(t, err)

	reset, err = s.ResetExtensionCount(ctx, "s1", "2026-03-05")
	require.NoError(t, err)
	assert.False(t, reset, "same date must not reset twice")

	got, err := s.GetExtensionConfig(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentExtensionCount)
	assert.Equal(t, "2026-03-05", got.LastResetDate)

	enabled, err := s.ListEnabledExtensionConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestSubscriptions(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/1", StudentID: "s1", P256DH: "k", Auth: "a"}))
	require.NoError(t, s.UpsertSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/1", StudentID: "s1", P256DH: "k2", Auth: "a2"}))

	subs, err := s.ListSubscriptions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256DH)

	require.NoError(t, s.DeleteSubscription(ctx, "https://push/1"))
	subs, err = s.ListSubscriptions(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
