package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"seat-queue-backend/internal/model"
)

func enqueue(t *testing.T, s Store, student, room string, priority int) *model.ReservationRequest {
	t.Helper()
	req := &model.ReservationRequest{
		StudentID:   student,
		RequestType: model.RequestSeat,
		Room:        room,
		Seat:        "1",
		Priority:    priority,
		MaxRetries:  5,
	}
	require.NoError(t, s.CreateRequest(context.Background(), req))
	return req
}

func positions(t *testing.T, gormDB *gorm.DB, room string) map[string]int {
	t.Helper()
	var reqs []model.ReservationRequest
	require.NoError(t, gormDB.Where("room = ? AND status = ?", room, model.StatusWaiting).Find(&reqs).Error)
	out := make(map[string]int, len(reqs))
	for _, r := range reqs {
		out[r.StudentID] = r.QueuePosition
	}
	return out
}

func TestCreateRequest_PositionsFollowPriorityThenEnqueueOrder(t *testing.T) {
	gormDB, s := newSQLiteStore(t)

	a := enqueue(t, s, "a", "R1", 2)
	assert.Equal(t, 0, a.QueuePosition)
	assert.Equal(t, model.StatusWaiting, a.Status)

	b := enqueue(t, s, "b", "R1", 2)
	assert.Equal(t, 1, b.QueuePosition)

	c := enqueue(t, s, "c", "R1", 1)
	assert.Equal(t, 0, c.QueuePosition)

	other := enqueue(t, s, "d", "R2", 2)
	assert.Equal(t, 0, other.QueuePosition)

	assert.Equal(t, map[string]int{"c": 0, "a": 1, "b": 2}, positions(t, gormDB, "R1"))
}

func TestCreateRequest_RejectsDuplicateActiveRequest(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	first := enqueue(t, s, "a", "R1", 2)

	err := s.CreateRequest(ctx, &model.ReservationRequest{StudentID: "a", Room: "R1", RequestType: model.RequestSeat, Seat: "2", Priority: 2})
	assert.ErrorIs(t, err, ErrDuplicateActiveRequest)

	// Another room is fine.
	enqueue(t, s, "a", "R2", 2)

	// Once the first is terminal a new request for the room is accepted.
	_, err = s.CancelRequest(ctx, first.ID, "a", time.Now())
	require.NoError(t, err)
	enqueue(t, s, "a", "R1", 2)
}

func TestCancelRequest_KeepsRelativeOrder(t *testing.T) {
	gormDB, s := newSQLiteStore(t)
	ctx := context.Background()

	enqueue(t, s, "a", "R1", 2)
	b := enqueue(t, s, "b", "R1", 2)
	enqueue(t, s, "c", "R1", 2)
	enqueue(t, s, "d", "R1", 1)

	canceled, err := s.CancelRequest(ctx, b.ID, "b", time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, canceled.Status)

	assert.Equal(t, map[string]int{"d": 0, "a": 1, "c": 2}, positions(t, gormDB, "R1"))
}

func TestCancelRequest_Errors(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()
	req := enqueue(t, s, "a", "R1", 2)

	_, err := s.CancelRequest(ctx, 999, "a", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CancelRequest(ctx, req.ID, "intruder", time.Now())
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = s.CancelRequest(ctx, req.ID, "a", time.Now())
	require.NoError(t, err)

	_, err = s.CancelRequest(ctx, req.ID, "a", time.Now())
	assert.ErrorIs(t, err, ErrNotCancelable)
}

func TestClaimRequest_OneInFlightPerRoom(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	a := enqueue(t, s, "a", "R1", 2)
	b := enqueue(t, s, "b", "R1", 2)
	c := enqueue(t, s, "c", "R2", 2)

	ok, err := s.ClaimRequest(ctx, a.ID, "R1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimRequest(ctx, b.ID, "R1", now)
	require.NoError(t, err)
	assert.False(t, ok, "room R1 already has an in-flight request")

	ok, err = s.ClaimRequest(ctx, c.ID, "R2", now)
	require.NoError(t, err)
	assert.True(t, ok, "rooms are independent")

	got, err := s.GetRequest(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, got.Status)
	assert.Equal(t, 0, got.QueuePosition)

	applied, err := s.FailRequest(ctx, a.ID, now, 0, "will not retry: seat taken")
	require.NoError(t, err)
	assert.True(t, applied)

	ok, err = s.ClaimRequest(ctx, b.ID, "R1", now)
	require.NoError(t, err)
	assert.True(t, ok, "slot is released with the terminal transition")
}

func TestClaimRequest_LosesWhenRequestLeftWaiting(t *testing.T) {
	gormDB, s := newSQLiteStore(t)
	ctx := context.Background()

	a := enqueue(t, s, "a", "R1", 2)
	_, err := s.CancelRequest(ctx, a.ID, "a", time.Now())
	require.NoError(t, err)

	ok, err := s.ClaimRequest(ctx, a.ID, "R1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	var slots int64
	gormDB.Model(&model.RoomSlot{}).Count(&slots)
	assert.Equal(t, int64(0), slots, "a lost claim leaves no slot behind")
}

func TestCompleteRequest_AppendsOccupiedEvent(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	a := enqueue(t, s, "a", "R1", 2)
	ok, err := s.ClaimRequest(ctx, a.ID, "R1", now)
	require.NoError(t, err)
	require.True(t, ok)

	applied, err := s.CompleteRequest(ctx, a.ID, now, &Event{Room: "R1", Seat: "1", Type: model.EventOccupied, Timestamp: now, StudentID: "a"})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetRequest(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	session, err := s.ActiveSession(ctx, "R1", "1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "a", session.StudentID)
}

func TestCompleteRequest_CanceledWhileProcessingIsDiscarded(t *testing.T) {
	gormDB, s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	a := enqueue(t, s, "a", "R1", 2)
	ok, err := s.ClaimRequest(ctx, a.ID, "R1", now)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.CancelRequest(ctx, a.ID, "a", now)
	require.NoError(t, err)

	applied, err := s.CompleteRequest(ctx, a.ID, now, &Event{Room: "R1", Seat: "1", Type: model.EventOccupied, Timestamp: now, StudentID: "a"})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetRequest(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)

	var events, slots int64
	gormDB.Model(&model.OccupancyEvent{}).Count(&events)
	gormDB.Model(&model.RoomSlot{}).Count(&slots)
	assert.Equal(t, int64(0), events)
	assert.Equal(t, int64(0), slots)
}

func TestRequeueRequest_ReturnsToOriginalPlace(t *testing.T) {
	gormDB, s := newSQLiteStore(t)
	ctx := context.Background()

	a := enqueue(t, s, "a", "R1", 2)
	enqueue(t, s, "b", "R1", 2)
	now := time.Now()

	ok, err := s.ClaimRequest(ctx, a.ID, "R1", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"b": 0}, positions(t, gormDB, "R1"))

	later := now.Add(30 * time.Second)
	applied, err := s.RequeueRequest(ctx, a.ID, now, 1, later, "will retry: timeout")
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetRequest(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "will retry: timeout", got.ErrorMessage)
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, positions(t, gormDB, "R1"))

	due, err := s.ListWaiting(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].StudentID)

	due, err = s.ListWaiting(ctx, later.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].StudentID)

	enqueue(t, s, "c", "R2", 1)
	inRoom, err := s.ListWaitingInRoom(ctx, "R1", later.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, inRoom, 2)
	assert.Equal(t, "a", inRoom[0].StudentID)
	inRoom, err = s.ListWaitingInRoom(ctx, "R2", now)
	require.NoError(t, err)
	require.Len(t, inRoom, 1)
}

func TestRecoverProcessing(t *testing.T) {
	gormDB, s := newSQLiteStore(t)
	ctx := context.Background()
	claimedAt := time.Now().Add(-10 * time.Minute)

	stale := enqueue(t, s, "a", "R1", 2)
	busy := enqueue(t, s, "b", "R2", 2)
	for _, r := range []*model.ReservationRequest{stale, busy} {
		ok, err := s.ClaimRequest(ctx, r.ID, r.Room, claimedAt)
		require.NoError(t, err)
		require.True(t, ok)
	}
	// orphan slot: canceled while in flight and the process died before finishing
	canceled := enqueue(t, s, "c", "R3", 2)
	ok, err := s.ClaimRequest(ctx, canceled.ID, "R3", claimedAt)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.CancelRequest(ctx, canceled.ID, "c", claimedAt)
	require.NoError(t, err)

	n, err := s.RecoverProcessing(ctx, time.Now().Add(-time.Minute), map[int64]bool{busy.ID: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRequest(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, got.Status)
	assert.Equal(t, 0, got.RetryCount)

	got, err = s.GetRequest(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)

	var rooms []string
	gormDB.Model(&model.RoomSlot{}).Order("room").Pluck("room", &rooms)
	assert.Equal(t, []string{"R2"}, rooms)
}

func TestRecoverProcessing_Abandoned(t *testing.T) {
	gormDB, s := newSQLiteStore(t)
	ctx := context.Background()

	fresh := enqueue(t, s, "a", "R1", 2)
	ok, err := s.ClaimRequest(ctx, fresh.ID, "R1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.RecoverProcessing(ctx, time.Now().Add(-time.Minute), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "recently claimed requests are left alone")

	n, err = s.RecoverProcessing(ctx, time.Now().Add(-time.Minute), nil, map[int64]bool{fresh.ID: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRequest(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, got.Status)

	var slots int64
	gormDB.Model(&model.RoomSlot{}).Count(&slots)
	assert.Zero(t, slots)
}

func TestCleanupRequests(t *testing.T) {
	_, s := newSQLiteStore(t)
	ctx := context.Background()

	old := enqueue(t, s, "a", "R1", 2)
	_, err := s.CancelRequest(ctx, old.ID, "a", time.Now().Add(-8*24*time.Hour))
	require.NoError(t, err)
	waiting := enqueue(t, s, "b", "R1", 2)

	n, err := s.CleanupRequests(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetRequest(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRequest(ctx, waiting.ID)
	assert.NoError(t, err)
}

func TestQueueStats(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, COUNT(*) AS count FROM "reservation_requests" GROUP BY "status"`)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("WAITING", 3).
			AddRow("COMPLETED", 7))

	stats, err := s.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats[model.StatusWaiting])
	assert.Equal(t, int64(7), stats[model.StatusCompleted])
	assert.Equal(t, int64(0), stats[model.StatusFailed])
	assert.Len(t, stats, 5)
	assert.NoError(t, mock.ExpectationsWereMet())
}
