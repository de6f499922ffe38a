package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-queue-backend/internal/model"
)

type fakePeriods struct {
	periods []model.AcademicPeriod
	calls   int
	err     error
}

func (f *fakePeriods) CreatePeriod(ctx context.Context, p *model.AcademicPeriod) error {
	f.periods = append(f.periods, *p)
	return nil
}

func (f *fakePeriods) ListPeriods(ctx context.Context, activeOnly bool) ([]model.AcademicPeriod, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []model.AcademicPeriod
	for _, p := range f.periods {
		if !activeOnly || p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClassify(t *testing.T) {
	periods := []model.AcademicPeriod{
		{Name: "Semester exams", Type: model.PeriodExam, IsActive: true, StartDate: date(2026, 6, 1), EndDate: date(2026, 6, 20)},
		{Name: "Finals week", Type: model.PeriodFinals, IsActive: true, StartDate: date(2026, 6, 14), EndDate: date(2026, 6, 20)},
		{Name: "Cancelled break", Type: model.PeriodVacation, IsActive: false, StartDate: date(2026, 7, 1), EndDate: date(2026, 8, 31)},
	}

	testCases := []struct {
		name string
		at   time.Time
		want model.PeriodType
	}{
		{"before any period", time.Date(2026, 5, 31, 23, 59, 0, 0, time.UTC), model.PeriodNormal},
		{"first day inclusive", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), model.PeriodExam},
		{"most recent start wins", time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC), model.PeriodFinals},
		{"last day inclusive", time.Date(2026, 6, 20, 23, 0, 0, 0, time.UTC), model.PeriodFinals},
		{"inactive period ignored", time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC), model.PeriodNormal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(periods, tc.at))
		})
	}
}

func TestClassifier_UsesLocalDate(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	periods := &fakePeriods{periods: []model.AcademicPeriod{
		{Name: "Exams", Type: model.PeriodExam, IsActive: true, StartDate: date(2026, 6, 1), EndDate: date(2026, 6, 5)},
	}}
	c := NewClassifier(periods, loc, time.Minute)

	// 2026-05-31 16:00 UTC is already June 1st in KST.
	got, err := c.PeriodAt(context.Background(), time.Date(2026, 5, 31, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, model.PeriodExam, got)
}

func TestClassifier_CachesUntilInvalidated(t *testing.T) {
	periods := &fakePeriods{}
	c := NewClassifier(periods, time.UTC, time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)

	got, err := c.PeriodAt(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, model.PeriodNormal, got)

	require.NoError(t, periods.CreatePeriod(ctx, &model.AcademicPeriod{
		Name: "Exams", Type: model.PeriodExam, IsActive: true, StartDate: date(2026, 6, 1), EndDate: date(2026, 6, 5),
	}))
	got, err = c.PeriodAt(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, model.PeriodNormal, got, "cached list is still served")
	assert.Equal(t, 1, periods.calls)

	c.Invalidate()
	got, err = c.PeriodAt(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, model.PeriodExam, got)
	assert.Equal(t, 2, periods.calls)
}

func TestClassifier_StoreErrorFallsBackToNormal(t *testing.T) {
	c := NewClassifier(&fakePeriods{err: errors.New("db down")}, time.UTC, time.Minute)
	got, err := c.PeriodAt(context.Background(), time.Now())
	assert.Error(t, err)
	assert.Equal(t, model.PeriodNormal, got)
}
