// Package calendar classifies points in time against the academic calendar.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"seat-queue-backend/internal/model"
	"seat-queue-backend/internal/store"
)

const activeKey = "active-periods"

// Classifier maps a time onto the period type of the academic calendar.
type Classifier struct {
	periods store.PeriodStore
	loc     *time.Location
	cache   *cache.Cache
}

// NewClassifier creates a Classifier that caches the active period list for ttl.
func NewClassifier(periods store.PeriodStore, loc *time.Location, ttl time.Duration) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{
		periods: periods,
		loc:     loc,
		cache:   cache.New(ttl, 2*ttl),
	}
}

// PeriodAt returns the type of the most recently started active period covering t's date,
// or NORMAL when none does.
func (c *Classifier) PeriodAt(ctx context.Context, t time.Time) (model.PeriodType, error) {
	periods, err := c.active(ctx)
	if err != nil {
		return model.PeriodNormal, err
	}
	return Classify(periods, t.In(c.loc)), nil
}

// Invalidate drops the cached period list. Call it after the calendar changes.
func (c *Classifier) Invalidate() {
	c.cache.Delete(activeKey)
}

func (c *Classifier) active(ctx context.Context) ([]model.AcademicPeriod, error) {
	if v, found := c.cache.Get(activeKey); found {
		return v.([]model.AcademicPeriod), nil
	}
	periods, err := c.periods.ListPeriods(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load academic calendar: %w", err)
	}
	c.cache.SetDefault(activeKey, periods)
	return periods, nil
}

// Classify picks the period type for t from periods. Period bounds are whole dates in t's
// location, both inclusive.
func Classify(periods []model.AcademicPeriod, t time.Time) model.PeriodType {
	day := dateOf(t, t.Location())
	var best *model.AcademicPeriod
	for i := range periods {
		p := &periods[i]
		if !p.IsActive {
			continue
		}
		start := dateOf(p.StartDate, t.Location())
		end := dateOf(p.EndDate, t.Location())
		if day.Before(start) || day.After(end) {
			continue
		}
		if best == nil || p.StartDate.After(best.StartDate) {
			best = p
		}
	}
	if best == nil {
		return model.PeriodNormal
	}
	return best.Type
}

// dateOf returns midnight in loc of the calendar date t carries in its own location.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
