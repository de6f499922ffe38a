// Package extension renews active seat holds shortly before they expire, within each student's
// auto-extension policy.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/model"
	"seat-queue-backend/internal/portal"
	"seat-queue-backend/internal/store"
)

const dateLayout = "2006-01-02"

var extensionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seatq_extension_attempts_total",
	Help: "Auto-extension attempts by outcome.",
}, []string{"outcome"})

// Store is the persistence the engine needs.
type Store interface {
	store.ExtensionStore
	store.OccupancyStore
}

// RunStats summarizes one pass over the enabled policies.
type RunStats struct {
	Processed  int
	Successful int
	Failed     int
	Skipped    int
}

// Engine evaluates auto-extension policies against active sessions.
type Engine struct {
	store   Store
	adapter portal.SeatAdapter
	cfg     config.AutoExtensionConfig
	loc     *time.Location
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Calendar dates, weekdays and time windows are evaluated in loc.
func New(st Store, adapter portal.SeatAdapter, cfg config.AutoExtensionConfig, loc *time.Location, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 10 * time.Second
	}
	e := &Engine{store: st, adapter: adapter, cfg: cfg, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOnce evaluates every enabled policy once.
func (e *Engine) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	cfgs, err := e.store.ListEnabledExtensionConfigs(ctx)
	if err != nil {
		return stats, err
	}

	for i := range cfgs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Processed++
		switch e.evaluate(ctx, &cfgs[i]) {
		case "extended":
			stats.Successful++
		case "failed":
			stats.Failed++
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

// evaluate applies the policy rules in order and extends when all of them pass.
func (e *Engine) evaluate(ctx context.Context, cfg *model.AutoExtensionConfig) string {
	now := e.now()
	local := now.In(e.loc)

	session, err := e.store.ActiveSessionForStudent(ctx, cfg.StudentID)
	if err != nil {
		log.Printf("Error loading active session of %s: %v", cfg.StudentID, err)
		return "failed"
	}
	if session == nil || session.ScheduledEnd == nil {
		return "skipped"
	}

	today := local.Format(dateLayout)
	if cfg.LastResetDate != today {
		reset, err := e.store.ResetExtensionCount(ctx, cfg.StudentID, today)
		if err != nil {
			log.Printf("Error resetting extension count of %s: %v", cfg.StudentID, err)
			return "failed"
		}
		if reset {
			cfg.CurrentExtensionCount = 0
			cfg.LastResetDate = today
		}
	}

	if cfg.CurrentExtensionCount >= cfg.MaxAutoExtensions {
		return "skipped"
	}
	if !allowedOn(cfg.TimeRestriction, model.DayTypeOf(local)) {
		return "skipped"
	}
	if cfg.StartTime != nil && cfg.EndTime != nil {
		start, err1 := parseClock(*cfg.StartTime)
		end, err2 := parseClock(*cfg.EndTime)
		if err1 != nil || err2 != nil {
			log.Printf("Skipping malformed time window of %s", cfg.StudentID)
			return "skipped"
		}
		if !inWindow(local.Hour()*60+local.Minute(), start, end) {
			return "skipped"
		}
	}
	if cfg.LastExtendedAt != nil && now.Sub(*cfg.LastExtendedAt) < e.cfg.MinGap {
		return "skipped"
	}

	remaining := session.ScheduledEnd.Sub(now)
	if remaining <= 0 {
		return "skipped"
	}
	if remaining > time.Duration(cfg.TriggerMinutesBefore)*time.Minute {
		return "skipped"
	}

	if err := e.extend(ctx, cfg, session, now); err != nil {
		log.Printf("Auto-extension of %s/%s for %s failed: %v", session.Room, session.Seat, cfg.StudentID, err)
		extensionsTotal.WithLabelValues("failed").Inc()
		return "failed"
	}
	extensionsTotal.WithLabelValues("extended").Inc()
	return "extended"
}

func (e *Engine) extend(ctx context.Context, cfg *model.AutoExtensionConfig, session *model.OccupancySession, now time.Time) error {
	actx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
	result, err := e.adapter.Extend(actx, session.Room, session.Seat, cfg.StudentID)
	cancel()
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("portal refused: %s", result.Reason)
	}

	applied, err := e.store.RecordExtension(ctx, cfg.StudentID, now, session.ID, result.EndsAt)
	if err != nil {
		return err
	}
	if !applied {
		return errors.New("daily extension limit reached")
	}
	log.Printf("Extended %s/%s for %s (%d/%d today)", session.Room, session.Seat, cfg.StudentID, cfg.CurrentExtensionCount+1, cfg.MaxAutoExtensions)
	return nil
}

// Stats is a student's auto-extension status for today.
type Stats struct {
	Enabled        bool       `json:"enabled"`
	Count          int        `json:"currentExtensionCount"`
	Max            int        `json:"maxAutoExtensions"`
	Remaining      int        `json:"remainingExtensions"`
	LastExtendedAt *time.Time `json:"lastExtendedAt,omitempty"`
}

// Stats returns today's counters; a count from an earlier day reads as zero.
func (e *Engine) Stats(ctx context.Context, studentID string) (*Stats, error) {
	cfg, err := e.store.GetExtensionConfig(ctx, studentID)
	if err != nil {
		return nil, err
	}
	count := cfg.CurrentExtensionCount
	if cfg.LastResetDate != e.now().In(e.loc).Format(dateLayout) {
		count = 0
	}
	remaining := cfg.MaxAutoExtensions - count
	if remaining < 0 {
		remaining = 0
	}
	return &Stats{
		Enabled:        cfg.IsEnabled,
		Count:          count,
		Max:            cfg.MaxAutoExtensions,
		Remaining:      remaining,
		LastExtendedAt: cfg.LastExtendedAt,
	}, nil
}

// Config returns a student's policy.
func (e *Engine) Config(ctx context.Context, studentID string) (*model.AutoExtensionConfig, error) {
	return e.store.GetExtensionConfig(ctx, studentID)
}

// SaveConfig validates and stores a policy. Counters are kept on update.
func (e *Engine) SaveConfig(ctx context.Context, cfg *model.AutoExtensionConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	return e.store.UpsertExtensionConfig(ctx, cfg)
}
