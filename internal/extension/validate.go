package extension

import (
	"errors"
	"fmt"
	"time"

	"seat-queue-backend/internal/model"
)

// ErrConfigInvalid is returned for a malformed auto-extension policy.
var ErrConfigInvalid = errors.New("invalid auto-extension config")

const (
	minTrigger       = 1
	maxTrigger       = 240
	maxExtensionsCap = 20
)

// Validate checks a policy before it is stored. An empty time restriction means ALL_TIMES.
func Validate(cfg *model.AutoExtensionConfig) error {
	if cfg.StudentID == "" {
		return fmt.Errorf("%w: studentId is required", ErrConfigInvalid)
	}
	if cfg.TriggerMinutesBefore < minTrigger || cfg.TriggerMinutesBefore > maxTrigger {
		return fmt.Errorf("%w: triggerMinutesBefore must be between %d and %d", ErrConfigInvalid, minTrigger, maxTrigger)
	}
	if cfg.MaxAutoExtensions < 0 || cfg.MaxAutoExtensions > maxExtensionsCap {
		return fmt.Errorf("%w: maxAutoExtensions must be between 0 and %d", ErrConfigInvalid, maxExtensionsCap)
	}

	switch cfg.TimeRestriction {
	case "":
		cfg.TimeRestriction = model.RestrictAllTimes
	case model.RestrictAllTimes, model.RestrictWeekdays, model.RestrictWeekends:
	default:
		return fmt.Errorf("%w: unknown timeRestriction %q", ErrConfigInvalid, cfg.TimeRestriction)
	}

	if (cfg.StartTime == nil) != (cfg.EndTime == nil) {
		return fmt.Errorf("%w: startTime and endTime must be set together", ErrConfigInvalid)
	}
	if cfg.StartTime == nil {
		return nil
	}
	start, err := parseClock(*cfg.StartTime)
	if err != nil {
		return fmt.Errorf("%w: startTime: %v", ErrConfigInvalid, err)
	}
	end, err := parseClock(*cfg.EndTime)
	if err != nil {
		return fmt.Errorf("%w: endTime: %v", ErrConfigInvalid, err)
	}
	if start == end {
		return fmt.Errorf("%w: startTime and endTime must differ", ErrConfigInvalid)
	}
	return nil
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// inWindow reports whether minute falls in [start, end). A window with start > end wraps midnight.
func inWindow(minute, start, end int) bool {
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func allowedOn(r model.TimeRestriction, day model.DayType) bool {
	switch r {
	case model.RestrictWeekdays:
		return day == model.DayWeekday
	case model.RestrictWeekends:
		return day == model.DayWeekend
	}
	return true
}
