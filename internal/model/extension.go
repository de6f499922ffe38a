package model

import "time"

// TimeRestriction limits the days on which auto-extension runs.
type TimeRestriction string

const (
	RestrictAllTimes TimeRestriction = "ALL_TIMES"
	RestrictWeekdays TimeRestriction = "WEEKDAYS"
	RestrictWeekends TimeRestriction = "WEEKENDS"
)

// AutoExtensionConfig is a student's auto-extension policy and daily counter.
// StartTime and EndTime are "15:04" strings; LastResetDate is "2006-01-02".
type AutoExtensionConfig struct {
	ID                           int64           `gorm:"primaryKey" json:"-"`
	StudentID                    string          `gorm:"size:64;not null;uniqueIndex" json:"studentId"`
	IsEnabled                    bool            `gorm:"not null" json:"isEnabled"`
	TriggerMinutesBefore         int             `gorm:"not null" json:"triggerMinutesBefore"`
	MaxAutoExtensions            int             `gorm:"not null" json:"maxAutoExtensions"`
	CurrentExtensionCount        int             `gorm:"not null" json:"currentExtensionCount"`
	LastResetDate                string          `gorm:"size:10" json:"lastResetDate,omitempty"`
	TimeRestriction              TimeRestriction `gorm:"size:16;not null" json:"timeRestriction"`
	StartTime                    *string         `gorm:"size:5" json:"startTime,omitempty"`
	EndTime                      *string         `gorm:"size:5" json:"endTime,omitempty"`
	AutoReturnOnEmptyReservation bool            `gorm:"not null" json:"autoReturnOnEmptyReservation"`
	LastExtendedAt               *time.Time      `json:"lastExtendedAt,omitempty"`
	CreatedAt                    time.Time       `json:"-"`
	UpdatedAt                    time.Time       `json:"-"`
}
