package model

import "time"

// AcademicPeriod is an entry of the academic calendar used to stamp new sessions.
type AcademicPeriod struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	Name      string     `gorm:"size:128;not null" json:"name"`
	StartDate time.Time  `gorm:"not null" json:"startDate"`
	EndDate   time.Time  `gorm:"not null" json:"endDate"`
	Type      PeriodType `gorm:"size:16;not null" json:"type"`
	IsActive  bool       `gorm:"not null" json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
}
