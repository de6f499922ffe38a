package predict

import (
	"fmt"

	"seat-queue-backend/internal/model"
	"seat-queue-backend/internal/store"
)

// All marks a relaxed segment dimension.
const All = "ALL"

// HourBucket groups session start hours.
type HourBucket string

const (
	EarlyMorning HourBucket = "EARLY_MORNING"
	Morning      HourBucket = "MORNING"
	Afternoon    HourBucket = "AFTERNOON"
	Evening      HourBucket = "EVENING"
	Night        HourBucket = "NIGHT"
)

var bucketHours = map[HourBucket][]int{
	EarlyMorning: {5, 6, 7, 8},
	Morning:      {9, 10, 11, 12},
	Afternoon:    {13, 14, 15, 16, 17},
	Evening:      {18, 19, 20, 21},
	Night:        {22, 23, 0, 1, 2, 3, 4},
}

// BucketOf returns the bucket of a local start hour.
func BucketOf(hour int) HourBucket {
	switch {
	case hour >= 5 && hour < 9:
		return EarlyMorning
	case hour >= 9 && hour < 13:
		return Morning
	case hour >= 13 && hour < 18:
		return Afternoon
	case hour >= 18 && hour < 22:
		return Evening
	}
	return Night
}

// Segment is the set of conditions a historical sample is drawn from. Relaxed dimensions
// hold All, or an empty Room.
type Segment struct {
	PeriodType string `json:"periodType"`
	HourBucket string `json:"startHourBucket"`
	DayType    string `json:"dayType"`
	Room       string `json:"room,omitempty"`
}

// Key identifies the segment in the sample cache.
func (s Segment) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", s.PeriodType, s.HourBucket, s.DayType, s.Room)
}

func (s Segment) filter(minMinutes, maxMinutes float64) store.SessionFilter {
	f := store.SessionFilter{Room: s.Room, MinMinutes: minMinutes, MaxMinutes: maxMinutes}
	if s.PeriodType != All {
		f.PeriodType = model.PeriodType(s.PeriodType)
	}
	if s.DayType != All {
		f.DayType = model.DayType(s.DayType)
	}
	if s.HourBucket != All {
		f.StartHours = bucketHours[HourBucket(s.HourBucket)]
	}
	return f
}

// fallback relaxes one more dimension of the fully specific segment per level.
type fallback struct {
	weight float64
	relax  func(Segment) Segment
}

var fallbacks = []fallback{
	{1.0, func(s Segment) Segment { return s }},
	{0.85, func(s Segment) Segment { s.Room = ""; return s }},
	{0.7, func(s Segment) Segment { s.Room, s.HourBucket = "", All; return s }},
	{0.55, func(s Segment) Segment { s.Room, s.HourBucket, s.DayType = "", All, All; return s }},
	{0.4, func(s Segment) Segment { return Segment{PeriodType: All, HourBucket: All, DayType: All} }},
}
