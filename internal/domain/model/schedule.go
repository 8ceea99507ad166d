package model

import (
	"sort"
	"time"

	"telegram-course-streams/internal/domain"
)

// ScheduleEntry is the release time of one lesson within one stream.
// IsOpened and NotificationSent only ever move from false to true.
type ScheduleEntry struct {
	ID               string
	StreamID         string
	LessonID         string
	ScheduledOpenAt  time.Time
	IsOpened         bool
	NotificationSent bool
	CreatedAt        time.Time
}

// ScheduleItem is one row of a schedule definition supplied by the creator.
type ScheduleItem struct {
	LessonID        string
	ScheduledOpenAt time.Time
}

// IsLessonOpen reports whether a lesson guarded by entry is visible at now.
// A nil entry means the lesson is not scheduled and therefore always open.
func IsLessonOpen(entry *ScheduleEntry, now time.Time) bool {
	if entry == nil {
		return true
	}
	return entry.IsOpened || !entry.ScheduledOpenAt.After(now)
}

// CanViewContent is the payment half of the access gate.
func CanViewContent(e *Enrollment, s *Stream) bool {
	if s == nil {
		return false
	}
	if s.IsFree() {
		return true
	}
	return e != nil && e.IsPaid()
}

// SortLessons orders lessons by block position, then lesson position. The sort is stable
// so lessons with equal keys keep their input order.
func SortLessons(lessons []LessonRef) {
	sort.SliceStable(lessons, func(i, j int) bool {
		if lessons[i].BlockPosition != lessons[j].BlockPosition {
			return lessons[i].BlockPosition < lessons[j].BlockPosition
		}
		return lessons[i].Position < lessons[j].Position
	})
}

// GenerateSchedule spaces lessons interval apart starting at start, in block then lesson order.
func GenerateSchedule(lessons []LessonRef, start time.Time, interval time.Duration) ([]ScheduleItem, error) {
	if start.IsZero() || interval < 0 {
		return nil, domain.ErrInvalidArgument
	}
	ordered := make([]LessonRef, len(lessons))
	copy(ordered, lessons)
	SortLessons(ordered)

	items := make([]ScheduleItem, 0, len(ordered))
	for i, l := range ordered {
		items = append(items, ScheduleItem{
			LessonID:        l.ID,
			ScheduledOpenAt: start.Add(time.Duration(i) * interval),
		})
	}
	return items, nil
}
