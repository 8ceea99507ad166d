package model

import "time"

// Stream binds one course to a cohort of students with its own price and schedule.
type Stream struct {
	ID              string
	CourseID        string
	CreatorID       string
	CreatorName     string // read-only, joined from creators
	Title           string
	Price           int64 // minor currency units; 0 = free
	InviteToken     string
	ScheduleEnabled bool
	NotifyOnRelease bool
	CreatedAt       time.Time
}

func (s *Stream) IsFree() bool { return s.Price == 0 }

// LessonRef is the slice of course structure the schedule needs. Lessons are
// authored elsewhere; here they are only read.
type LessonRef struct {
	ID            string
	CourseID      string
	BlockID       string
	BlockPosition int
	Position      int
	Title         string
}

// StreamView is what a student sees about a stream before content is unlocked.
type StreamView struct {
	StreamID       string
	Title          string
	Price          int64
	CreatorName    string
	CanViewContent bool
}
