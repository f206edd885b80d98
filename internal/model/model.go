package model

import (
	"time"

	"campusicon/internal/geo"
)

// Role distinguishes the two account types.
type Role string

const (
	RoleLecturer Role = "lecturer"
	RoleStudent  Role = "student"
)

// User is a profile in the users collection, keyed by the auth provider uid.
type User struct {
	UID                 string    `json:"uid"`
	Role                Role      `json:"role"`
	FirstName           string    `json:"first_name"`
	LastName            string    `json:"last_name"`
	Email               string    `json:"email,omitempty"`
	MatriculationNumber string    `json:"matriculation_number,omitempty"`
	Courses             []string  `json:"courses"`
	CreatedAt           time.Time `json:"created_at"`
}

// FullName returns "Last First", the display order used on session records.
func (u User) FullName() string {
	return u.LastName + " " + u.FirstName
}

// Session is a time-bounded attendance window embedded in its owning course.
// Students holds the uids of everyone who checked in; it only ever grows.
type Session struct {
	SessionID   string    `json:"session_id"`
	Code        string    `json:"code"`
	Active      bool      `json:"active"`
	Anchor      geo.Point `json:"anchor"`
	ModeratorID string    `json:"moderator_id"`
	DateCreated time.Time `json:"date_created"`
	Students    []string  `json:"students"`
}

// HasStudent reports membership of uid in the session's check-in set.
func (s Session) HasStudent(uid string) bool {
	for _, id := range s.Students {
		if id == uid {
			return true
		}
	}
	return false
}

// Course owns its embedded session list. Sessions are appended over time and
// flipped inactive, never removed.
type Course struct {
	CourseID           string    `json:"course_id"`
	CourseCode         string    `json:"course_code"`
	CourseName         string    `json:"course_name"`
	Description        string    `json:"description"`
	Admin              string    `json:"admin"`
	Moderators         []string  `json:"moderators"`
	RegisteredStudents []string  `json:"registered_students"`
	Sessions           []Session `json:"sessions"`
	DateCreated        time.Time `json:"date_created"`
}

// ActiveSession returns the course's live session, or nil when none is open.
func (c Course) ActiveSession() *Session {
	for i := range c.Sessions {
		if c.Sessions[i].Active {
			return &c.Sessions[i]
		}
	}
	return nil
}

// FindSession returns the embedded session with the given id, or nil.
func (c Course) FindSession(sessionID string) *Session {
	for i := range c.Sessions {
		if c.Sessions[i].SessionID == sessionID {
			return &c.Sessions[i]
		}
	}
	return nil
}

// CanModerate reports whether uid is the course admin or a moderator.
func (c Course) CanModerate(uid string) bool {
	if uid == c.Admin {
		return true
	}
	for _, id := range c.Moderators {
		if id == uid {
			return true
		}
	}
	return false
}

// AttendanceSummary is derived per (course, student) pair on every read.
// Never persisted.
type AttendanceSummary struct {
	TotalClasses       int     `json:"total_classes"`
	TotalAttended      int     `json:"total_attended"`
	TotalAbsent        int     `json:"total_absent"`
	PercentageAttended float64 `json:"percentage_attended"`
}

// HistoryEntry is one session row in a user's history listing. Present is
// meaningful for students; HeadCount for lecturers.
type HistoryEntry struct {
	CourseID    string    `json:"course_id"`
	CourseCode  string    `json:"course_code"`
	CourseName  string    `json:"course_name"`
	SessionID   string    `json:"session_id"`
	ModeratorID string    `json:"moderator_id"`
	DateCreated time.Time `json:"date_created"`
	Present     bool      `json:"present"`
	HeadCount   int       `json:"head_count"`
}

// CheckinEvent is one row of the audit feed written by the worker. The course
// document remains the source of truth; this feed is supplementary.
type CheckinEvent struct {
	ID             string    `json:"id"`
	CourseID       string    `json:"course_id"`
	SessionID      string    `json:"session_id"`
	StudentID      string    `json:"student_id"`
	DistanceM      float64   `json:"distance_m"`
	AlreadyPresent bool      `json:"already_present"`
	Status         string    `json:"status"`
	RecordedAt     time.Time `json:"recorded_at"`
}
