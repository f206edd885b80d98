// Package store persists courses, users and the attendance audit feed.
// Two backends implement the same contract: Postgres for deployments and an
// in-memory store for development and tests. Both guarantee that student-set
// mutations are atomic conditional inserts, never whole-document overwrites.
package store

import (
	"context"
	"errors"

	"campusicon/internal/model"
)

var (
	// ErrNotFound means the requested document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCodeTaken means another active session already uses the code.
	// Callers regenerate and retry.
	ErrCodeTaken = errors.New("session code already in use")
	// ErrActiveSession means the course already holds a live session.
	ErrActiveSession = errors.New("course already has an active session")
	// ErrSessionInactive means the session had ended by commit time.
	ErrSessionInactive = errors.New("session is not active")
)

// Match pairs a located session with its owning course.
type Match struct {
	Course  model.Course
	Session model.Session
}

// Store is the document-store contract consumed by the services.
type Store interface {
	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, uid string) (model.User, error)
	// AddUserCourse extends the user's course list, atomic set-add.
	AddUserCourse(ctx context.Context, uid, courseID string) error

	CreateCourse(ctx context.Context, c model.Course) error
	GetCourse(ctx context.Context, courseID string) (model.Course, error)
	// ListCoursesFor returns every course on the user's course list.
	ListCoursesFor(ctx context.Context, uid string) ([]model.Course, error)
	// AddCourseStudent extends the course's registered-student set, atomic.
	AddCourseStudent(ctx context.Context, courseID, studentID string) error

	// AppendSession adds a session to the course. Fails with ErrCodeTaken
	// when the code collides with any currently active session, across all
	// courses; active codes are globally unique. Fails with ErrActiveSession
	// when the course already holds a live session; the at-most-one-active
	// invariant is enforced here, inside the commit, not by callers.
	AppendSession(ctx context.Context, courseID string, s model.Session) error
	// EndSession flips the session inactive. One-way and idempotent.
	EndSession(ctx context.Context, courseID, sessionID string) error
	// FindActiveSessionsByCode is an indexed lookup, not a course scan.
	// More than one match is possible only if code uniqueness was bypassed;
	// callers must treat that as ambiguous.
	FindActiveSessionsByCode(ctx context.Context, code string) ([]Match, error)
	// AddSessionStudent records attendance. It re-checks `active` at commit
	// time and returns alreadyPresent=true on repeat check-ins instead of
	// erroring. Returns ErrSessionInactive when the session has ended.
	AddSessionStudent(ctx context.Context, courseID, sessionID, studentID string) (alreadyPresent bool, err error)

	InsertEvent(ctx context.Context, evt model.CheckinEvent) error
	ListEvents(ctx context.Context, courseID string, limit, offset int) ([]model.CheckinEvent, error)
}
