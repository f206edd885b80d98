// Package checkin implements the attendance check-in verification procedure:
// locate the unique active session for a submitted code, validate proximity
// to the session anchor, and record presence exactly once.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusicon/internal/auth"
	"campusicon/internal/geo"
	"campusicon/internal/model"
	"campusicon/internal/store"
)

var (
	// ErrCodeRequired means the submitted code was empty after trimming.
	ErrCodeRequired = errors.New("attendance code required")
	// ErrNotFound means no active session matches the code.
	ErrNotFound = errors.New("no active session matches code")
	// ErrAmbiguousCode means the code matched more than one active session.
	// Creation-time code uniqueness should make this unreachable; it is kept
	// so a bypassed index never silently picks a session.
	ErrAmbiguousCode = errors.New("code matches more than one active session")
	// ErrLocationUnavailable means no usable live fix was provided: the
	// device denied access, timed out, or the fix is stale.
	ErrLocationUnavailable = errors.New("live location unavailable")
	// ErrSessionEnded means the session went inactive between locate and
	// commit.
	ErrSessionEnded = errors.New("session has ended")
)

// OutOfRangeError reports a valid fix that falls outside the admission radius.
type OutOfRangeError struct {
	DistanceM  float64
	ThresholdM float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %.0fm from the session location (limit %.0fm)", e.DistanceM, e.ThresholdM)
}

// Service verifies and records check-ins.
type Service struct {
	store      store.Store
	thresholdM float64
	maxFixAge  time.Duration
	now        func() time.Time
}

// NewService creates a check-in service. thresholdM is the proof-of-presence
// radius; maxFixAge rejects replayed or stale fixes.
func NewService(st store.Store, thresholdM float64, maxFixAge time.Duration) *Service {
	if thresholdM <= 0 {
		thresholdM = 100
	}
	if maxFixAge <= 0 {
		maxFixAge = 15 * time.Second
	}
	return &Service{store: st, thresholdM: thresholdM, maxFixAge: maxFixAge, now: time.Now}
}

// Result is a committed (or idempotently repeated) check-in.
type Result struct {
	CourseID       string    `json:"course_id"`
	CourseCode     string    `json:"course_code"`
	CourseName     string    `json:"course_name"`
	SessionID      string    `json:"session_id"`
	AlreadyPresent bool      `json:"already_present"`
	DistanceM      float64   `json:"distance_m"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Locate resolves a code to its unique active session. Read-only.
func (s *Service) Locate(ctx context.Context, code string) (store.Match, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return store.Match{}, ErrCodeRequired
	}
	matches, err := s.store.FindActiveSessionsByCode(ctx, code)
	if err != nil {
		return store.Match{}, fmt.Errorf("locate session: %w", err)
	}
	switch len(matches) {
	case 0:
		return store.Match{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return store.Match{}, ErrAmbiguousCode
	}
}

// CheckIn runs the full verification procedure for one student. The student
// set mutation is an atomic conditional insert in the store, so concurrent
// check-ins never drop each other, and retries are safe: a repeat reports
// AlreadyPresent instead of erroring.
func (s *Service) CheckIn(ctx context.Context, student auth.Identity, code string, fix geo.Fix) (Result, error) {
	if student.UID == "" {
		return Result{}, errors.New("student identity required")
	}

	if err := s.checkFreshness(fix); err != nil {
		return Result{}, err
	}
	if !fix.Valid() {
		return Result{}, geo.ErrInvalidLocation
	}

	match, err := s.Locate(ctx, code)
	if err != nil {
		return Result{}, err
	}

	ok, distance, err := geo.WithinRange(fix.Point, match.Session.Anchor, s.thresholdM)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, &OutOfRangeError{DistanceM: distance, ThresholdM: s.thresholdM}
	}

	already, err := s.store.AddSessionStudent(ctx, match.Course.CourseID, match.Session.SessionID, student.UID)
	if err != nil {
		if errors.Is(err, store.ErrSessionInactive) {
			return Result{}, ErrSessionEnded
		}
		return Result{}, fmt.Errorf("record attendance: %w", err)
	}

	// Enrollment by attendance: first contact with the course adds it to the
	// student's own course list so history and analytics surface it. Both
	// adds are idempotent set-unions, so a retry after a partial failure
	// converges.
	if err := s.store.AddCourseStudent(ctx, match.Course.CourseID, student.UID); err != nil {
		return Result{}, fmt.Errorf("register student on course: %w", err)
	}
	if err := s.store.AddUserCourse(ctx, student.UID, match.Course.CourseID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("extend student course list: %w", err)
	}

	return Result{
		CourseID:       match.Course.CourseID,
		CourseCode:     match.Course.CourseCode,
		CourseName:     match.Course.CourseName,
		SessionID:      match.Session.SessionID,
		AlreadyPresent: already,
		DistanceM:      distance,
		RecordedAt:     s.now().UTC(),
	}, nil
}

// Event builds the audit-feed record for a committed check-in.
func (s *Service) Event(student auth.Identity, res Result) model.CheckinEvent {
	return model.CheckinEvent{
		CourseID:       res.CourseID,
		SessionID:      res.SessionID,
		StudentID:      student.UID,
		DistanceM:      res.DistanceM,
		AlreadyPresent: res.AlreadyPresent,
		Status:         "recorded",
		RecordedAt:     res.RecordedAt,
	}
}

func (s *Service) checkFreshness(fix geo.Fix) error {
	if fix.CapturedAt.IsZero() {
		return ErrLocationUnavailable
	}
	if s.now().Sub(fix.CapturedAt) > s.maxFixAge {
		return ErrLocationUnavailable
	}
	return nil
}
