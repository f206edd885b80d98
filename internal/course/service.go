// Package course manages course and session lifecycle: registration, session
// opening and termination, enrollment, history and attendance reads.
package course

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusicon/internal/analytics"
	"campusicon/internal/auth"
	"campusicon/internal/geo"
	"campusicon/internal/model"
	"campusicon/internal/store"
)

var (
	// ErrNotAuthorized means the caller is neither admin nor moderator of
	// the course.
	ErrNotAuthorized = errors.New("not a moderator of this course")
	// ErrSessionActive means the course already has a live session.
	ErrSessionActive = errors.New("course already has an active session")
	// ErrFieldsRequired means a required field was empty.
	ErrFieldsRequired = errors.New("all fields are required")
	// ErrCodeExhausted means code generation kept colliding; practically
	// unreachable with a 6-char hex code unless the code space is saturated.
	ErrCodeExhausted = errors.New("could not allocate a unique session code")
)

// codeRetries bounds the regenerate-on-collision loop at session creation.
const codeRetries = 5

// Service owns course and session lifecycle operations.
type Service struct {
	store   store.Store
	codeLen int
	now     func() time.Time
}

// NewService creates a course service. codeLen is the admission code length.
func NewService(st store.Store, codeLen int) *Service {
	if codeLen < 4 {
		codeLen = 6
	}
	return &Service{store: st, codeLen: codeLen, now: time.Now}
}

// CreateCourse registers a new course owned by the lecturer and extends the
// lecturer's own course list.
func (s *Service) CreateCourse(ctx context.Context, lecturer auth.Identity, courseCode, courseName, description string) (model.Course, error) {
	courseCode = strings.TrimSpace(courseCode)
	courseName = strings.TrimSpace(courseName)
	description = strings.TrimSpace(description)
	if courseCode == "" || courseName == "" || description == "" {
		return model.Course{}, ErrFieldsRequired
	}

	c := model.Course{
		CourseID:    uuid.NewString(),
		CourseCode:  courseCode,
		CourseName:  courseName,
		Description: description,
		Admin:       lecturer.UID,
		DateCreated: s.now().UTC(),
	}
	if err := s.store.CreateCourse(ctx, c); err != nil {
		return model.Course{}, fmt.Errorf("create course: %w", err)
	}
	if err := s.store.AddUserCourse(ctx, lecturer.UID, c.CourseID); err != nil {
		return model.Course{}, fmt.Errorf("extend lecturer course list: %w", err)
	}
	return c, nil
}

// CreateSession opens an attendance window for the course. Only the admin or
// a moderator may open one, a course holds at most one live session, and the
// anchor location must be usable before anything is written. Codes are
// regenerated on collision so they stay globally unique while active. The
// single-active invariant is enforced by the store at commit time; the
// ActiveSession read here only short-circuits the common case, so two
// concurrent opens cannot both land.
func (s *Service) CreateSession(ctx context.Context, lecturer auth.Identity, courseID string, anchor geo.Point) (model.Session, error) {
	if !anchor.Valid() {
		return model.Session{}, geo.ErrInvalidLocation
	}
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return model.Session{}, fmt.Errorf("load course: %w", err)
	}
	if !c.CanModerate(lecturer.UID) {
		return model.Session{}, ErrNotAuthorized
	}
	if c.ActiveSession() != nil {
		return model.Session{}, ErrSessionActive
	}

	for i := 0; i < codeRetries; i++ {
		sess := model.Session{
			SessionID:   uuid.NewString(),
			Code:        newCode(s.codeLen),
			Active:      true,
			Anchor:      anchor,
			ModeratorID: lecturer.UID,
			DateCreated: s.now().UTC(),
		}
		err := s.store.AppendSession(ctx, courseID, sess)
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		if errors.Is(err, store.ErrActiveSession) {
			return model.Session{}, ErrSessionActive
		}
		if err != nil {
			return model.Session{}, fmt.Errorf("open session: %w", err)
		}
		return sess, nil
	}
	return model.Session{}, ErrCodeExhausted
}

// EndSession flips the session inactive. Terminal and idempotent: ending an
// already-ended session is a no-op, and nothing can reactivate it.
func (s *Service) EndSession(ctx context.Context, lecturer auth.Identity, courseID, sessionID string) error {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("load course: %w", err)
	}
	if !c.CanModerate(lecturer.UID) {
		return ErrNotAuthorized
	}
	if c.FindSession(sessionID) == nil {
		return store.ErrNotFound
	}
	if err := s.store.EndSession(ctx, courseID, sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Course returns one course with its full session history.
func (s *Service) Course(ctx context.Context, courseID string) (model.Course, error) {
	return s.store.GetCourse(ctx, courseID)
}

// ModeratedCourse returns the course only to its admin or a moderator; the
// gate for reads that expose the whole roster, like the attendance export.
func (s *Service) ModeratedCourse(ctx context.Context, lecturer auth.Identity, courseID string) (model.Course, error) {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return model.Course{}, err
	}
	if !c.CanModerate(lecturer.UID) {
		return model.Course{}, ErrNotAuthorized
	}
	return c, nil
}

// CoursesFor lists the caller's courses, newest first.
func (s *Service) CoursesFor(ctx context.Context, id auth.Identity) ([]model.Course, error) {
	return s.store.ListCoursesFor(ctx, id.UID)
}

// Attendance derives the summary and presence series for one student in one
// course. Always recomputed from the session list just read, so it can never
// disagree with a committed check-in.
func (s *Service) Attendance(ctx context.Context, courseID, studentID string) (model.AttendanceSummary, []int, error) {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return model.AttendanceSummary{}, nil, err
	}
	return analytics.Summarize(c, studentID), analytics.PresenceSeries(c, studentID), nil
}

// History lists every session across the caller's courses, newest first.
// Present is filled for students, HeadCount for anyone.
func (s *Service) History(ctx context.Context, id auth.Identity) ([]model.HistoryEntry, error) {
	courses, err := s.store.ListCoursesFor(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	var out []model.HistoryEntry
	for _, c := range courses {
		for _, sess := range c.Sessions {
			out = append(out, model.HistoryEntry{
				CourseID:    c.CourseID,
				CourseCode:  c.CourseCode,
				CourseName:  c.CourseName,
				SessionID:   sess.SessionID,
				ModeratorID: sess.ModeratorID,
				DateCreated: sess.DateCreated,
				Present:     sess.HasStudent(id.UID),
				HeadCount:   len(sess.Students),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateCreated.After(out[j].DateCreated) })
	return out, nil
}

// newCode derives a short admission code from a UUID with dashes stripped.
func newCode(n int) string {
	code := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(code) {
		n = len(code)
	}
	return code[:n]
}
