package checkin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campusicon/internal/auth"
	"campusicon/internal/checkin"
	"campusicon/internal/geo"
	"campusicon/internal/model"
	"campusicon/internal/store"
)

var anchor = geo.Point{Latitude: 6.5244, Longitude: 3.3792}

// nearAnchor is about 11m from the anchor, well inside the default radius.
var nearAnchor = geo.Point{Latitude: 6.5244, Longitude: 3.3793}

// farFromAnchor is about 1.3km out.
var farFromAnchor = geo.Point{Latitude: 6.5300, Longitude: 3.3900}

func seed(t *testing.T) (*store.Memory, model.Course, model.Session) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	lecturer := model.User{UID: "lect-1", Role: model.RoleLecturer, FirstName: "Ada", LastName: "Obi"}
	if err := st.CreateUser(ctx, lecturer); err != nil {
		t.Fatalf("seed lecturer: %v", err)
	}
	student := model.User{UID: "stud-1", Role: model.RoleStudent, FirstName: "Bola", LastName: "Ade"}
	if err := st.CreateUser(ctx, student); err != nil {
		t.Fatalf("seed student: %v", err)
	}

	c := model.Course{
		CourseID:    "course-1",
		CourseCode:  "CSC301",
		CourseName:  "Operating Systems",
		Description: "Processes and scheduling",
		Admin:       lecturer.UID,
		DateCreated: time.Now().UTC(),
	}
	if err := st.CreateCourse(ctx, c); err != nil {
		t.Fatalf("seed course: %v", err)
	}

	sess := model.Session{
		SessionID:   "sess-1",
		Code:        "abc123",
		Active:      true,
		Anchor:      anchor,
		ModeratorID: lecturer.UID,
		DateCreated: time.Now().UTC(),
	}
	if err := st.AppendSession(ctx, c.CourseID, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return st, c, sess
}

func freshFix(p geo.Point) geo.Fix {
	return geo.Fix{Point: p, CapturedAt: time.Now()}
}

func TestCheckInRecordsAttendance(t *testing.T) {
	st, c, sess := seed(t)
	svc := checkin.NewService(st, 100, 15*time.Second)
	ctx := context.Background()
	student := auth.Identity{UID: "stud-1", Role: model.RoleStudent}

	res, err := svc.CheckIn(ctx, student, "abc123", freshFix(nearAnchor))
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if res.AlreadyPresent {
		t.Fatal("first check-in must not report AlreadyPresent")
	}
	if res.CourseID != c.CourseID || res.SessionID != sess.SessionID {
		t.Fatalf("wrong target: %+v", res)
	}
	if res.DistanceM <= 0 || res.DistanceM > 100 {
		t.Fatalf("distance %f out of expected band", res.DistanceM)
	}

	got, err := st.GetCourse(ctx, c.CourseID)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	s := got.FindSession(sess.SessionID)
	if s == nil || !s.HasStudent("stud-1") {
		t.Fatal("student missing from the session set")
	}
	if len(got.RegisteredStudents) != 1 || got.RegisteredStudents[0] != "stud-1" {
		t.Fatalf("student not registered on the course: %v", got.RegisteredStudents)
	}
	u, err := st.GetUser(ctx, "stud-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if len(u.Courses) != 1 || u.Courses[0] != c.CourseID {
		t.Fatalf("course missing from the student's list: %v", u.Courses)
	}
}

func TestCheckInIsIdempotent(t *testing.T) {
	st, c, sess := seed(t)
	svc := checkin.NewService(st, 100, 15*time.Second)
	ctx := context.Background()
	student := auth.Identity{UID: "stud-1", Role: model.RoleStudent}

	first, err := svc.CheckIn(ctx, student, "abc123", freshFix(nearAnchor))
	if err != nil {
		t.Fatalf("first CheckIn: %v", err)
	}
	second, err := svc.CheckIn(ctx, student, "abc123", freshFix(nearAnchor))
	if err != nil {
		t.Fatalf("repeat CheckIn: %v", err)
	}
	if first.AlreadyPresent || !second.AlreadyPresent {
		t.Fatalf("AlreadyPresent flags wrong: first=%v second=%v", first.AlreadyPresent, second.AlreadyPresent)
	}

	got, _ := st.GetCourse(ctx, c.CourseID)
	s := got.FindSession(sess.SessionID)
	if len(s.Students) != 1 {
		t.Fatalf("repeat check-in duplicated the student: %v", s.Students)
	}
	if len(got.RegisteredStudents) != 1 {
		t.Fatalf("repeat check-in duplicated registration: %v", got.RegisteredStudents)
	}
}

func TestConcurrentCheckIns(t *testing.T) {
	st, c, sess := seed(t)
	ctx := context.Background()
	_ = st.CreateUser(ctx, model.User{UID: "stud-2", Role: model.RoleStudent})
	svc := checkin.NewService(st, 100, 15*time.Second)

	students := []string{"stud-1", "stud-2"}
	var wg sync.WaitGroup
	errs := make(chan error, len(students)*10)
	for i := 0; i < 10; i++ {
		for _, uid := range students {
			wg.Add(1)
			go func(uid string) {
				defer wg.Done()
				if _, err := svc.CheckIn(ctx, auth.Identity{UID: uid, Role: model.RoleStudent}, "abc123", freshFix(nearAnchor)); err != nil {
					errs <- err
				}
			}(uid)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent CheckIn: %v", err)
	}

	got, _ := st.GetCourse(ctx, c.CourseID)
	s := got.FindSession(sess.SessionID)
	if len(s.Students) != 2 {
		t.Fatalf("expected both students present, got %v", s.Students)
	}
}

func TestCheckInRejections(t *testing.T) {
	st, _, _ := seed(t)
	svc := checkin.NewService(st, 100, 15*time.Second)
	ctx := context.Background()
	student := auth.Identity{UID: "stud-1", Role: model.RoleStudent}

	t.Run("empty code", func(t *testing.T) {
		_, err := svc.CheckIn(ctx, student, "   ", freshFix(nearAnchor))
		if !errors.Is(err, checkin.ErrCodeRequired) {
			t.Fatalf("got %v, want ErrCodeRequired", err)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := svc.CheckIn(ctx, student, "zzzzzz", freshFix(nearAnchor))
		if !errors.Is(err, checkin.ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := svc.CheckIn(ctx, student, "abc123", freshFix(farFromAnchor))
		var oor *checkin.OutOfRangeError
		if !errors.As(err, &oor) {
			t.Fatalf("got %v, want OutOfRangeError", err)
		}
		if oor.ThresholdM != 100 {
			t.Fatalf("threshold %f, want 100", oor.ThresholdM)
		}
		if oor.DistanceM < 1300 || oor.DistanceM > 1400 {
			t.Fatalf("distance %f out of expected band", oor.DistanceM)
		}
	})

	t.Run("missing fix", func(t *testing.T) {
		_, err := svc.CheckIn(ctx, student, "abc123", geo.Fix{Point: nearAnchor})
		if !errors.Is(err, checkin.ErrLocationUnavailable) {
			t.Fatalf("got %v, want ErrLocationUnavailable", err)
		}
	})

	t.Run("stale fix", func(t *testing.T) {
		fix := geo.Fix{Point: nearAnchor, CapturedAt: time.Now().Add(-time.Minute)}
		_, err := svc.CheckIn(ctx, student, "abc123", fix)
		if !errors.Is(err, checkin.ErrLocationUnavailable) {
			t.Fatalf("got %v, want ErrLocationUnavailable", err)
		}
	})

	t.Run("invalid coordinates", func(t *testing.T) {
		fix := geo.Fix{Point: geo.Point{Latitude: 95, Longitude: 3.3}, CapturedAt: time.Now()}
		_, err := svc.CheckIn(ctx, student, "abc123", fix)
		if !errors.Is(err, geo.ErrInvalidLocation) {
			t.Fatalf("got %v, want ErrInvalidLocation", err)
		}
	})

	t.Run("nothing written on rejection", func(t *testing.T) {
		got, _ := st.GetCourse(ctx, "course-1")
		if s := got.FindSession("sess-1"); len(s.Students) != 0 {
			t.Fatalf("rejected check-ins must not write: %v", s.Students)
		}
	})
}

func TestCheckInEndedSession(t *testing.T) {
	st, c, sess := seed(t)
	svc := checkin.NewService(st, 100, 15*time.Second)
	ctx := context.Background()

	if err := st.EndSession(ctx, c.CourseID, sess.SessionID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	_, err := svc.CheckIn(ctx, auth.Identity{UID: "stud-1"}, "abc123", freshFix(nearAnchor))
	if !errors.Is(err, checkin.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound once the code is retired", err)
	}
}

// endedBetweenLocateAndCommit simulates the session going inactive after the
// code lookup succeeded but before the insert committed.
type endedBetweenLocateAndCommit struct {
	store.Store
}

func (s endedBetweenLocateAndCommit) AddSessionStudent(ctx context.Context, courseID, sessionID, studentID string) (bool, error) {
	return false, store.ErrSessionInactive
}

func TestCheckInLosesRaceWithEndSession(t *testing.T) {
	st, _, _ := seed(t)
	svc := checkin.NewService(endedBetweenLocateAndCommit{Store: st}, 100, 15*time.Second)

	_, err := svc.CheckIn(context.Background(), auth.Identity{UID: "stud-1"}, "abc123", freshFix(nearAnchor))
	if !errors.Is(err, checkin.ErrSessionEnded) {
		t.Fatalf("got %v, want ErrSessionEnded", err)
	}
}

// duplicateCodes simulates a bypassed uniqueness index yielding two matches.
type duplicateCodes struct {
	store.Store
	matches []store.Match
}

func (s duplicateCodes) FindActiveSessionsByCode(ctx context.Context, code string) ([]store.Match, error) {
	return s.matches, nil
}

func TestLocateAmbiguousCode(t *testing.T) {
	st, c, sess := seed(t)
	fake := duplicateCodes{Store: st, matches: []store.Match{
		{Course: c, Session: sess},
		{Course: c, Session: model.Session{SessionID: "sess-2", Code: sess.Code, Active: true}},
	}}
	svc := checkin.NewService(fake, 100, 15*time.Second)

	_, err := svc.Locate(context.Background(), "abc123")
	if !errors.Is(err, checkin.ErrAmbiguousCode) {
		t.Fatalf("got %v, want ErrAmbiguousCode", err)
	}
	_, err = svc.CheckIn(context.Background(), auth.Identity{UID: "stud-1"}, "abc123", freshFix(nearAnchor))
	if !errors.Is(err, checkin.ErrAmbiguousCode) {
		t.Fatalf("got %v, want ErrAmbiguousCode", err)
	}
}

func TestLocateIsReadOnly(t *testing.T) {
	st, c, sess := seed(t)
	svc := checkin.NewService(st, 100, 15*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := svc.Locate(ctx, "abc123")
		if err != nil {
			t.Fatalf("Locate: %v", err)
		}
		if m.Course.CourseID != c.CourseID || m.Session.SessionID != sess.SessionID {
			t.Fatalf("wrong match: %+v", m)
		}
	}
	got, _ := st.GetCourse(ctx, c.CourseID)
	if s := got.FindSession(sess.SessionID); len(s.Students) != 0 {
		t.Fatal("Locate must not write")
	}
}

func TestEventCarriesResult(t *testing.T) {
	st, _, _ := seed(t)
	svc := checkin.NewService(st, 100, 15*time.Second)
	student := auth.Identity{UID: "stud-1", Role: model.RoleStudent}

	res, err := svc.CheckIn(context.Background(), student, "abc123", freshFix(nearAnchor))
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	evt := svc.Event(student, res)
	if evt.CourseID != res.CourseID || evt.SessionID != res.SessionID || evt.StudentID != student.UID {
		t.Fatalf("event does not match result: %+v", evt)
	}
	if evt.Status != "recorded" || !evt.RecordedAt.Equal(res.RecordedAt) {
		t.Fatalf("event metadata wrong: %+v", evt)
	}
}
