package store

import (
	"context"
	"sort"
	"sync"

	"campusicon/internal/model"
)

// Memory is a mutex-guarded in-memory store for dev and tests. It mirrors the
// Postgres backend's semantics, including the active-code index and the
// commit-time active re-check.
type Memory struct {
	mu          sync.Mutex
	users       map[string]*model.User
	courses     map[string]*model.Course
	activeCodes map[string]codeRef
	events      []model.CheckinEvent
}

type codeRef struct {
	courseID  string
	sessionID string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]*model.User),
		courses:     make(map[string]*model.Course),
		activeCodes: make(map[string]codeRef),
	}
}

func (m *Memory) CreateUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	cp.Courses = append([]string(nil), u.Courses...)
	m.users[u.UID] = &cp
	return nil
}

func (m *Memory) GetUser(ctx context.Context, uid string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return model.User{}, ErrNotFound
	}
	cp := *u
	cp.Courses = append([]string(nil), u.Courses...)
	return cp, nil
}

func (m *Memory) AddUserCourse(ctx context.Context, uid, courseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return ErrNotFound
	}
	for _, id := range u.Courses {
		if id == courseID {
			return nil
		}
	}
	u.Courses = append(u.Courses, courseID)
	return nil
}

func (m *Memory) CreateCourse(ctx context.Context, c model.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyCourse(c)
	m.courses[c.CourseID] = &cp
	for i := range cp.Sessions {
		if cp.Sessions[i].Active {
			m.activeCodes[cp.Sessions[i].Code] = codeRef{c.CourseID, cp.Sessions[i].SessionID}
		}
	}
	return nil
}

func (m *Memory) GetCourse(ctx context.Context, courseID string) (model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[courseID]
	if !ok {
		return model.Course{}, ErrNotFound
	}
	return copyCourse(*c), nil
}

func (m *Memory) ListCoursesFor(ctx context.Context, uid string) ([]model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	var out []model.Course
	for _, id := range u.Courses {
		if c, ok := m.courses[id]; ok {
			out = append(out, copyCourse(*c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateCreated.After(out[j].DateCreated) })
	return out, nil
}

func (m *Memory) AddCourseStudent(ctx context.Context, courseID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[courseID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range c.RegisteredStudents {
		if id == studentID {
			return nil
		}
	}
	c.RegisteredStudents = append(c.RegisteredStudents, studentID)
	return nil
}

func (m *Memory) AppendSession(ctx context.Context, courseID string, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[courseID]
	if !ok {
		return ErrNotFound
	}
	if s.Active {
		for i := range c.Sessions {
			if c.Sessions[i].Active {
				return ErrActiveSession
			}
		}
		if _, taken := m.activeCodes[s.Code]; taken {
			return ErrCodeTaken
		}
		m.activeCodes[s.Code] = codeRef{courseID, s.SessionID}
	}
	cp := s
	cp.Students = append([]string(nil), s.Students...)
	c.Sessions = append(c.Sessions, cp)
	return nil
}

func (m *Memory) EndSession(ctx context.Context, courseID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[courseID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Sessions {
		if c.Sessions[i].SessionID != sessionID {
			continue
		}
		if c.Sessions[i].Active {
			c.Sessions[i].Active = false
			delete(m.activeCodes, c.Sessions[i].Code)
		}
		return nil
	}
	return ErrNotFound
}

func (m *Memory) FindActiveSessionsByCode(ctx context.Context, code string) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.activeCodes[code]
	if !ok {
		return nil, nil
	}
	c, ok := m.courses[ref.courseID]
	if !ok {
		return nil, nil
	}
	for i := range c.Sessions {
		if c.Sessions[i].SessionID == ref.sessionID && c.Sessions[i].Active {
			return []Match{{Course: copyCourse(*c), Session: copySession(c.Sessions[i])}}, nil
		}
	}
	return nil, nil
}

func (m *Memory) AddSessionStudent(ctx context.Context, courseID, sessionID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[courseID]
	if !ok {
		return false, ErrNotFound
	}
	for i := range c.Sessions {
		if c.Sessions[i].SessionID != sessionID {
			continue
		}
		if !c.Sessions[i].Active {
			return false, ErrSessionInactive
		}
		for _, id := range c.Sessions[i].Students {
			if id == studentID {
				return true, nil
			}
		}
		c.Sessions[i].Students = append(c.Sessions[i].Students, studentID)
		return false, nil
	}
	return false, ErrNotFound
}

func (m *Memory) InsertEvent(ctx context.Context, evt model.CheckinEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt.ID != "" {
		for _, e := range m.events {
			if e.ID == evt.ID {
				return nil
			}
		}
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, courseID string, limit, offset int) ([]model.CheckinEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var filtered []model.CheckinEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if courseID == "" || m.events[i].CourseID == courseID {
			filtered = append(filtered, m.events[i])
		}
	}
	if offset >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[offset:]
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func copyCourse(c model.Course) model.Course {
	cp := c
	cp.Moderators = append([]string(nil), c.Moderators...)
	cp.RegisteredStudents = append([]string(nil), c.RegisteredStudents...)
	cp.Sessions = make([]model.Session, len(c.Sessions))
	for i := range c.Sessions {
		cp.Sessions[i] = copySession(c.Sessions[i])
	}
	return cp
}

func copySession(s model.Session) model.Session {
	cp := s
	cp.Students = append([]string(nil), s.Students...)
	return cp
}
