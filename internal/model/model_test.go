package model

import "testing"

func TestCourseActiveSession(t *testing.T) {
	c := Course{Sessions: []Session{
		{SessionID: "s1", Active: false},
		{SessionID: "s2", Active: true},
	}}
	got := c.ActiveSession()
	if got == nil || got.SessionID != "s2" {
		t.Fatalf("ActiveSession = %+v", got)
	}
	if (Course{}).ActiveSession() != nil {
		t.Fatal("empty course must have no active session")
	}
}

func TestCourseFindSession(t *testing.T) {
	c := Course{Sessions: []Session{{SessionID: "s1"}, {SessionID: "s2"}}}
	if got := c.FindSession("s2"); got == nil || got.SessionID != "s2" {
		t.Fatalf("FindSession = %+v", got)
	}
	if c.FindSession("missing") != nil {
		t.Fatal("unknown id must return nil")
	}
}

func TestCourseCanModerate(t *testing.T) {
	c := Course{Admin: "lect-1", Moderators: []string{"lect-2"}}
	if !c.CanModerate("lect-1") || !c.CanModerate("lect-2") {
		t.Fatal("admin and moderator must both moderate")
	}
	if c.CanModerate("stud-1") {
		t.Fatal("outsider must not moderate")
	}
}

func TestSessionHasStudent(t *testing.T) {
	s := Session{Students: []string{"a", "b"}}
	if !s.HasStudent("a") || s.HasStudent("c") {
		t.Fatal("membership check wrong")
	}
}

func TestUserFullName(t *testing.T) {
	u := User{FirstName: "Ada", LastName: "Obi"}
	if got := u.FullName(); got != "Obi Ada" {
		t.Fatalf("FullName = %q", got)
	}
}
