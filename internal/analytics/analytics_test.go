package analytics

import (
	"reflect"
	"testing"

	"campusicon/internal/model"
)

func courseWith(attendance ...[]string) model.Course {
	c := model.Course{CourseID: "c1"}
	for i, students := range attendance {
		c.Sessions = append(c.Sessions, model.Session{
			SessionID: string(rune('a' + i)),
			Students:  students,
		})
	}
	return c
}

func TestSummarizeEmptyCourse(t *testing.T) {
	got := Summarize(model.Course{}, "s1")
	want := model.AttendanceSummary{}
	if got != want {
		t.Fatalf("Summarize on empty course = %+v, want all zeros", got)
	}
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		name     string
		course   model.Course
		student  string
		attended int
		total    int
		pct      float64
	}{
		{
			name:     "two of five",
			course:   courseWith([]string{"s1"}, nil, []string{"s1", "s2"}, []string{"s2"}, nil),
			student:  "s1",
			attended: 2, total: 5, pct: 40.0,
		},
		{
			name:     "one of three rounds to a decimal",
			course:   courseWith([]string{"s1"}, nil, nil),
			student:  "s1",
			attended: 1, total: 3, pct: 33.3,
		},
		{
			name:     "two of three",
			course:   courseWith([]string{"s1"}, []string{"s1"}, nil),
			student:  "s1",
			attended: 2, total: 3, pct: 66.7,
		},
		{
			name:     "never attended",
			course:   courseWith([]string{"s2"}, []string{"s2"}),
			student:  "s1",
			attended: 0, total: 2, pct: 0,
		},
		{
			name:     "perfect attendance",
			course:   courseWith([]string{"s1"}, []string{"s1"}),
			student:  "s1",
			attended: 2, total: 2, pct: 100,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Summarize(tc.course, tc.student)
			want := model.AttendanceSummary{
				TotalClasses:       tc.total,
				TotalAttended:      tc.attended,
				TotalAbsent:        tc.total - tc.attended,
				PercentageAttended: tc.pct,
			}
			if got != want {
				t.Fatalf("Summarize = %+v, want %+v", got, want)
			}
		})
	}
}

func TestSummarizeCountsActiveSessions(t *testing.T) {
	// A live session already counts toward the denominator.
	c := courseWith([]string{"s1"}, nil)
	c.Sessions[1].Active = true
	got := Summarize(c, "s1")
	if got.TotalClasses != 2 || got.PercentageAttended != 50.0 {
		t.Fatalf("live session must count: %+v", got)
	}
}

func TestPresenceSeries(t *testing.T) {
	c := courseWith([]string{"s1"}, nil, []string{"s1", "s2"}, []string{"s2"})
	got := PresenceSeries(c, "s1")
	want := []int{1, 0, 1, 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PresenceSeries = %v, want %v", got, want)
	}
	if len(PresenceSeries(model.Course{}, "s1")) != 0 {
		t.Fatal("empty course must yield an empty series")
	}
}
