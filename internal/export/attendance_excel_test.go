package export

import (
	"bytes"
	"testing"
	"time"

	"campusicon/internal/model"
)

func testCourse() model.Course {
	first := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	second := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	return model.Course{
		CourseID:           "c1",
		CourseCode:         "CSC301",
		CourseName:         "Operating Systems",
		RegisteredStudents: []string{"stud-1", "stud-2"},
		Sessions: []model.Session{
			{SessionID: "s1", DateCreated: first, Students: []string{"stud-1", "stud-2"}},
			{SessionID: "s2", DateCreated: second, Students: []string{"stud-2"}},
		},
	}
}

func TestWorkbook(t *testing.T) {
	names := map[string]string{"stud-1": "Ade Bola"}
	f, err := Workbook(testCourse(), names)
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}

	sheet := "CSC301"
	cell := func(ref string) string {
		v, err := f.GetCellValue(sheet, ref)
		if err != nil {
			t.Fatalf("GetCellValue(%s): %v", ref, err)
		}
		return v
	}

	if got := cell("A1"); got != "Student" {
		t.Fatalf("A1 = %q", got)
	}
	if got := cell("B1"); got != "2026-03-02 09:00" {
		t.Fatalf("B1 = %q", got)
	}
	if got := cell("C1"); got != "2026-03-09 09:00" {
		t.Fatalf("C1 = %q", got)
	}

	// Named student first, uid fallback for the second row.
	if got := cell("A2"); got != "Ade Bola" {
		t.Fatalf("A2 = %q", got)
	}
	if got := cell("A3"); got != "stud-2" {
		t.Fatalf("A3 = %q", got)
	}

	marks := map[string]string{"B2": "Present", "C2": "Absent", "B3": "Present", "C3": "Present"}
	for ref, want := range marks {
		if got := cell(ref); got != want {
			t.Fatalf("%s = %q, want %q", ref, got, want)
		}
	}
}

func TestWrite(t *testing.T) {
	f, err := Workbook(testCourse(), nil)
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}
	var buf bytes.Buffer
	if err := Write(f, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// xlsx files are zip archives.
	if buf.Len() < 4 || buf.Bytes()[0] != 'P' || buf.Bytes()[1] != 'K' {
		t.Fatalf("output does not look like an xlsx archive (%d bytes)", buf.Len())
	}
}

func TestSheetName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"CSC301", "CSC301"},
		{"MAT/101:Intro?", "MAT101Intro"},
		{"   ", "Attendance"},
		{"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
	}
	for _, tc := range cases {
		if got := sheetName(tc.in); got != tc.want {
			t.Fatalf("sheetName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestColName(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{1, "A"}, {2, "B"}, {26, "Z"}, {27, "AA"}, {28, "AB"}, {52, "AZ"}, {53, "BA"},
	}
	for _, tc := range cases {
		if got := colName(tc.n); got != tc.want {
			t.Fatalf("colName(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}
