// Package export renders a course's attendance history as an xlsx workbook,
// the printable sheet lecturers hand around.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"campusicon/internal/model"
)

// Workbook builds one sheet for the course: a row per registered student and
// a column per session, marked Present/Absent. names maps student uid to a
// display name; uids without an entry fall back to the raw uid.
func Workbook(c model.Course, names map[string]string) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := sheetName(c.CourseCode)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := []string{"Student"}
	for _, s := range c.Sessions {
		header = append(header, s.DateCreated.Format("2006-01-02 15:04"))
	}
	for col, h := range header {
		cell := fmt.Sprintf("%s1", colName(col+1))
		if err := f.SetCellStr(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	end := colName(len(header)) + "1"
	_ = f.SetCellStyle(sheet, "A1", end, bold)
	_ = f.AutoFilter(sheet, "A1:"+end, nil)

	for r, uid := range c.RegisteredStudents {
		name := names[uid]
		if name == "" {
			name = uid
		}
		if err := f.SetCellStr(sheet, fmt.Sprintf("A%d", r+2), name); err != nil {
			return nil, err
		}
		for col, s := range c.Sessions {
			mark := "Absent"
			if s.HasStudent(uid) {
				mark = "Present"
			}
			cell := fmt.Sprintf("%s%d", colName(col+2), r+2)
			if err := f.SetCellStr(sheet, cell, mark); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 28)
	if len(c.Sessions) > 0 {
		_ = f.SetColWidth(sheet, "B", colName(len(header)), 18)
	}
	return f, nil
}

// Write renders the workbook to w.
func Write(f *excelize.File, w io.Writer) error {
	_, err := f.WriteTo(w)
	return err
}

// sheetName keeps excel happy: strip forbidden characters, cap at 31 runes.
func sheetName(code string) string {
	repl := strings.NewReplacer(":", "", "\\", "", "/", "", "?", "", "*", "", "[", "", "]", "")
	name := strings.TrimSpace(repl.Replace(code))
	if name == "" {
		name = "Attendance"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func colName(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}
