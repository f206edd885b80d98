// Package analytics derives attendance figures from a course's session list.
// Everything here is recomputed on read; nothing is cached or stored, so
// there is no invalidation to get wrong.
package analytics

import (
	"math"

	"campusicon/internal/model"
)

// Summarize computes per-student attendance over every session of the course.
// A session counts toward the denominator from the moment it is created,
// active or not. The percentage is rounded to one decimal and defined as 0
// for a course with no sessions.
func Summarize(c model.Course, studentID string) model.AttendanceSummary {
	total := len(c.Sessions)
	attended := 0
	for _, s := range c.Sessions {
		if s.HasStudent(studentID) {
			attended++
		}
	}
	pct := 0.0
	if total > 0 {
		pct = math.Round(float64(attended)/float64(total)*1000) / 10
	}
	return model.AttendanceSummary{
		TotalClasses:       total,
		TotalAttended:      attended,
		TotalAbsent:        total - attended,
		PercentageAttended: pct,
	}
}

// PresenceSeries returns the 1/0 present flags in session order, the series
// behind per-student trend charts.
func PresenceSeries(c model.Course, studentID string) []int {
	out := make([]int, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.HasStudent(studentID) {
			out[i] = 1
		}
	}
	return out
}
