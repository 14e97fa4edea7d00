// Package timeutil provides school-calendar helpers: the tenant's local
// zone, academic-year labels and graduation years.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultAcademicYearStart is the month a new academic year begins.
const DefaultAcademicYearStart = time.September

// LoadZone resolves an IANA zone name, falling back to UTC for "" or
// unknown names.
func LoadZone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Calendar interprets timestamps in a school's zone.
type Calendar struct {
	Location   *time.Location
	StartMonth time.Month
}

// NewCalendar returns a calendar for zone whose year begins in startMonth.
// A zero startMonth means September.
func NewCalendar(loc *time.Location, startMonth time.Month) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if startMonth < time.January || startMonth > time.December {
		startMonth = DefaultAcademicYearStart
	}
	return Calendar{Location: loc, StartMonth: startMonth}
}

// Local converts t into the school's zone.
func (c Calendar) Local(t time.Time) time.Time {
	return t.In(c.Location)
}

// AcademicYearStart returns the calendar year in which the academic year
// containing t began.
func (c Calendar) AcademicYearStart(t time.Time) int {
	local := c.Local(t)
	if local.Month() >= c.StartMonth {
		return local.Year()
	}
	return local.Year() - 1
}

// AcademicYear returns the "2025/2026" label for the year containing t.
func (c Calendar) AcademicYear(t time.Time) string {
	start := c.AcademicYearStart(t)
	return fmt.Sprintf("%d/%d", start, start+1)
}

// GraduationYear is the calendar year in which the academic year containing
// t ends.
func (c Calendar) GraduationYear(t time.Time) int {
	return c.AcademicYearStart(t) + 1
}

// ParseAcademicYear splits a "2025/2026" label into its start and end years.
func ParseAcademicYear(label string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(label), "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("timeutil: academic year %q is not in YYYY/YYYY form", label)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("timeutil: academic year %q: %w", label, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("timeutil: academic year %q: %w", label, err)
	}
	if end != start+1 {
		return 0, 0, fmt.Errorf("timeutil: academic year %q must span consecutive years", label)
	}
	return start, end, nil
}

// FormatDate formats t as YYYY-MM-DD in the school's zone.
func (c Calendar) FormatDate(t time.Time) string {
	return c.Local(t).Format("2006-01-02")
}
