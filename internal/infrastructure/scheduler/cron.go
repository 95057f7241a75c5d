package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSpec is the subset of cron the maintenance jobs need: a fixed minute and
// hour, optionally restricted to one day of the month.
type CronSpec struct {
	Minute     int
	Hour       int
	DayOfMonth int // 0 means every day
}

// ParseCronSpec parses "minute hour day-of-month * *". Minute and hour must be
// numbers, day-of-month is a number or "*". Month and weekday must be "*".
func ParseCronSpec(expr string) (CronSpec, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return CronSpec{}, fmt.Errorf("%w: %q needs 5 fields", ErrInvalidCronExpression, expr)
	}
	if parts[3] != "*" || parts[4] != "*" {
		return CronSpec{}, fmt.Errorf("%w: %q month and weekday must be *", ErrInvalidCronExpression, expr)
	}

	minute, err := parseField(parts[0], 0, 59)
	if err != nil {
		return CronSpec{}, fmt.Errorf("%w: minute: %v", ErrInvalidCronExpression, err)
	}
	hour, err := parseField(parts[1], 0, 23)
	if err != nil {
		return CronSpec{}, fmt.Errorf("%w: hour: %v", ErrInvalidCronExpression, err)
	}
	spec := CronSpec{Minute: minute, Hour: hour}
	if parts[2] != "*" {
		day, err := parseField(parts[2], 1, 28)
		if err != nil {
			return CronSpec{}, fmt.Errorf("%w: day of month: %v", ErrInvalidCronExpression, err)
		}
		spec.DayOfMonth = day
	}
	return spec, nil
}

func parseField(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("must be %d-%d, got %d", min, max, v)
	}
	return v, nil
}

// Matches reports whether t falls in the minute the schedule fires
func (c CronSpec) Matches(t time.Time) bool {
	if c.DayOfMonth != 0 && t.Day() != c.DayOfMonth {
		return false
	}
	return t.Hour() == c.Hour && t.Minute() == c.Minute
}

// Next returns the first firing instant strictly after t, in t's location
func (c CronSpec) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, t.Location())
	if c.DayOfMonth == 0 {
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
	next = time.Date(t.Year(), t.Month(), c.DayOfMonth, c.Hour, c.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}

// String renders the schedule back as a cron expression
func (c CronSpec) String() string {
	day := "*"
	if c.DayOfMonth != 0 {
		day = strconv.Itoa(c.DayOfMonth)
	}
	return fmt.Sprintf("%d %d %s * *", c.Minute, c.Hour, day)
}
