package utils

import (
	"fmt"
	"time"
)

// time.go - границы торгового дня
//
// Дневной лимит убытка сбрасывается в фиксированное время суток
// в часовом поясе биржи (по умолчанию 09:30 America/New_York).

// ClockTime время суток без даты
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime разбирает "HH:MM"
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: expected HH:MM", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// on момент c в день t (в поясе loc)
func (c ClockTime) on(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// NextOccurrence ближайший момент c строго после now
func NextOccurrence(now time.Time, c ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	next := c.on(now, loc)
	if !next.After(now) {
		next = c.on(now.In(loc).AddDate(0, 0, 1), loc)
	}
	return next
}

// LastOccurrence последний момент c не позже now
func LastOccurrence(now time.Time, c ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	last := c.on(now, loc)
	if last.After(now) {
		last = c.on(now.In(loc).AddDate(0, 0, -1), loc)
	}
	return last
}

// GetDayStartFrom начало дня t в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
