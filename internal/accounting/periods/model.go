package periods

import (
	"fmt"
	"strings"
	"time"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// ParseStatus rejects values outside the period lifecycle.
func ParseStatus(raw string) (PeriodStatus, error) {
	switch s := PeriodStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case PeriodStatusOpen, PeriodStatusClosed:
		return s, nil
	default:
		return "", fmt.Errorf("periods: unknown status %q", raw)
	}
}

// CanTransition reports whether the status may move to next.
func (s PeriodStatus) CanTransition(next PeriodStatus) bool {
	switch s {
	case PeriodStatusOpen:
		return next == PeriodStatusClosed
	case PeriodStatusClosed:
		return next == PeriodStatusOpen
	default:
		return false
	}
}

// Period represents a fiscal period window. Dates are inclusive calendar days.
type Period struct {
	ID        int64        `json:"id"`
	CompanyID int64        `json:"company_id"`
	Name      string       `json:"name"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	Status    PeriodStatus `json:"status"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	ClosedBy  *int64       `json:"closed_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// IsOpen reports whether postings are accepted.
func (p Period) IsOpen() bool {
	return p.Status == PeriodStatusOpen
}

// Covers reports whether the date falls inside the window.
func (p Period) Covers(date time.Time) bool {
	d := Day(date)
	return !d.Before(Day(p.StartDate)) && !d.After(Day(p.EndDate))
}

// Overlaps reports whether two windows share at least one day.
func (p Period) Overlaps(start, end time.Time) bool {
	return !Day(end).Before(Day(p.StartDate)) && !Day(start).After(Day(p.EndDate))
}

// FiscalYear is the calendar year of the period start.
func (p Period) FiscalYear() int {
	return p.StartDate.Year()
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
