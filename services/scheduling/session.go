package scheduling

import (
	"fmt"
	"sort"
	"strings"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusRescheduled Status = "RESCHEDULED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusNoShow      Status = "NO_SHOW"
	StatusCancelled   Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusScheduled, StatusRescheduled, StatusInProgress,
	StatusCompleted, StatusNoShow, StatusCancelled,
}

// ParseStatus accepts any case and returns the canonical status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range allStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown session status %q", ErrValidation, s)
}

// Occupies reports whether a session in this status holds its vehicle slot.
func (s Status) Occupies() bool { return s != StatusCancelled }

// Regenerable reports whether a session can be deleted and recreated when a
// client's plan changes.
func (s Status) Regenerable() bool { return s == StatusScheduled }

// Session is a single booked lesson on one vehicle.
type Session struct {
	ID                uint      `json:"id"`
	ClientID          uint      `json:"client_id"`
	VehicleID         uint      `json:"vehicle_id"`
	BranchID          uint      `json:"branch_id"`
	SessionDate       Date      `json:"session_date"`
	StartTime         TimeOfDay `json:"start_time"`
	EndTime           TimeOfDay `json:"end_time"`
	Status            Status    `json:"status"`
	SessionNumber     int       `json:"session_number"`
	OriginalSessionID *uint     `json:"original_session_id,omitempty"`
}

// EnrollmentPlan is what a client bought: a number of lessons on one vehicle
// at a fixed time of day, starting from a joining date.
type EnrollmentPlan struct {
	ClientID                 uint      `json:"client_id"`
	VehicleID                uint      `json:"vehicle_id"`
	BranchID                 uint      `json:"branch_id"`
	JoiningDate              Date      `json:"joining_date"`
	JoiningTime              TimeOfDay `json:"joining_time"`
	NumberOfSessions         int       `json:"number_of_sessions"`
	SessionDurationInMinutes int       `json:"session_duration_in_minutes"`
}

func (p EnrollmentPlan) validate() error {
	switch {
	case p.NumberOfSessions <= 0:
		return fmt.Errorf("%w: number of sessions must be positive", ErrValidation)
	case p.SessionDurationInMinutes <= 0:
		return fmt.Errorf("%w: session duration must be positive", ErrValidation)
	case p.JoiningDate.IsZero():
		return fmt.Errorf("%w: joining date is required", ErrValidation)
	case p.VehicleID == 0:
		return fmt.Errorf("%w: vehicle is required", ErrValidation)
	}
	return nil
}

// Actor identifies who triggered an engine operation.
type Actor struct {
	UserID   uint   `json:"user_id"`
	BranchID uint   `json:"branch_id"`
	Role     string `json:"role,omitempty"`
}

// sortSessions orders by date, start time, session number and id.
func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if c := a.SessionDate.Compare(b.SessionDate); c != 0 {
			return c < 0
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.SessionNumber != b.SessionNumber {
			return a.SessionNumber < b.SessionNumber
		}
		return a.ID < b.ID
	})
}
