package scheduling

import "fmt"

// OperatingHours is the daily window during which lessons may start.
type OperatingHours struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// IsSet reports whether any hours were configured. An unset window means
// the branch does not restrict start times.
func (h OperatingHours) IsSet() bool { return h.Start != 0 || h.End != 0 }

// BranchConfig is the calendar a branch schedules against. WorkingDays holds
// weekday indices, 0 = Sunday through 6 = Saturday.
type BranchConfig struct {
	BranchID       uint           `json:"branch_id"`
	WorkingDays    []int          `json:"working_days"`
	OperatingHours OperatingHours `json:"operating_hours"`
}

// Validate checks weekday indices and the hour window.
func (c BranchConfig) Validate() error {
	if err := ValidateWorkingDays(c.WorkingDays); err != nil {
		return err
	}
	if c.OperatingHours.IsSet() && c.OperatingHours.End < c.OperatingHours.Start {
		return fmt.Errorf("%w: operating hours end %s is before start %s",
			ErrValidation, c.OperatingHours.End, c.OperatingHours.Start)
	}
	return nil
}

// ValidateWorkingDays requires a non-empty set of weekday indices in 0..6.
func ValidateWorkingDays(days []int) error {
	if len(days) == 0 {
		return fmt.Errorf("%w: at least one working day is required", ErrValidation)
	}
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: working day %d out of range 0-6", ErrValidation, d)
		}
	}
	return nil
}

// IsWorkingDay reports whether date falls on one of the given weekdays.
func IsWorkingDay(date Date, workingDays []int) bool {
	wd := int(date.Weekday())
	for _, d := range workingDays {
		if d == wd {
			return true
		}
	}
	return false
}

// IsWithinOperatingHours is inclusive of the opening time and exclusive of
// the closing time.
func IsWithinOperatingHours(t TimeOfDay, hours OperatingHours) bool {
	return t >= hours.Start && t < hours.End
}

// IsDateInRange reports whether min <= date <= max. A zero bound is open.
func IsDateInRange(date, min, max Date) bool {
	if !min.IsZero() && date.Before(min) {
		return false
	}
	if !max.IsZero() && date.After(max) {
		return false
	}
	return true
}

// DateFilter reports whether a date must not be offered.
type DateFilter func(Date) bool

// DisallowedDates combines the range bound, the working days and any extra
// exclusions (holidays, blackout days). A date is disallowed if any of them
// excludes it.
func DisallowedDates(min, max Date, workingDays []int, extra ...DateFilter) DateFilter {
	return func(d Date) bool {
		if !IsDateInRange(d, min, max) {
			return true
		}
		if !IsWorkingDay(d, workingDays) {
			return true
		}
		for _, f := range extra {
			if f != nil && f(d) {
				return true
			}
		}
		return false
	}
}
