package scheduling

import (
	"testing"
	"time"
)

var (
	weekdays = []int{1, 2, 3, 4, 5}
	allWeek  = []int{0, 1, 2, 3, 4, 5, 6}
)

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestIsWorkingDay(t *testing.T) {
	tests := []struct {
		name        string
		date        string
		workingDays []int
		want        bool
	}{
		{name: "monday on weekdays", date: "2025-01-06", workingDays: weekdays, want: true},
		{name: "saturday on weekdays", date: "2025-01-04", workingDays: weekdays, want: false},
		{name: "sunday on full week", date: "2025-01-05", workingDays: allWeek, want: true},
		{name: "empty working days", date: "2025-01-06", workingDays: nil, want: false},
		{name: "leap day", date: "2024-02-29", workingDays: []int{4}, want: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := IsWorkingDay(mustDate(t, tc.date), tc.workingDays); got != tc.want {
				t.Fatalf("IsWorkingDay(%s) = %v, want %v", tc.date, got, tc.want)
			}
		})
	}
}

func TestIsWorkingDayIgnoresLocation(t *testing.T) {
	// Sunday 23:30 at UTC-10 is already Monday in UTC.
	loc := time.FixedZone("UTC-10", -10*60*60)
	late := time.Date(2025, 1, 5, 23, 30, 0, 0, loc)
	d := DateOf(late)
	if d.Weekday() != time.Sunday {
		t.Fatalf("expected Sunday, got %s", d.Weekday())
	}
	if IsWorkingDay(d, weekdays) {
		t.Fatalf("Sunday should not be a weekday working day")
	}
}

func TestIsWithinOperatingHours(t *testing.T) {
	hours := OperatingHours{Start: Clock(8, 0), End: Clock(18, 0)}
	tests := []struct {
		at   TimeOfDay
		want bool
	}{
		{Clock(7, 59), false},
		{Clock(8, 0), true},
		{Clock(12, 30), true},
		{Clock(17, 59), true},
		{Clock(18, 0), false},
	}
	for _, tc := range tests {
		if got := IsWithinOperatingHours(tc.at, hours); got != tc.want {
			t.Fatalf("IsWithinOperatingHours(%s) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestIsDateInRange(t *testing.T) {
	min, max := mustDate(t, "2025-01-10"), mustDate(t, "2025-01-20")
	if !IsDateInRange(min, min, max) || !IsDateInRange(max, min, max) {
		t.Fatalf("bounds must be inclusive")
	}
	if IsDateInRange(min.AddDays(-1), min, max) || IsDateInRange(max.AddDays(1), min, max) {
		t.Fatalf("dates outside the range must be rejected")
	}
	if !IsDateInRange(mustDate(t, "1999-01-01"), Date{}, max) {
		t.Fatalf("zero min must be open")
	}
}

func TestDisallowedDates(t *testing.T) {
	holiday := mustDate(t, "2025-01-08")
	disallowed := DisallowedDates(mustDate(t, "2025-01-06"), mustDate(t, "2025-01-31"), weekdays,
		func(d Date) bool { return d == holiday })

	tests := []struct {
		date string
		want bool
	}{
		{"2025-01-03", true},  // before range
		{"2025-01-04", true},  // saturday
		{"2025-01-07", false}, // tuesday
		{"2025-01-08", true},  // holiday
		{"2025-02-03", true},  // after range
	}
	for _, tc := range tests {
		if got := disallowed(mustDate(t, tc.date)); got != tc.want {
			t.Fatalf("disallowed(%s) = %v, want %v", tc.date, got, tc.want)
		}
	}
}

func TestBranchConfigValidate(t *testing.T) {
	ok := BranchConfig{WorkingDays: weekdays, OperatingHours: OperatingHours{Start: Clock(8, 0), End: Clock(17, 0)}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closed := BranchConfig{WorkingDays: weekdays, OperatingHours: OperatingHours{Start: Clock(9, 0), End: Clock(9, 0)}}
	if err := closed.Validate(); err != nil {
		t.Fatalf("start == end: unexpected error: %v", err)
	}
	if IsWithinOperatingHours(Clock(9, 0), closed.OperatingHours) {
		t.Fatalf("an empty window must not admit its start time")
	}

	for name, cfg := range map[string]BranchConfig{
		"empty days":     {},
		"day out of rng": {WorkingDays: []int{7}},
		"inverted hours": {WorkingDays: weekdays, OperatingHours: OperatingHours{Start: Clock(17, 0), End: Clock(8, 0)}},
	} {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestIsSlotAvailable(t *testing.T) {
	cfg := BranchConfig{WorkingDays: weekdays}
	monday := mustDate(t, "2025-01-06")
	existing := []Session{
		{VehicleID: 1, SessionDate: monday, StartTime: Clock(10, 0), Status: StatusScheduled},
		{VehicleID: 1, SessionDate: monday, StartTime: Clock(11, 0), Status: StatusCancelled},
	}

	tests := []struct {
		name    string
		vehicle uint
		date    Date
		at      TimeOfDay
		want    bool
	}{
		{"taken slot", 1, monday, Clock(10, 0), false},
		{"cancelled frees the slot", 1, monday, Clock(11, 0), true},
		{"other vehicle", 2, monday, Clock(10, 0), true},
		{"other time", 1, monday, Clock(10, 30), true},
		{"weekend", 1, monday.AddDays(-1), Clock(9, 0), false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSlotAvailable(tc.vehicle, tc.date, tc.at, existing, cfg); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
