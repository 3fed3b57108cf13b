package scheduling

import (
	"encoding/json"
	"testing"
)

func TestFindNextAvailableSlot(t *testing.T) {
	cfg := BranchConfig{WorkingDays: weekdays}
	friday := mustDate(t, "2025-01-03")
	existing := []Session{
		{VehicleID: 4, SessionDate: mustDate(t, "2025-01-06"), StartTime: Clock(9, 0), Status: StatusScheduled},
	}

	got, ok := FindNextAvailableSlot(friday, 4, Clock(9, 0), existing, cfg)
	if !ok {
		t.Fatalf("expected a slot")
	}
	if got.String() != "2025-01-07" {
		t.Fatalf("expected 2025-01-07, got %s", got)
	}

	got, ok = FindNextAvailableSlot(friday, 4, Clock(10, 0), existing, cfg)
	if !ok || got.String() != "2025-01-06" {
		t.Fatalf("different time should be free on monday, got %s %v", got, ok)
	}
}

func TestFindNextAvailableSlotFullyBooked(t *testing.T) {
	cfg := BranchConfig{WorkingDays: weekdays}
	anchor := mustDate(t, "2025-01-03")
	var existing []Session
	for i := 1; i <= RescheduleSearchDays; i++ {
		existing = append(existing, Session{
			VehicleID:   4,
			SessionDate: anchor.AddDays(i),
			StartTime:   Clock(9, 0),
			Status:      StatusScheduled,
		})
	}

	if got, ok := FindNextAvailableSlot(anchor, 4, Clock(9, 0), existing, cfg); ok {
		t.Fatalf("expected no slot, got %s", got)
	}
}

func TestPlanWorkingDaysChangeStacksAfterAnchor(t *testing.T) {
	future := []Session{
		{ID: 1, SessionDate: mustDate(t, "2025-01-02"), Status: StatusScheduled},    // thu
		{ID: 2, SessionDate: mustDate(t, "2025-01-04"), Status: StatusScheduled},    // sat
		{ID: 3, SessionDate: mustDate(t, "2025-01-05"), Status: StatusScheduled},    // sun
		{ID: 4, SessionDate: mustDate(t, "2025-01-06"), Status: StatusScheduled},    // mon
		{ID: 5, SessionDate: mustDate(t, "2025-01-08"), Status: StatusRescheduled},  // wed, holds a date
		{ID: 6, SessionDate: mustDate(t, "2025-01-11"), Status: StatusCancelled},    // sat, ignored
	}

	moves := PlanWorkingDaysChange(future, weekdays)
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(moves))
	}
	if moves[0].Session.ID != 2 || moves[0].To.String() != "2025-01-09" {
		t.Fatalf("first move: %+v", moves[0])
	}
	if moves[1].Session.ID != 3 || moves[1].To.String() != "2025-01-10" {
		t.Fatalf("second move: %+v", moves[1])
	}
}

func TestPlanWorkingDaysChangeNoMoves(t *testing.T) {
	future := []Session{{ID: 1, SessionDate: mustDate(t, "2025-01-06"), Status: StatusScheduled}}
	if moves := PlanWorkingDaysChange(future, weekdays); len(moves) != 0 {
		t.Fatalf("expected no moves, got %+v", moves)
	}
	if moves := PlanWorkingDaysChange(nil, weekdays); moves != nil {
		t.Fatalf("expected nil for no sessions")
	}
}

func TestNextFreeWorkingDayFallbackSkipsUsedDates(t *testing.T) {
	anchor := mustDate(t, "2025-01-01") // wed
	mondays := []int{1}
	used := map[Date]struct{}{}
	for _, s := range []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27", "2025-02-03"} {
		used[mustDate(t, s)] = struct{}{}
	}

	got := nextFreeWorkingDay(anchor, mondays, used)
	if got.String() != "2025-02-10" {
		t.Fatalf("expected fallback to skip used 2025-02-03, got %s", got)
	}
}

func TestRescheduleResultSummary(t *testing.T) {
	tests := []struct {
		result RescheduleResult
		want   string
	}{
		{RescheduleResult{UpdatedCount: 12}, "12 sessions rescheduled"},
		{RescheduleResult{UpdatedCount: 1}, "1 session rescheduled"},
		{RescheduleResult{UpdatedCount: 0}, "0 sessions rescheduled"},
		{RescheduleResult{UpdatedCount: 2, Failures: []RescheduleFailure{{SessionID: 9}}}, "2 sessions rescheduled, 1 failed"},
	}
	for _, tc := range tests {
		if got := tc.result.Summary(); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestRescheduleResultJSON(t *testing.T) {
	raw, err := json.Marshal(RescheduleResult{UpdatedCount: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"updated_count":3,"failures":[],"summary":"3 sessions rescheduled"}`
	if string(raw) != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
}
