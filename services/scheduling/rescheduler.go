package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RescheduleSearchDays is how far ahead a replacement date is searched.
const RescheduleSearchDays = 30

// FindNextAvailableSlot walks forward from after (exclusive) for up to
// RescheduleSearchDays and returns the first working day on which the
// vehicle is free at slot. ok is false when nothing is free in that window.
func FindNextAvailableSlot(after Date, vehicleID uint, slot TimeOfDay, existing []Session, cfg BranchConfig) (date Date, ok bool) {
	idx := newSlotIndex(existing)
	for i := 1; i <= RescheduleSearchDays; i++ {
		d := after.AddDays(i)
		if IsWorkingDay(d, cfg.WorkingDays) && !idx.taken(vehicleID, d, slot) {
			return d, true
		}
	}
	return Date{}, false
}

// Move is one planned date change produced by PlanWorkingDaysChange.
type Move struct {
	Session Session `json:"session"`
	From    Date    `json:"from"`
	To      Date    `json:"to"`
}

// rescheduleFold is the accumulator carried across the sorted sessions.
type rescheduleFold struct {
	anchor Date
	used   map[Date]struct{}
	moves  []Move
}

// PlanWorkingDaysChange decides where every SCHEDULED session in future that
// falls on a day outside newWorkingDays should go. All of future (any status
// that holds a slot) seeds the used dates and the anchor; moved sessions are
// stacked after the anchor in their original order, each on a working day no
// other session uses. Nothing is written.
func PlanWorkingDaysChange(future []Session, newWorkingDays []int) []Move {
	if len(future) == 0 || len(newWorkingDays) == 0 {
		return nil
	}

	sorted := append([]Session(nil), future...)
	sortSessions(sorted)

	acc := rescheduleFold{used: make(map[Date]struct{}, len(sorted))}
	for _, s := range sorted {
		if !s.Status.Occupies() {
			continue
		}
		acc.used[s.SessionDate] = struct{}{}
		if s.SessionDate.After(acc.anchor) {
			acc.anchor = s.SessionDate
		}
	}

	for _, s := range sorted {
		if s.Status != StatusScheduled || IsWorkingDay(s.SessionDate, newWorkingDays) {
			continue
		}
		acc = acc.step(s, newWorkingDays)
	}
	return acc.moves
}

func (f rescheduleFold) step(s Session, workingDays []int) rescheduleFold {
	next := nextFreeWorkingDay(f.anchor, workingDays, f.used)
	f.used[next] = struct{}{}
	f.moves = append(f.moves, Move{Session: s, From: s.SessionDate, To: next})
	f.anchor = next
	return f
}

// nextFreeWorkingDay searches the window after anchor. When the window is
// exhausted it restarts from the earliest working weekday of the following
// week and keeps walking until an unused date turns up; with at least one
// working day and a finite used set this always ends.
func nextFreeWorkingDay(anchor Date, workingDays []int, used map[Date]struct{}) Date {
	for i := 1; i <= RescheduleSearchDays; i++ {
		d := anchor.AddDays(i)
		if _, taken := used[d]; !taken && IsWorkingDay(d, workingDays) {
			return d
		}
	}

	d := firstWorkingDayOfNextWeek(anchor.AddDays(RescheduleSearchDays), workingDays)
	for {
		if _, taken := used[d]; !taken && IsWorkingDay(d, workingDays) {
			return d
		}
		d = d.AddDays(1)
	}
}

func firstWorkingDayOfNextWeek(from Date, workingDays []int) Date {
	min := 7
	for _, wd := range workingDays {
		if wd < min {
			min = wd
		}
	}
	sunday := from.AddDays(7 - int(from.Weekday()))
	return sunday.AddDays(min)
}

// RescheduleFailure records one session that could not be moved.
type RescheduleFailure struct {
	SessionID uint   `json:"session_id"`
	From      Date   `json:"from"`
	To        Date   `json:"to"`
	Error     string `json:"error"`
}

// RescheduleResult is the outcome of a bulk reschedule. Failures do not undo
// the sessions that were moved.
type RescheduleResult struct {
	UpdatedCount int                 `json:"updated_count"`
	Failures     []RescheduleFailure `json:"failures"`
}

// Summary renders the result for staff, e.g. "12 sessions rescheduled".
func (r RescheduleResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s rescheduled", r.UpdatedCount, plural(r.UpdatedCount, "session", "sessions"))
	if n := len(r.Failures); n > 0 {
		fmt.Fprintf(&b, ", %d failed", n)
	}
	return b.String()
}

// MarshalJSON adds the rendered summary.
func (r RescheduleResult) MarshalJSON() ([]byte, error) {
	type plain RescheduleResult
	if r.Failures == nil {
		r.Failures = []RescheduleFailure{}
	}
	return json.Marshal(struct {
		plain
		Summary string `json:"summary"`
	}{plain(r), r.Summary()})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// today is the local calendar date of now.
func today(now time.Time) Date { return DateOf(now) }
