package scheduling

// IsSlotAvailable reports whether vehicleID is free at (date, startTime).
// The date has to be a working day of the branch and no other non-cancelled
// session may hold the same vehicle, date and start time.
func IsSlotAvailable(vehicleID uint, date Date, startTime TimeOfDay, existing []Session, cfg BranchConfig) bool {
	if !IsWorkingDay(date, cfg.WorkingDays) {
		return false
	}
	return !slotTaken(vehicleID, date, startTime, existing)
}

func slotTaken(vehicleID uint, date Date, startTime TimeOfDay, existing []Session) bool {
	for _, s := range existing {
		if s.VehicleID == vehicleID && s.SessionDate == date && s.StartTime == startTime && s.Status.Occupies() {
			return true
		}
	}
	return false
}

type slotKey struct {
	vehicleID uint
	date      Date
	start     TimeOfDay
}

// slotIndex is a set of occupied vehicle slots for repeated lookups.
type slotIndex map[slotKey]struct{}

func newSlotIndex(sessions []Session) slotIndex {
	idx := make(slotIndex, len(sessions))
	for _, s := range sessions {
		idx.add(s)
	}
	return idx
}

func (idx slotIndex) add(s Session) {
	if s.Status.Occupies() {
		idx[slotKey{s.VehicleID, s.SessionDate, s.StartTime}] = struct{}{}
	}
}

func (idx slotIndex) taken(vehicleID uint, date Date, start TimeOfDay) bool {
	_, ok := idx[slotKey{vehicleID, date, start}]
	return ok
}
