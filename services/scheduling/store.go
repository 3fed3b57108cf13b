package scheduling

import "context"

// SessionFilter narrows ListSessions. Zero fields do not filter.
type SessionFilter struct {
	BranchID  uint
	VehicleID uint
	ClientID  uint
	FromDate  Date
	ToDate    Date
	Statuses  []Status
	IDs       []uint
}

// SessionPatch lists the fields UpdateSession may change. Nil fields are left alone.
type SessionPatch struct {
	SessionDate       *Date
	StartTime         *TimeOfDay
	EndTime           *TimeOfDay
	VehicleID         *uint
	Status            *Status
	OriginalSessionID *uint
}

// Store is the persistence gateway the engine runs on. UpdateSession returns
// an error wrapping ErrNotFound for an unknown id.
type Store interface {
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	InsertSessions(ctx context.Context, sessions []Session) ([]Session, error)
	UpdateSession(ctx context.Context, id uint, patch SessionPatch) (Session, error)
	DeleteSessions(ctx context.Context, ids []uint) error
	// Transaction runs fn against a Store bound to one transaction. Any error
	// from fn rolls every write back.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// Matches reports whether s passes the filter. Store implementations that
// filter in memory use it.
func (f SessionFilter) Matches(s Session) bool {
	if f.BranchID != 0 && s.BranchID != f.BranchID {
		return false
	}
	if f.VehicleID != 0 && s.VehicleID != f.VehicleID {
		return false
	}
	if f.ClientID != 0 && s.ClientID != f.ClientID {
		return false
	}
	if !IsDateInRange(s.SessionDate, f.FromDate, f.ToDate) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.Status) {
		return false
	}
	if len(f.IDs) > 0 && !containsID(f.IDs, s.ID) {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsID(list []uint, id uint) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
