package scheduling

import "fmt"

// DefaultSessionDuration is the lesson length in minutes when none is configured.
const DefaultSessionDuration = 30

var transitions = map[Status][]Status{
	StatusScheduled:   {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusRescheduled: {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress:  {StatusCompleted, StatusNoShow},
}

// CheckTransition validates a direct status update. Cancelled and no-show
// sessions come back only through RescheduleSession or AssignSlot.
func CheckTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func canReschedule(s Status) bool {
	switch s {
	case StatusScheduled, StatusRescheduled, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}
