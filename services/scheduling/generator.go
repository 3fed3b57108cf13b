package scheduling

import "fmt"

// MaxGenerationDays bounds the generator walk so an empty or unusable set of
// working days still terminates.
const MaxGenerationDays = 365

// GenerateSessions lays out plan.NumberOfSessions lessons starting on the
// joining date, one per working day at the joining time. If the plan cannot
// be completed within MaxGenerationDays the sessions found so far are
// returned together with a *CapacityError.
func GenerateSessions(plan EnrollmentPlan, cfg BranchConfig) ([]Session, error) {
	return generate(plan, cfg, nil, nil)
}

// GenerateAround works like GenerateSessions but also skips dates where the
// plan's vehicle is already booked at the joining time.
func GenerateAround(plan EnrollmentPlan, cfg BranchConfig, existing []Session) ([]Session, error) {
	return generate(plan, cfg, newSlotIndex(existing), nil)
}

// generate walks the calendar from the joining date. Dates in skip and
// vehicle slots in taken are passed over like non-working days.
func generate(plan EnrollmentPlan, cfg BranchConfig, taken slotIndex, skip map[Date]struct{}) ([]Session, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}
	if cfg.OperatingHours.IsSet() && !IsWithinOperatingHours(plan.JoiningTime, cfg.OperatingHours) {
		return nil, fmt.Errorf("%w: joining time %s is outside operating hours %s-%s",
			ErrValidation, plan.JoiningTime, cfg.OperatingHours.Start, cfg.OperatingHours.End)
	}

	sessions := make([]Session, 0, plan.NumberOfSessions)
	end := plan.JoiningTime.Add(plan.SessionDurationInMinutes)

	for day := 0; len(sessions) < plan.NumberOfSessions; day++ {
		if day >= MaxGenerationDays {
			return sessions, &CapacityError{
				Requested: plan.NumberOfSessions,
				Generated: len(sessions),
				Reason: fmt.Sprintf("only %d of %d sessions fit within %d days of %s",
					len(sessions), plan.NumberOfSessions, MaxGenerationDays, plan.JoiningDate),
			}
		}

		date := plan.JoiningDate.AddDays(day)
		if !IsWorkingDay(date, cfg.WorkingDays) {
			continue
		}
		if taken != nil && taken.taken(plan.VehicleID, date, plan.JoiningTime) {
			continue
		}
		if _, skipped := skip[date]; skipped {
			continue
		}

		sessions = append(sessions, Session{
			ClientID:      plan.ClientID,
			VehicleID:     plan.VehicleID,
			BranchID:      plan.BranchID,
			SessionDate:   date,
			StartTime:     plan.JoiningTime,
			EndTime:       end,
			Status:        StatusScheduled,
			SessionNumber: len(sessions) + 1,
		})
	}
	return sessions, nil
}
