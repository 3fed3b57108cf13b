package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind names what happened to a set of sessions.
type EventKind string

const (
	EventEnrolled        EventKind = "sessions.enrolled"
	EventReconciled      EventKind = "sessions.reconciled"
	EventRescheduled     EventKind = "session.rescheduled"
	EventBulkRescheduled EventKind = "sessions.bulk_rescheduled"
	EventSlotAssigned    EventKind = "session.slot_assigned"
	EventStatusChanged   EventKind = "session.status_changed"
)

// SessionEvent is published after a mutating operation has been committed.
type SessionEvent struct {
	Kind     EventKind `json:"kind"`
	Actor    Actor     `json:"actor"`
	BranchID uint      `json:"branch_id"`
	ClientID uint      `json:"client_id,omitempty"`
	Sessions []Session `json:"sessions,omitempty"`
	Summary  string    `json:"summary"`
	At       time.Time `json:"at"`
}

// EventSink receives committed session changes (audit trail, live feed, messaging).
type EventSink interface {
	Publish(ctx context.Context, event SessionEvent)
}

// TxHook runs inside an operation's transaction after its sessions are
// written. An error rolls the whole operation back.
type TxHook func(ctx context.Context, tx Store) error

func runHooks(ctx context.Context, tx Store, hooks []TxHook) error {
	for _, h := range hooks {
		if err := h(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

// Engine runs the stateful scheduling operations on top of a Store.
type Engine struct {
	store  Store
	locker Locker
	sink   EventSink
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store:  store,
		locker: NewKeyedMutex(),
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
}

// SetLocker replaces the default in-process locker.
func (e *Engine) SetLocker(l Locker) { e.locker = l }

func (e *Engine) SetEventSink(s EventSink) { e.sink = s }

func (e *Engine) SetLogger(l logrus.FieldLogger) { e.log = l }

// SetClock overrides time.Now; "today" is the local date of the returned time.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Today returns the engine's current local date.
func (e *Engine) Today() Date { return today(e.now()) }

func (e *Engine) publish(ctx context.Context, ev SessionEvent) {
	if e.sink == nil {
		return
	}
	ev.At = e.now()
	e.sink.Publish(ctx, ev)
}

func (e *Engine) withLock(ctx context.Context, key string, fn func() error) error {
	return e.withLocks(ctx, []string{key}, fn)
}

// withLocks takes the keys in the given order and releases them in reverse.
func (e *Engine) withLocks(ctx context.Context, keys []string, fn func() error) error {
	for _, key := range keys {
		unlock, err := e.locker.Lock(ctx, key)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		defer unlock()
	}
	return fn()
}

// ListSessions passes a filter through to the store.
func (e *Engine) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	sessions, err := e.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortSessions(sessions)
	return sessions, nil
}

// GetSession loads one session by id.
func (e *Engine) GetSession(ctx context.Context, id uint) (Session, error) {
	return getSession(ctx, e.store, id)
}

func getSession(ctx context.Context, store Store, id uint) (Session, error) {
	found, err := store.ListSessions(ctx, SessionFilter{IDs: []uint{id}})
	if err != nil {
		return Session{}, err
	}
	if len(found) == 0 {
		return Session{}, fmt.Errorf("%w: session %d", ErrNotFound, id)
	}
	return found[0], nil
}

// EnrollClient generates and stores the initial sessions for a new plan. The
// vehicle's existing bookings are skipped. Nothing is written unless the
// whole plan fits.
func (e *Engine) EnrollClient(ctx context.Context, actor Actor, plan EnrollmentPlan, cfg BranchConfig, hooks ...TxHook) ([]Session, error) {
	if plan.ClientID == 0 {
		return nil, fmt.Errorf("%w: client is required", ErrValidation)
	}
	if plan.BranchID == 0 {
		plan.BranchID = cfg.BranchID
	}

	var created []Session
	err := e.withLock(ctx, BranchLockKey(plan.BranchID), func() error {
		return e.store.Transaction(ctx, func(tx Store) error {
			history, err := tx.ListSessions(ctx, SessionFilter{ClientID: plan.ClientID})
			if err != nil {
				return err
			}
			used := make(map[int]struct{}, len(history))
			open := 0
			for _, s := range history {
				used[s.SessionNumber] = struct{}{}
				switch s.Status {
				case StatusScheduled, StatusRescheduled, StatusInProgress:
					open++
				}
			}
			if open > 0 {
				return fmt.Errorf("%w: client %d already has %d open sessions, edit the plan instead",
					ErrValidation, plan.ClientID, open)
			}

			booked, err := tx.ListSessions(ctx, SessionFilter{VehicleID: plan.VehicleID, FromDate: plan.JoiningDate})
			if err != nil {
				return err
			}
			sessions, err := GenerateAround(plan, cfg, booked)
			if err != nil {
				return err
			}
			// numbers held by finished or cancelled lessons stay taken
			numberSessions(sessions, plan.ClientID, used)
			if created, err = tx.InsertSessions(ctx, sessions); err != nil {
				return err
			}
			return runHooks(ctx, tx, hooks)
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"client_id": plan.ClientID,
		"branch_id": plan.BranchID,
		"sessions":  len(created),
		"actor_id":  actor.UserID,
	}).Info("Client enrolled")
	e.publish(ctx, SessionEvent{
		Kind:     EventEnrolled,
		Actor:    actor,
		BranchID: plan.BranchID,
		ClientID: plan.ClientID,
		Sessions: created,
		Summary:  fmt.Sprintf("%d sessions scheduled from %s", len(created), plan.JoiningDate),
	})
	return created, nil
}

// RescheduleForWorkingDaysChange moves every future SCHEDULED session of the
// branch that no longer falls on a working day. Each move is written on its
// own; a failed write is recorded in the result and the sweep continues.
func (e *Engine) RescheduleForWorkingDaysChange(ctx context.Context, actor Actor, branchID uint, newWorkingDays []int) (RescheduleResult, error) {
	result := RescheduleResult{Failures: []RescheduleFailure{}}
	if err := ValidateWorkingDays(newWorkingDays); err != nil {
		return result, err
	}

	log := e.log.WithFields(logrus.Fields{"branch_id": branchID, "actor_id": actor.UserID})
	var moved []Session

	err := e.withLock(ctx, BranchLockKey(branchID), func() error {
		future, err := e.store.ListSessions(ctx, SessionFilter{BranchID: branchID, FromDate: e.Today()})
		if err != nil {
			return err
		}

		for _, mv := range PlanWorkingDaysChange(future, newWorkingDays) {
			to, status, original := mv.To, StatusRescheduled, mv.Session.ID
			updated, err := e.store.UpdateSession(ctx, mv.Session.ID, SessionPatch{
				SessionDate:       &to,
				Status:            &status,
				OriginalSessionID: &original,
			})
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"session_id": mv.Session.ID,
					"from":       mv.From.String(),
					"to":         mv.To.String(),
				}).Warn("Failed to reschedule session")
				result.Failures = append(result.Failures, RescheduleFailure{
					SessionID: mv.Session.ID,
					From:      mv.From,
					To:        mv.To,
					Error:     err.Error(),
				})
				continue
			}
			result.UpdatedCount++
			moved = append(moved, updated)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	log.WithFields(logrus.Fields{
		"updated":  result.UpdatedCount,
		"failures": len(result.Failures),
	}).Info("Working days change applied to sessions")
	if result.UpdatedCount > 0 || len(result.Failures) > 0 {
		e.publish(ctx, SessionEvent{
			Kind:     EventBulkRescheduled,
			Actor:    actor,
			BranchID: branchID,
			Sessions: moved,
			Summary:  result.Summary(),
		})
	}
	return result, nil
}

// RescheduleSession moves one missed, cancelled or still scheduled session to
// the next free slot on the same vehicle and time. The search starts after
// the later of the session date and today.
func (e *Engine) RescheduleSession(ctx context.Context, actor Actor, sessionID uint, cfg BranchConfig) (Session, error) {
	current, err := e.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}

	var updated Session
	err = e.withLock(ctx, BranchLockKey(current.BranchID), func() error {
		return e.store.Transaction(ctx, func(tx Store) error {
			s, err := getSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if !canReschedule(s.Status) {
				return fmt.Errorf("%w: cannot reschedule a %s session", ErrInvalidTransition, s.Status)
			}

			after := s.SessionDate
			if t := e.Today(); after.Before(t) {
				after = t
			}
			booked, err := tx.ListSessions(ctx, SessionFilter{
				VehicleID: s.VehicleID,
				FromDate:  after.AddDays(1),
				ToDate:    after.AddDays(RescheduleSearchDays),
			})
			if err != nil {
				return err
			}

			next, ok := FindNextAvailableSlot(after, s.VehicleID, s.StartTime, booked, cfg)
			if !ok {
				return &CapacityError{
					Requested: 1,
					Reason: fmt.Sprintf("no free slot for vehicle %d at %s within %d days after %s, needs manual intervention",
						s.VehicleID, s.StartTime, RescheduleSearchDays, after),
				}
			}

			status, original := StatusRescheduled, s.ID
			updated, err = tx.UpdateSession(ctx, s.ID, SessionPatch{
				SessionDate:       &next,
				Status:            &status,
				OriginalSessionID: &original,
			})
			return err
		})
	})
	if err != nil {
		return Session{}, err
	}

	e.publish(ctx, SessionEvent{
		Kind:     EventRescheduled,
		Actor:    actor,
		BranchID: updated.BranchID,
		ClientID: updated.ClientID,
		Sessions: []Session{updated},
		Summary:  fmt.Sprintf("session %d moved from %s to %s", updated.SessionNumber, current.SessionDate, updated.SessionDate),
	})
	return updated, nil
}

// AssignSlot places the client's lowest-numbered cancelled session on an
// explicit vehicle slot.
func (e *Engine) AssignSlot(ctx context.Context, actor Actor, clientID, vehicleID uint, date Date, start TimeOfDay, cfg BranchConfig) (Session, error) {
	if date.Before(e.Today()) {
		return Session{}, fmt.Errorf("%w: cannot assign a slot in the past (%s)", ErrValidation, date)
	}
	if cfg.OperatingHours.IsSet() && !IsWithinOperatingHours(start, cfg.OperatingHours) {
		return Session{}, fmt.Errorf("%w: %s is outside operating hours", ErrValidation, start)
	}

	var updated Session
	err := e.withLock(ctx, BranchLockKey(cfg.BranchID), func() error {
		return e.store.Transaction(ctx, func(tx Store) error {
			cancelled, err := tx.ListSessions(ctx, SessionFilter{ClientID: clientID, Statuses: []Status{StatusCancelled}})
			if err != nil {
				return err
			}
			if len(cancelled) == 0 {
				return fmt.Errorf("%w: client %d has no cancelled session to reassign", ErrNotFound, clientID)
			}
			target := cancelled[0]
			for _, s := range cancelled[1:] {
				if s.SessionNumber < target.SessionNumber {
					target = s
				}
			}

			booked, err := tx.ListSessions(ctx, SessionFilter{VehicleID: vehicleID, FromDate: date, ToDate: date})
			if err != nil {
				return err
			}
			if !IsSlotAvailable(vehicleID, date, start, booked, cfg) {
				return &CapacityError{
					Requested: 1,
					Reason:    fmt.Sprintf("vehicle %d is not available on %s at %s", vehicleID, date, start),
				}
			}

			duration := int(target.EndTime) - int(target.StartTime)
			if duration <= 0 {
				duration = DefaultSessionDuration
			}
			end := start.Add(duration)
			status, original := StatusRescheduled, target.ID
			updated, err = tx.UpdateSession(ctx, target.ID, SessionPatch{
				SessionDate:       &date,
				StartTime:         &start,
				EndTime:           &end,
				VehicleID:         &vehicleID,
				Status:            &status,
				OriginalSessionID: &original,
			})
			return err
		})
	})
	if err != nil {
		return Session{}, err
	}

	e.publish(ctx, SessionEvent{
		Kind:     EventSlotAssigned,
		Actor:    actor,
		BranchID: updated.BranchID,
		ClientID: clientID,
		Sessions: []Session{updated},
		Summary:  fmt.Sprintf("session %d assigned to %s %s", updated.SessionNumber, updated.SessionDate, updated.StartTime),
	})
	return updated, nil
}

// UpdateStatus applies a lifecycle transition (check-in, completion,
// cancellation, no-show).
func (e *Engine) UpdateStatus(ctx context.Context, actor Actor, sessionID uint, next Status) (Session, error) {
	var updated Session
	err := e.store.Transaction(ctx, func(tx Store) error {
		s, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := CheckTransition(s.Status, next); err != nil {
			return err
		}
		updated, err = tx.UpdateSession(ctx, sessionID, SessionPatch{Status: &next})
		return err
	})
	if err != nil {
		return Session{}, err
	}

	e.publish(ctx, SessionEvent{
		Kind:     EventStatusChanged,
		Actor:    actor,
		BranchID: updated.BranchID,
		ClientID: updated.ClientID,
		Sessions: []Session{updated},
		Summary:  fmt.Sprintf("session %d is now %s", updated.SessionNumber, updated.Status),
	})
	return updated, nil
}

// IsCapacity reports whether err is a capacity failure and returns its detail.
func IsCapacity(err error) (*CapacityError, bool) {
	var ce *CapacityError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, errors.Is(err, ErrCapacity)
}
