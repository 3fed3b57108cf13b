package scheduling

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ReconcileResult reports what a plan edit did to a client's sessions.
type ReconcileResult struct {
	Created   int       `json:"created"`
	Deleted   int       `json:"deleted"`
	Preserved int       `json:"preserved"`
	Message   string    `json:"message"`
	Sessions  []Session `json:"sessions"`
}

// clientSessions splits a client's sessions by lifecycle state. touched
// sessions (completed, in progress, no-show, rescheduled) are never changed
// by reconciliation.
type clientSessions struct {
	completed []Session
	scheduled []Session
	other     []Session
	cancelled []Session
}

func partition(sessions []Session) clientSessions {
	var p clientSessions
	for _, s := range sessions {
		switch s.Status {
		case StatusCompleted:
			p.completed = append(p.completed, s)
		case StatusScheduled:
			p.scheduled = append(p.scheduled, s)
		case StatusCancelled:
			p.cancelled = append(p.cancelled, s)
		default:
			p.other = append(p.other, s)
		}
	}
	return p
}

func (p clientSessions) touched() int { return len(p.completed) + len(p.other) }

func (p clientSessions) touchedDates() map[Date]struct{} {
	dates := make(map[Date]struct{}, p.touched())
	for _, group := range [][]Session{p.completed, p.other} {
		for _, s := range group {
			dates[s.SessionDate] = struct{}{}
		}
	}
	return dates
}

// usedNumbers includes cancelled sessions because they are still stored and
// keep their number.
func (p clientSessions) usedNumbers() map[int]struct{} {
	used := make(map[int]struct{})
	for _, group := range [][]Session{p.completed, p.other, p.cancelled} {
		for _, s := range group {
			used[s.SessionNumber] = struct{}{}
		}
	}
	return used
}

func (p clientSessions) scheduledIDs() []uint {
	ids := make([]uint, 0, len(p.scheduled))
	for _, s := range p.scheduled {
		ids = append(ids, s.ID)
	}
	return ids
}

// candidatePicker returns up to remaining new sessions that avoid the
// touched dates and the busy vehicle slots.
type candidatePicker func(p clientSessions, busy slotIndex, remaining int) ([]Session, error)

// ReconcileSessions makes the client's session set match len(desired). Every
// SCHEDULED session is replaced; completed and otherwise touched sessions are
// kept. desired is used in date order as the pool of new slots. The whole
// change is applied in one transaction or not at all.
func (e *Engine) ReconcileSessions(ctx context.Context, actor Actor, clientID uint, desired []Session) (ReconcileResult, error) {
	vehicles := make([]uint, 0)
	branches := make([]uint, 0, 1)
	seen := make(map[uint]bool)
	seenBranch := make(map[uint]bool)
	var from Date
	for _, s := range desired {
		if !seen[s.VehicleID] {
			seen[s.VehicleID] = true
			vehicles = append(vehicles, s.VehicleID)
		}
		if !seenBranch[s.BranchID] {
			seenBranch[s.BranchID] = true
			branches = append(branches, s.BranchID)
		}
		if from.IsZero() || s.SessionDate.Before(from) {
			from = s.SessionDate
		}
	}

	pool := append([]Session(nil), desired...)
	sortSessions(pool)
	return e.reconcile(ctx, actor, clientID, len(desired), branches, vehicles, from, func(p clientSessions, busy slotIndex, remaining int) ([]Session, error) {
		return pickCandidates(pool, p.touchedDates(), busy, remaining), nil
	})
}

// ReconcilePlan regenerates the open part of an edited plan. The new
// sessions are laid out like GenerateSessions from the later of the joining
// date and today, around dates that already carry touched work and around
// other bookings of the vehicle.
func (e *Engine) ReconcilePlan(ctx context.Context, actor Actor, plan EnrollmentPlan, cfg BranchConfig, hooks ...TxHook) (ReconcileResult, error) {
	if plan.NumberOfSessions < 0 {
		return ReconcileResult{}, fmt.Errorf("%w: number of sessions cannot be negative", ErrValidation)
	}
	if plan.BranchID == 0 {
		plan.BranchID = cfg.BranchID
	}
	return e.reconcile(ctx, actor, plan.ClientID, plan.NumberOfSessions, []uint{plan.BranchID}, []uint{plan.VehicleID}, plan.JoiningDate,
		func(p clientSessions, busy slotIndex, remaining int) ([]Session, error) {
			sub := plan
			sub.NumberOfSessions = remaining
			if t := e.Today(); sub.JoiningDate.Before(t) {
				sub.JoiningDate = t
			}
			return generate(sub, cfg, busy, p.touchedDates())
		}, hooks...)
}

// reconcile runs under the branch locks of every branch involved, then the
// client lock.
func (e *Engine) reconcile(ctx context.Context, actor Actor, clientID uint, desired int, branches, vehicles []uint, from Date, pick candidatePicker, hooks ...TxHook) (ReconcileResult, error) {
	var result ReconcileResult
	var branchID uint

	keys, err := e.reconcileLockKeys(ctx, clientID, branches)
	if err != nil {
		return ReconcileResult{}, err
	}
	err = e.withLocks(ctx, keys, func() error {
		return e.store.Transaction(ctx, func(tx Store) error {
			existing, err := tx.ListSessions(ctx, SessionFilter{ClientID: clientID})
			if err != nil {
				return err
			}
			p := partition(existing)
			touched := p.touched()
			if desired < touched {
				return &CapacityError{
					Requested: desired,
					Touched:   touched,
					Reason:    fmt.Sprintf("cannot reduce to %d sessions; %d already completed or in progress", desired, touched),
				}
			}

			var fresh []Session
			if remaining := desired - touched; remaining > 0 {
				busy, err := otherBookings(ctx, tx, vehicles, from, p.scheduled)
				if err != nil {
					return err
				}
				fresh, err = pick(p, busy, remaining)
				if err != nil {
					return err
				}
				if len(fresh) < remaining {
					return &CapacityError{
						Requested: desired,
						Touched:   touched,
						Generated: len(fresh),
						Reason:    fmt.Sprintf("only %d of %d new sessions could be placed", len(fresh), remaining),
					}
				}
				numberSessions(fresh, clientID, p.usedNumbers())
			}

			if ids := p.scheduledIDs(); len(ids) > 0 {
				if err := tx.DeleteSessions(ctx, ids); err != nil {
					return err
				}
			}
			if len(fresh) > 0 {
				if fresh, err = tx.InsertSessions(ctx, fresh); err != nil {
					return err
				}
				branchID = fresh[0].BranchID
			} else if len(existing) > 0 {
				branchID = existing[0].BranchID
			}

			result = ReconcileResult{
				Created:   len(fresh),
				Deleted:   len(p.scheduled),
				Preserved: touched,
				Sessions:  fresh,
			}
			result.Message = fmt.Sprintf("%d sessions preserved, %d removed, %d created",
				result.Preserved, result.Deleted, result.Created)
			return runHooks(ctx, tx, hooks)
		})
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	e.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"created":   result.Created,
		"deleted":   result.Deleted,
		"preserved": result.Preserved,
		"actor_id":  actor.UserID,
	}).Info("Client sessions reconciled")
	e.publish(ctx, SessionEvent{
		Kind:     EventReconciled,
		Actor:    actor,
		BranchID: branchID,
		ClientID: clientID,
		Sessions: result.Sessions,
		Summary:  result.Message,
	})
	return result, nil
}

// reconcileLockKeys returns the branch keys of the requested branches and of
// the client's stored sessions in ascending order, followed by the client key.
func (e *Engine) reconcileLockKeys(ctx context.Context, clientID uint, branches []uint) ([]string, error) {
	stored, err := e.store.ListSessions(ctx, SessionFilter{ClientID: clientID})
	if err != nil {
		return nil, err
	}
	ids := make(map[uint]struct{}, len(branches)+1)
	for _, b := range branches {
		ids[b] = struct{}{}
	}
	for _, s := range stored {
		ids[s.BranchID] = struct{}{}
	}
	sorted := make([]uint, 0, len(ids))
	for b := range ids {
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	keys := make([]string, 0, len(sorted)+1)
	for _, b := range sorted {
		keys = append(keys, BranchLockKey(b))
	}
	return append(keys, ClientLockKey(clientID)), nil
}

// otherBookings indexes the slots held on the given vehicles, leaving out
// the sessions about to be deleted.
func otherBookings(ctx context.Context, tx Store, vehicles []uint, from Date, replaced []Session) (slotIndex, error) {
	drop := make(map[uint]bool, len(replaced))
	for _, s := range replaced {
		drop[s.ID] = true
	}
	busy := make(slotIndex)
	for _, v := range vehicles {
		booked, err := tx.ListSessions(ctx, SessionFilter{VehicleID: v, FromDate: from})
		if err != nil {
			return nil, err
		}
		for _, s := range booked {
			if !drop[s.ID] {
				busy.add(s)
			}
		}
	}
	return busy, nil
}

func pickCandidates(pool []Session, skipDates map[Date]struct{}, busy slotIndex, remaining int) []Session {
	picked := make([]Session, 0, remaining)
	for _, s := range pool {
		if len(picked) == remaining {
			break
		}
		if _, skip := skipDates[s.SessionDate]; skip {
			continue
		}
		if busy.taken(s.VehicleID, s.SessionDate, s.StartTime) {
			continue
		}
		s.Status = StatusScheduled
		busy.add(s)
		picked = append(picked, s)
	}
	return picked
}

// numberSessions hands out the lowest free session numbers in date order.
func numberSessions(fresh []Session, clientID uint, used map[int]struct{}) {
	n := 1
	for i := range fresh {
		for {
			if _, ok := used[n]; !ok {
				break
			}
			n++
		}
		fresh[i].ID = 0
		fresh[i].ClientID = clientID
		fresh[i].Status = StatusScheduled
		fresh[i].OriginalSessionID = nil
		fresh[i].SessionNumber = n
		n++
	}
}
