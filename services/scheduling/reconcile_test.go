package scheduling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientSession(t *testing.T, id uint, date string, status Status, number int) Session {
	t.Helper()
	return Session{
		ID: id, ClientID: 7, VehicleID: 3, BranchID: 1,
		SessionDate: mustDate(t, date), StartTime: Clock(10, 0), EndTime: Clock(10, 30),
		Status: status, SessionNumber: number,
	}
}

func TestReconcileRefusesShrinkBelowTouched(t *testing.T) {
	store := newMemStore(
		clientSession(t, 1, "2025-01-06", StatusCompleted, 1),
		clientSession(t, 2, "2025-01-07", StatusCompleted, 2),
		clientSession(t, 3, "2025-01-08", StatusScheduled, 3),
	)
	e, sink := newTestEngine(t, store, "2025-01-08")
	before := store.all()

	plan := weekdayPlan(t, "2025-01-06", 1)
	_, err := e.ReconcilePlan(context.Background(), staff, plan, BranchConfig{WorkingDays: weekdays})

	ce, ok := IsCapacity(err)
	require.True(t, ok)
	assert.Equal(t, 1, ce.Requested)
	assert.Equal(t, 2, ce.Touched)
	assert.EqualError(t, err, "insufficient capacity: cannot reduce to 1 sessions; 2 already completed or in progress")

	assert.Equal(t, before, store.all(), "nothing may be deleted")
	assert.Empty(t, sink.kinds())
}

func TestReconcileDownToTouchedDropsScheduled(t *testing.T) {
	store := newMemStore(
		clientSession(t, 1, "2025-01-06", StatusCompleted, 1),
		clientSession(t, 2, "2025-01-07", StatusCompleted, 2),
		clientSession(t, 3, "2025-01-08", StatusScheduled, 3),
	)
	e, _ := newTestEngine(t, store, "2025-01-08")

	result, err := e.ReconcilePlan(context.Background(), staff, weekdayPlan(t, "2025-01-06", 2), BranchConfig{WorkingDays: weekdays})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 2, result.Preserved)
	assert.Len(t, store.all(), 2)
}

func TestReconcileShrinkBelowTouchedCountsInProgress(t *testing.T) {
	store := newMemStore(
		clientSession(t, 1, "2025-01-06", StatusCompleted, 1),
		clientSession(t, 2, "2025-01-07", StatusCompleted, 2),
		clientSession(t, 3, "2025-01-08", StatusInProgress, 3),
	)
	e, _ := newTestEngine(t, store, "2025-01-08")

	_, err := e.ReconcileSessions(context.Background(), staff, 7, make([]Session, 2))
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Len(t, store.all(), 3)
}

func TestReconcilePlanGrows(t *testing.T) {
	store := newMemStore(
		clientSession(t, 1, "2025-01-06", StatusCompleted, 1),
		clientSession(t, 2, "2025-01-07", StatusScheduled, 2),
	)
	e, sink := newTestEngine(t, store, "2025-01-07")

	result, err := e.ReconcilePlan(context.Background(), staff, weekdayPlan(t, "2025-01-06", 5), BranchConfig{WorkingDays: weekdays})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Created)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Preserved)
	assert.Equal(t, "1 sessions preserved, 1 removed, 4 created", result.Message)

	all := store.all()
	require.Len(t, all, 5)
	assert.Equal(t, StatusCompleted, all[0].Status)
	assert.Equal(t, 1, all[0].SessionNumber)
	for i, s := range all[1:] {
		assert.Equal(t, StatusScheduled, s.Status)
		assert.Equal(t, i+2, s.SessionNumber)
		assert.NotEqual(t, "2025-01-06", s.SessionDate.String())
	}
	assert.Equal(t, "2025-01-07", all[1].SessionDate.String())
	assert.Equal(t, "2025-01-10", all[4].SessionDate.String())
	assertUniqueNumbers(t, all)
	assertNoDoubleBooking(t, all)
	assert.Equal(t, []EventKind{EventReconciled}, sink.kinds())
}

func TestReconcileSessionsSkipsTouchedDatesAndUsedNumbers(t *testing.T) {
	store := newMemStore(
		clientSession(t, 1, "2025-01-06", StatusCompleted, 1),
		clientSession(t, 2, "2025-01-07", StatusCancelled, 2),
		clientSession(t, 3, "2025-01-08", StatusScheduled, 3),
	)
	e, _ := newTestEngine(t, store, "2025-01-06")

	desired := []Session{
		clientSession(t, 0, "2025-01-06", StatusScheduled, 0),
		clientSession(t, 0, "2025-01-07", StatusScheduled, 0),
		clientSession(t, 0, "2025-01-08", StatusScheduled, 0),
		clientSession(t, 0, "2025-01-09", StatusScheduled, 0),
	}
	result, err := e.ReconcileSessions(context.Background(), staff, 7, desired)
	require.NoError(t, err)
	require.Len(t, result.Sessions, 3)

	numbers := []int{}
	dates := []string{}
	for _, s := range result.Sessions {
		numbers = append(numbers, s.SessionNumber)
		dates = append(dates, s.SessionDate.String())
	}
	assert.Equal(t, []int{3, 4, 5}, numbers)
	assert.Equal(t, []string{"2025-01-07", "2025-01-08", "2025-01-09"}, dates)
	assertUniqueNumbers(t, store.all())
}

func TestReconcileIsAllOrNothing(t *testing.T) {
	store := newMemStore(
		clientSession(t, 1, "2025-01-06", StatusCompleted, 1),
		clientSession(t, 2, "2025-01-07", StatusScheduled, 2),
		// another client holds the vehicle on the 8th
		Session{ID: 3, ClientID: 8, VehicleID: 3, BranchID: 1, SessionDate: mustDate(t, "2025-01-08"), StartTime: Clock(10, 0), Status: StatusScheduled, SessionNumber: 1},
	)
	e, _ := newTestEngine(t, store, "2025-01-06")
	before := store.all()

	desired := []Session{
		clientSession(t, 0, "2025-01-06", StatusScheduled, 0),
		clientSession(t, 0, "2025-01-07", StatusScheduled, 0),
		clientSession(t, 0, "2025-01-08", StatusScheduled, 0),
	}
	_, err := e.ReconcileSessions(context.Background(), staff, 7, desired)
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, before, store.all())
}

func TestReconcileRollsBackOnStoreFailure(t *testing.T) {
	store := newMemStore(clientSession(t, 1, "2025-01-07", StatusScheduled, 1))
	store.failInsert = assert.AnError
	e, _ := newTestEngine(t, store, "2025-01-06")

	_, err := e.ReconcilePlan(context.Background(), staff, weekdayPlan(t, "2025-01-06", 2), BranchConfig{WorkingDays: weekdays})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, store.all(), 1, "deleted scheduled session must come back")
}

func TestReconcileToZeroDropsScheduled(t *testing.T) {
	store := newMemStore(
		clientSession(t, 1, "2025-01-07", StatusScheduled, 1),
		clientSession(t, 2, "2025-01-08", StatusScheduled, 2),
	)
	e, _ := newTestEngine(t, store, "2025-01-06")

	result, err := e.ReconcileSessions(context.Background(), staff, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 0, result.Created)
	assert.Empty(t, store.all())
}
