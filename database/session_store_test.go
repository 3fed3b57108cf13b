package database

import (
	"context"
	"path/filepath"
	"testing"

	"drivingschool_go/services/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func day(t *testing.T, s string) scheduling.Date {
	t.Helper()
	d, err := scheduling.ParseDate(s)
	require.NoError(t, err)
	return d
}

func seedSessions(t *testing.T, store *SessionStore) []scheduling.Session {
	t.Helper()
	in := []scheduling.Session{
		{ClientID: 1, VehicleID: 3, BranchID: 1, SessionDate: day(t, "2025-01-07"), StartTime: scheduling.Clock(10, 0), EndTime: scheduling.Clock(10, 30), Status: scheduling.StatusScheduled, SessionNumber: 2},
		{ClientID: 1, VehicleID: 3, BranchID: 1, SessionDate: day(t, "2025-01-06"), StartTime: scheduling.Clock(10, 0), EndTime: scheduling.Clock(10, 30), Status: scheduling.StatusCompleted, SessionNumber: 1},
		{ClientID: 2, VehicleID: 4, BranchID: 2, SessionDate: day(t, "2025-01-08"), StartTime: scheduling.Clock(9, 0), EndTime: scheduling.Clock(9, 30), Status: scheduling.StatusScheduled, SessionNumber: 1},
	}
	out, err := store.InsertSessions(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	return out
}

func TestSessionStoreInsertAndList(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	inserted := seedSessions(t, store)
	for _, s := range inserted {
		assert.NotZero(t, s.ID)
	}

	got, err := store.ListSessions(context.Background(), scheduling.SessionFilter{ClientID: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-01-06", got[0].SessionDate.String())
	assert.Equal(t, scheduling.StatusCompleted, got[0].Status)
	assert.Equal(t, scheduling.Clock(10, 30), got[1].EndTime)
}

func TestSessionStoreFilters(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	inserted := seedSessions(t, store)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter scheduling.SessionFilter
		want   int
	}{
		{"branch", scheduling.SessionFilter{BranchID: 2}, 1},
		{"vehicle", scheduling.SessionFilter{VehicleID: 3}, 2},
		{"from", scheduling.SessionFilter{FromDate: day(t, "2025-01-07")}, 2},
		{"to", scheduling.SessionFilter{ToDate: day(t, "2025-01-06")}, 1},
		{"status", scheduling.SessionFilter{Statuses: []scheduling.Status{scheduling.StatusScheduled}}, 2},
		{"ids", scheduling.SessionFilter{IDs: []uint{inserted[0].ID}}, 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.ListSessions(ctx, tc.filter)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestSessionStoreUpdate(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	inserted := seedSessions(t, store)
	ctx := context.Background()

	id := inserted[0].ID
	newDate := day(t, "2025-01-13")
	status := scheduling.StatusRescheduled
	updated, err := store.UpdateSession(ctx, id, scheduling.SessionPatch{
		SessionDate:       &newDate,
		Status:            &status,
		OriginalSessionID: &id,
	})
	require.NoError(t, err)
	assert.Equal(t, newDate, updated.SessionDate)
	assert.Equal(t, scheduling.StatusRescheduled, updated.Status)
	require.NotNil(t, updated.OriginalSessionID)
	assert.Equal(t, id, *updated.OriginalSessionID)

	_, err = store.UpdateSession(ctx, 9999, scheduling.SessionPatch{Status: &status})
	assert.ErrorIs(t, err, scheduling.ErrNotFound)
}

func TestSessionStoreDeleteIsSoft(t *testing.T) {
	db := openTestDB(t)
	store := NewSessionStore(db)
	inserted := seedSessions(t, store)
	ctx := context.Background()

	require.NoError(t, store.DeleteSessions(ctx, []uint{inserted[0].ID}))

	got, err := store.ListSessions(ctx, scheduling.SessionFilter{ClientID: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	var count int64
	require.NoError(t, db.Unscoped().Table("sessions").Where("client_id = ?", 1).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestSessionStoreTransactionRollsBack(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	err := store.Transaction(ctx, func(tx scheduling.Store) error {
		_, err := tx.InsertSessions(ctx, []scheduling.Session{{
			ClientID: 5, VehicleID: 1, BranchID: 1,
			SessionDate: day(t, "2025-02-03"), StartTime: scheduling.Clock(8, 0), EndTime: scheduling.Clock(8, 30),
			Status: scheduling.StatusScheduled, SessionNumber: 1,
		}})
		require.NoError(t, err)
		return scheduling.ErrValidation
	})
	assert.ErrorIs(t, err, scheduling.ErrValidation)

	got, err := store.ListSessions(ctx, scheduling.SessionFilter{ClientID: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSessionStoreDrivesEngine(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	engine := scheduling.NewEngine(store)

	plan := scheduling.EnrollmentPlan{
		ClientID: 9, VehicleID: 2, BranchID: 1,
		JoiningDate: day(t, "2030-01-07"), JoiningTime: scheduling.Clock(10, 0),
		NumberOfSessions: 5, SessionDurationInMinutes: 30,
	}
	cfg := scheduling.BranchConfig{BranchID: 1, WorkingDays: []int{1, 2, 3, 4, 5}}

	created, err := engine.EnrollClient(context.Background(), scheduling.Actor{UserID: 1}, plan, cfg)
	require.NoError(t, err)
	require.Len(t, created, 5)
	assert.Equal(t, "2030-01-11", created[4].SessionDate.String())

	listed, err := engine.ListSessions(context.Background(), scheduling.SessionFilter{ClientID: 9})
	require.NoError(t, err)
	assert.Len(t, listed, 5)
}
