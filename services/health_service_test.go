package services

import (
	"testing"
	"time"

	"drivingschool_go/config"
	"drivingschool_go/models"
	"drivingschool_go/services/messaging"
	"drivingschool_go/services/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedHealthSession(t *testing.T, db *gorm.DB, f fixture, date string, status scheduling.Status, number int) {
	t.Helper()
	require.NoError(t, db.Create(&models.Session{
		ClientID:      f.client.ID,
		VehicleID:     f.vehicle.ID,
		BranchID:      f.branch.ID,
		SessionDate:   mustDate(t, date),
		StartTime:     scheduling.Clock(10, 0),
		EndTime:       scheduling.Clock(10, 30),
		Status:        status,
		SessionNumber: number,
	}).Error)
}

func newTestHealth(db *gorm.DB, cfg *config.Config) *HealthService {
	svc := NewHealthService("", "")
	svc.SetBackends(db, nil, cfg)
	svc.SetToday(newTestEngine(db).Today)
	return svc
}

func TestHealthReport(t *testing.T) {
	db := openTestDB(t)
	f := seedFixture(t, db)
	seedHealthSession(t, db, f, "2030-01-06", scheduling.StatusScheduled, 1)
	seedHealthSession(t, db, f, "2030-01-07", scheduling.StatusScheduled, 2)
	seedHealthSession(t, db, f, "2030-01-03", scheduling.StatusNoShow, 3)

	svc := newTestHealth(db, &config.Config{DBDriver: "postgres", AppEnv: "test", WhatsAppToken: "t", WhatsAppPhoneNumberID: "1"})
	svc.SetStartTime(time.Now().Add(-90 * time.Second))

	report := svc.GetHealthReport()
	assert.Equal(t, overallStatusOK, report.Status)
	assert.Equal(t, defaultServiceName, report.Service)
	assert.Equal(t, "test", report.Environment)
	assert.GreaterOrEqual(t, report.UptimeSeconds, 90.0)

	require.Len(t, report.Dependencies, 2)
	assert.Equal(t, "postgres", report.Dependencies[0].Name)
	assert.Equal(t, dependencyStatusUp, report.Dependencies[0].Status)
	assert.Equal(t, dependencyStatusDisabled, report.Dependencies[1].Status)

	require.NotNil(t, report.Scheduling)
	assert.Equal(t, "2030-01-07", report.Scheduling.Today)
	assert.Equal(t, lockBackendInProcess, report.Scheduling.LockBackend)
	assert.Equal(t, int64(1), report.Scheduling.SessionsToday)
	assert.Equal(t, int64(1), report.Scheduling.OverdueOpen, "no-show sessions are not overdue")
	assert.Equal(t, "2030-01-06", report.Scheduling.OldestOverdue)
	assert.False(t, report.Scheduling.SweepLagging, "yesterday's sessions wait for tonight's sweep")

	assert.Equal(t, []string{string(messaging.ChannelWhatsApp)}, report.Messaging.Channels)
	assert.Equal(t, 200, svc.HTTPStatusForOverall(report.Status))
}

func TestHealthReportFlagsStaleBacklog(t *testing.T) {
	db := openTestDB(t)
	f := seedFixture(t, db)
	seedHealthSession(t, db, f, "2030-01-02", scheduling.StatusRescheduled, 1)
	seedHealthSession(t, db, f, "2030-01-06", scheduling.StatusScheduled, 2)
	require.NoError(t, db.Create(&models.MessageDispatch{
		IdempotencyKey: "reminder:1", Channel: string(messaging.ChannelWhatsApp), Kind: "reminder",
		Recipient: f.client.Phone, Status: messaging.StatusFailed, Attempts: 3,
	}).Error)
	require.NoError(t, db.Create(&models.MessageDispatch{
		IdempotencyKey: "reminder:2", Channel: string(messaging.ChannelWhatsApp), Kind: "reminder",
		Recipient: f.client.Phone, Status: messaging.StatusSent, Attempts: 1,
	}).Error)

	report := newTestHealth(db, &config.Config{AppEnv: "test"}).GetHealthReport()
	require.NotNil(t, report.Scheduling)
	assert.Equal(t, int64(2), report.Scheduling.OverdueOpen)
	assert.Equal(t, "2030-01-02", report.Scheduling.OldestOverdue)
	assert.True(t, report.Scheduling.SweepLagging)
	assert.Equal(t, overallStatusDegraded, report.Status)
	assert.Equal(t, int64(1), report.Messaging.FailedLastDay)
	assert.Empty(t, report.Messaging.Channels)
}

func TestHealthReportWithoutDatabase(t *testing.T) {
	svc := NewHealthService("", "")
	svc.SetBackends(nil, nil, &config.Config{UseRedisLocks: true})

	report := svc.GetHealthReport()
	assert.Equal(t, overallStatusCritical, report.Status)
	assert.Nil(t, report.Scheduling)
	require.Len(t, report.Dependencies, 2)
	assert.Equal(t, dependencyStatusDown, report.Dependencies[1].Status)
	assert.Equal(t, "required", report.Dependencies[1].Mode)
	assert.Equal(t, 503, svc.HTTPStatusForOverall(report.Status))
}
