package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"drivingschool_go/database"
	"drivingschool_go/models"
	"drivingschool_go/services/messaging"
	notifsvc "drivingschool_go/services/notifications"
	"drivingschool_go/services/scheduling"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Monday
var testNow = time.Date(2030, 1, 7, 9, 0, 0, 0, time.Local)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "services.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func newTestEngine(db *gorm.DB) *scheduling.Engine {
	engine := scheduling.NewEngine(database.NewSessionStore(db))
	engine.SetClock(func() time.Time { return testNow })
	return engine
}

func mustDate(t *testing.T, s string) scheduling.Date {
	t.Helper()
	d, err := scheduling.ParseDate(s)
	require.NoError(t, err)
	return d
}

type fixture struct {
	branch  models.Branch
	vehicle models.Vehicle
	client  models.Client
}

// seedFixture creates a Monday to Friday branch with one vehicle and one client.
func seedFixture(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	f := fixture{branch: models.Branch{Name: "Indiranagar", Code: "IND", Active: true}}
	require.NoError(t, db.Create(&f.branch).Error)

	settings := models.BranchSettings{
		BranchID:               f.branch.ID,
		OpenTime:               scheduling.Clock(8, 0),
		CloseTime:              scheduling.Clock(18, 0),
		SessionDurationMinutes: 30,
	}
	require.NoError(t, settings.SetDays([]int{1, 2, 3, 4, 5}))
	require.NoError(t, db.Create(&settings).Error)

	f.vehicle = models.Vehicle{BranchID: f.branch.ID, RegistrationNumber: "KA01AB1234", Active: true}
	require.NoError(t, db.Create(&f.vehicle).Error)

	f.client = models.Client{BranchID: f.branch.ID, FullName: "Asha Rao", Phone: "+919812345670", WhatsAppOptIn: true, LicenseStatus: "none"}
	require.NoError(t, db.Create(&f.client).Error)
	return f
}

type fakeDispatcher struct {
	mu       sync.Mutex
	channels map[messaging.Channel]bool
	sent     []messaging.Message
}

func newFakeDispatcher(channels ...messaging.Channel) *fakeDispatcher {
	d := &fakeDispatcher{channels: map[messaging.Channel]bool{}}
	for _, ch := range channels {
		d.channels[ch] = true
	}
	return d
}

func (d *fakeDispatcher) Dispatch(_ context.Context, msg messaging.Message) (messaging.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return messaging.Result{Key: msg.IdempotencyKey(), Status: messaging.StatusSent, Attempts: 1}, nil
}

func (d *fakeDispatcher) HasChannel(ch messaging.Channel) bool { return d.channels[ch] }

func (d *fakeDispatcher) messages() []messaging.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]messaging.Message(nil), d.sent...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notifsvc.Notice
}

func (n *fakeNotifier) EnqueueOrCreate(_ context.Context, notice notifsvc.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	branches []uint
	messages []interface{}
}

func (b *fakeBroadcaster) BroadcastToBranch(branchID uint, message interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.branches = append(b.branches, branchID)
	b.messages = append(b.messages, message)
}
