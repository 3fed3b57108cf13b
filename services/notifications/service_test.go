package notifications

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"drivingschool_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeHub struct {
	mu       sync.Mutex
	users    []uint
	branches []uint
}

func (h *fakeHub) BroadcastToUser(userID uint, _ interface{}) {
	h.mu.Lock()
	h.users = append(h.users, userID)
	h.mu.Unlock()
}

func (h *fakeHub) BroadcastToBranch(branchID uint, _ interface{}) {
	h.mu.Lock()
	h.branches = append(h.branches, branchID)
	h.mu.Unlock()
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "n.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Notification{}))
	return db
}

func TestEnqueueOrCreateWithoutRedis(t *testing.T) {
	db := openDB(t)
	hub := &fakeHub{}
	svc := New(db, nil, true)
	svc.SetWebSocketHub(hub)

	err := svc.EnqueueOrCreate(context.Background(), Notice{
		BranchID: 4,
		UserIDs:  []uint{1, 2},
		Title:    "Sessions rescheduled",
		Message:  "3 sessions rescheduled",
		Type:     "bogus",
		Data:     map[string]int{"updated_count": 3},
	})
	require.NoError(t, err)

	var rows []models.Notification
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "info", rows[0].Type)
	assert.JSONEq(t, `{"updated_count":3}`, string(rows[0].Data))
	assert.Equal(t, []uint{1, 2}, hub.users)
	assert.Empty(t, hub.branches)
}

func TestBranchWideNotice(t *testing.T) {
	db := openDB(t)
	hub := &fakeHub{}
	svc := New(db, nil, false)
	svc.SetWebSocketHub(hub)

	require.NoError(t, svc.EnqueueOrCreate(context.Background(), Notice{BranchID: 9, Title: "t", Message: "m", Type: "warning"}))

	var row models.Notification
	require.NoError(t, db.First(&row).Error)
	assert.Nil(t, row.UserID)
	assert.Equal(t, []uint{9}, hub.branches)
}

func TestNoticeNeedsAudience(t *testing.T) {
	svc := New(openDB(t), nil, false)
	assert.Error(t, svc.EnqueueOrCreate(context.Background(), Notice{Title: "t"}))
}
