package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"drivingschool_go/config"
	"drivingschool_go/database"
	"drivingschool_go/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notice is one in-app notification addressed to users, or to every staff
// member of a branch when UserIDs is empty. It is also the Redis queue item.
type Notice struct {
	BranchID  uint      `json:"branch_id"`
	UserIDs   []uint    `json:"user_ids,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const redisListKey = "notifications:queue"

// WSHub interface for WebSocket broadcasting
type WSHub interface {
	BroadcastToUser(userID uint, message interface{})
	BroadcastToBranch(branchID uint, message interface{})
}

// Service exposes notification creation with an optional Redis queue.
// If Redis is disabled or unavailable it inserts directly.
type Service struct {
	db       *gorm.DB
	redis    *redis.Client
	useRedis bool
	wsHub    WSHub
}

// defaultHub lets services created by the cron jobs broadcast over the same hub.
var defaultHub WSHub

func SetDefaultWSHub(h WSHub) {
	defaultHub = h
}

// NewService wires the service to the global database and Redis clients.
func NewService() *Service {
	rdb := database.GetRedisClient()
	useRedis := config.AppConfig != nil && config.AppConfig.UseRedisNotifications && rdb != nil
	return New(database.GetDB(), rdb, useRedis)
}

func New(db *gorm.DB, rdb *redis.Client, useRedis bool) *Service {
	return &Service{
		db:       db,
		redis:    rdb,
		useRedis: useRedis && rdb != nil,
		wsHub:    defaultHub,
	}
}

// SetWebSocketHub sets the WebSocket hub for real-time notifications
func (s *Service) SetWebSocketHub(hub WSHub) {
	s.wsHub = hub
}

func normalizeType(t string) string {
	switch t {
	case "info", "warning", "error", "success":
		return t
	}
	return "info"
}

// EnqueueOrCreate stores the notice using the Redis queue if enabled, else direct insert.
func (s *Service) EnqueueOrCreate(ctx context.Context, n Notice) error {
	if n.BranchID == 0 && len(n.UserIDs) == 0 {
		return errors.New("notice has neither branch nor users")
	}
	n.Type = normalizeType(n.Type)
	n.CreatedAt = time.Now().UTC()

	if s.useRedis {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err = s.redis.RPush(ctx, redisListKey, b).Err(); err == nil {
			return nil
		}
		logrus.WithError(err).Warn("Redis notification queue failed, falling back to direct insert")
	}
	return s.createDirect(ctx, n)
}

// createDirect writes to the DB and pushes the rows over WebSocket.
func (s *Service) createDirect(ctx context.Context, n Notice) error {
	var data datatypes.JSON
	if n.Data != nil {
		if b, err := json.Marshal(n.Data); err == nil {
			data = datatypes.JSON(b)
		}
	}

	rows := make([]models.Notification, 0, len(n.UserIDs)+1)
	if len(n.UserIDs) == 0 {
		rows = append(rows, models.Notification{BranchID: n.BranchID, Title: n.Title, Message: n.Message, Type: n.Type, Data: data})
	}
	for _, uid := range n.UserIDs {
		uid := uid
		rows = append(rows, models.Notification{UserID: &uid, BranchID: n.BranchID, Title: n.Title, Message: n.Message, Type: n.Type, Data: data})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return err
	}

	if s.wsHub == nil {
		return nil
	}
	for _, row := range rows {
		msg := map[string]interface{}{"type": "notification", "data": row}
		if row.UserID != nil {
			s.wsHub.BroadcastToUser(*row.UserID, msg)
		} else {
			s.wsHub.BroadcastToBranch(row.BranchID, msg)
		}
	}
	return nil
}

// StartWorker starts a background worker polling the Redis queue and flushing to DB
func (s *Service) StartWorker(stop <-chan struct{}) {
	if !s.useRedis {
		logrus.Info("Redis notifications disabled; worker not started")
		return
	}
	go func() {
		logrus.Info("Redis notification worker started")
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		ctx := context.Background()
		for {
			select {
			case <-stop:
				logrus.Info("Notification worker stopping")
				return
			case <-ticker.C:
				s.flushBatch(ctx, 200)
			}
		}
	}()
}

// flushBatch drains up to five batches from the queue.
func (s *Service) flushBatch(ctx context.Context, batchSize int) {
	if s.redis == nil {
		return
	}
	for i := 0; i < 5; i++ {
		vals, err := s.redis.LRange(ctx, redisListKey, 0, int64(batchSize-1)).Result()
		if err != nil || len(vals) == 0 {
			return
		}
		// Trim immediately to avoid duplicates (best-effort)
		if err = s.redis.LTrim(ctx, redisListKey, int64(len(vals)), -1).Err(); err != nil {
			logrus.WithError(err).Warn("LTrim failed")
		}
		for _, raw := range vals {
			var n Notice
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				continue
			}
			if err := s.createDirect(ctx, n); err != nil {
				logrus.WithError(err).Error("Notification insert failed")
			}
		}
		if len(vals) < batchSize {
			return
		}
	}
}
