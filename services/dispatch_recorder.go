package services

import (
	"context"
	"time"

	"drivingschool_go/models"
	"drivingschool_go/services/messaging"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DispatchRecorder keeps one MessageDispatch row per idempotency key.
type DispatchRecorder struct {
	db *gorm.DB
}

func NewDispatchRecorder(db *gorm.DB) *DispatchRecorder {
	return &DispatchRecorder{db: db}
}

// Record implements messaging.Recorder. Duplicates leave the original row alone.
func (r *DispatchRecorder) Record(ctx context.Context, msg messaging.Message, res messaging.Result) {
	if res.Status == messaging.StatusDuplicate {
		return
	}
	row := models.MessageDispatch{
		IdempotencyKey: res.Key,
		Channel:        string(msg.Channel),
		Kind:           msg.Kind,
		Recipient:      msg.Recipient,
		Reference:      msg.Reference,
		Status:         res.Status,
		Attempts:       res.Attempts,
		Error:          res.Error,
	}
	if res.Status == messaging.StatusSent {
		now := time.Now()
		row.SentAt = &now
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "attempts", "error", "sent_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		logrus.WithError(err).WithField("key", res.Key).Warn("Failed to record message dispatch")
	}
}
