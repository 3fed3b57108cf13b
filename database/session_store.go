package database

import (
	"context"
	"errors"
	"fmt"

	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"

	"gorm.io/gorm"
)

// SessionStore is the GORM implementation of scheduling.Store.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// DB returns the handle the store writes through. Inside Transaction it is
// the transaction.
func (s *SessionStore) DB() *gorm.DB { return s.db }

func (s *SessionStore) ListSessions(ctx context.Context, f scheduling.SessionFilter) ([]scheduling.Session, error) {
	q := s.db.WithContext(ctx).Model(&models.Session{})
	if f.BranchID != 0 {
		q = q.Where("branch_id = ?", f.BranchID)
	}
	if f.VehicleID != 0 {
		q = q.Where("vehicle_id = ?", f.VehicleID)
	}
	if f.ClientID != 0 {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if !f.FromDate.IsZero() {
		q = q.Where("session_date >= ?", f.FromDate)
	}
	if !f.ToDate.IsZero() {
		q = q.Where("session_date <= ?", f.ToDate)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}

	var rows []models.Session
	if err := q.Order("session_date ASC, start_time ASC, session_number ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]scheduling.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToScheduling())
	}
	return out, nil
}

func (s *SessionStore) InsertSessions(ctx context.Context, sessions []scheduling.Session) ([]scheduling.Session, error) {
	if len(sessions) == 0 {
		return []scheduling.Session{}, nil
	}
	rows := make([]models.Session, 0, len(sessions))
	for _, sess := range sessions {
		row := models.SessionFromScheduling(sess)
		row.ID = 0
		rows = append(rows, row)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("insert sessions: %w", err)
	}
	out := make([]scheduling.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToScheduling())
	}
	return out, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, id uint, p scheduling.SessionPatch) (scheduling.Session, error) {
	db := s.db.WithContext(ctx)

	var row models.Session
	if err := db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return scheduling.Session{}, fmt.Errorf("%w: session %d", scheduling.ErrNotFound, id)
		}
		return scheduling.Session{}, fmt.Errorf("load session %d: %w", id, err)
	}

	updates := map[string]interface{}{}
	if p.SessionDate != nil {
		updates["session_date"] = *p.SessionDate
	}
	if p.StartTime != nil {
		updates["start_time"] = *p.StartTime
	}
	if p.EndTime != nil {
		updates["end_time"] = *p.EndTime
	}
	if p.VehicleID != nil {
		updates["vehicle_id"] = *p.VehicleID
	}
	if p.Status != nil {
		updates["status"] = *p.Status
	}
	if p.OriginalSessionID != nil {
		updates["original_session_id"] = *p.OriginalSessionID
	}
	if len(updates) == 0 {
		return row.ToScheduling(), nil
	}

	if err := db.Model(&row).Updates(updates).Error; err != nil {
		return scheduling.Session{}, fmt.Errorf("update session %d: %w", id, err)
	}
	if err := db.First(&row, id).Error; err != nil {
		return scheduling.Session{}, fmt.Errorf("reload session %d: %w", id, err)
	}
	return row.ToScheduling(), nil
}

func (s *SessionStore) DeleteSessions(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func (s *SessionStore) Transaction(ctx context.Context, fn func(tx scheduling.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SessionStore{db: tx})
	})
}
