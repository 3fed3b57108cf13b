package services

import (
	"context"
	"errors"
	"fmt"

	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultWorkingDays is Monday to Saturday.
var DefaultWorkingDays = []int{1, 2, 3, 4, 5, 6}

// BranchSettingsInput is a partial update of a branch calendar. Nil fields keep
// their stored value.
type BranchSettingsInput struct {
	WorkingDays            []int                 `json:"working_days" validate:"omitempty,min=1,dive,min=0,max=6"`
	OpenTime               *scheduling.TimeOfDay `json:"open_time"`
	CloseTime              *scheduling.TimeOfDay `json:"close_time"`
	SessionDurationMinutes *int                  `json:"session_duration_minutes" validate:"omitempty,min=5,max=240"`
}

// BranchSettingsUpdate is what PUT /branches/:id/settings returns. Settings are
// committed even when the reschedule that follows fails.
type BranchSettingsUpdate struct {
	Settings        models.BranchSettings        `json:"settings"`
	Rescheduled     *scheduling.RescheduleResult `json:"rescheduled,omitempty"`
	RescheduleError string                       `json:"reschedule_error,omitempty"`
}

// BranchService owns branch calendars and applies calendar changes to
// already scheduled sessions.
type BranchService struct {
	db              *gorm.DB
	engine          *scheduling.Engine
	defaultDuration int
}

func NewBranchService(db *gorm.DB, engine *scheduling.Engine) *BranchService {
	return &BranchService{db: db, engine: engine, defaultDuration: scheduling.DefaultSessionDuration}
}

// SetDefaultDuration sets the lesson length used for branches without settings.
func (s *BranchService) SetDefaultDuration(minutes int) {
	if minutes > 0 {
		s.defaultDuration = minutes
	}
}

func (s *BranchService) defaultSettings(branchID uint) models.BranchSettings {
	settings := models.BranchSettings{
		BranchID:               branchID,
		OpenTime:               scheduling.Clock(8, 0),
		CloseTime:              scheduling.Clock(18, 0),
		SessionDurationMinutes: s.defaultDuration,
	}
	_ = settings.SetDays(DefaultWorkingDays)
	return settings
}

// GetSettings returns the stored calendar, or the defaults when the branch
// has never been configured.
func (s *BranchService) GetSettings(ctx context.Context, branchID uint) (models.BranchSettings, error) {
	db := s.db.WithContext(ctx)
	var branch models.Branch
	if err := db.Select("id").First(&branch, branchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.BranchSettings{}, fmt.Errorf("%w: branch %d", scheduling.ErrNotFound, branchID)
		}
		return models.BranchSettings{}, err
	}

	var settings models.BranchSettings
	err := db.Where("branch_id = ?", branchID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.defaultSettings(branchID), nil
	}
	if err != nil {
		return models.BranchSettings{}, err
	}
	return settings, nil
}

// Config returns the scheduling calendar for a branch.
func (s *BranchService) Config(ctx context.Context, branchID uint) (scheduling.BranchConfig, error) {
	settings, err := s.GetSettings(ctx, branchID)
	if err != nil {
		return scheduling.BranchConfig{}, err
	}
	return settings.Config()
}

// UpdateSettings commits the new calendar and then, when working days were
// submitted, moves future sessions off days the branch no longer works.
func (s *BranchService) UpdateSettings(ctx context.Context, actor scheduling.Actor, branchID uint, in BranchSettingsInput) (BranchSettingsUpdate, error) {
	settings, err := s.GetSettings(ctx, branchID)
	if err != nil {
		return BranchSettingsUpdate{}, err
	}

	if in.WorkingDays != nil {
		if err := scheduling.ValidateWorkingDays(in.WorkingDays); err != nil {
			return BranchSettingsUpdate{}, err
		}
		if err := settings.SetDays(in.WorkingDays); err != nil {
			return BranchSettingsUpdate{}, err
		}
	}
	if in.OpenTime != nil {
		settings.OpenTime = *in.OpenTime
	}
	if in.CloseTime != nil {
		settings.CloseTime = *in.CloseTime
	}
	if in.SessionDurationMinutes != nil {
		settings.SessionDurationMinutes = *in.SessionDurationMinutes
	}
	if settings.OpenTime >= settings.CloseTime {
		return BranchSettingsUpdate{}, fmt.Errorf("%w: open time %s must be before close time %s",
			scheduling.ErrValidation, settings.OpenTime, settings.CloseTime)
	}
	if settings.SessionDurationMinutes <= 0 {
		return BranchSettingsUpdate{}, fmt.Errorf("%w: session duration must be positive", scheduling.ErrValidation)
	}
	settings.UpdatedByUserID = actor.UserID

	if err := s.db.WithContext(ctx).Save(&settings).Error; err != nil {
		return BranchSettingsUpdate{}, fmt.Errorf("save branch settings: %w", err)
	}
	out := BranchSettingsUpdate{Settings: settings}

	if in.WorkingDays == nil {
		return out, nil
	}
	result, err := s.engine.RescheduleForWorkingDaysChange(ctx, actor, branchID, in.WorkingDays)
	if err != nil {
		logrus.WithError(err).WithField("branch_id", branchID).Error("Settings saved but reschedule failed")
		out.RescheduleError = err.Error()
		return out, nil
	}
	out.Rescheduled = &result
	return out, nil
}
