package services

import (
	"context"
	"errors"
	"fmt"

	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"

	"gorm.io/gorm"
)

// EnrollInput creates a client's plan and first sessions.
type EnrollInput struct {
	VehicleID                uint                 `json:"vehicle_id" validate:"required"`
	JoiningDate              scheduling.Date      `json:"joining_date"`
	JoiningTime              scheduling.TimeOfDay `json:"joining_time"`
	NumberOfSessions         int                  `json:"number_of_sessions" validate:"required,min=1,max=200"`
	SessionDurationInMinutes int                  `json:"session_duration_in_minutes" validate:"omitempty,min=5,max=240"`
	TotalFee                 int64                `json:"total_fee" validate:"min=0"`
}

// PlanUpdateInput edits an existing plan. Nil fields keep their value.
type PlanUpdateInput struct {
	VehicleID                *uint                 `json:"vehicle_id"`
	JoiningTime              *scheduling.TimeOfDay `json:"joining_time"`
	NumberOfSessions         *int                  `json:"number_of_sessions" validate:"omitempty,min=0,max=200"`
	SessionDurationInMinutes *int                  `json:"session_duration_in_minutes" validate:"omitempty,min=5,max=240"`
}

// EnrollmentService keeps EnrollmentPlan rows and the scheduled sessions in step.
type EnrollmentService struct {
	db       *gorm.DB
	engine   *scheduling.Engine
	branches *BranchService
}

func NewEnrollmentService(db *gorm.DB, engine *scheduling.Engine, branches *BranchService) *EnrollmentService {
	return &EnrollmentService{db: db, engine: engine, branches: branches}
}

func (s *EnrollmentService) loadClient(ctx context.Context, clientID uint) (models.Client, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return client, fmt.Errorf("%w: client %d", scheduling.ErrNotFound, clientID)
		}
		return client, err
	}
	return client, nil
}

func (s *EnrollmentService) checkVehicle(ctx context.Context, vehicleID, branchID uint) error {
	var vehicle models.Vehicle
	err := s.db.WithContext(ctx).First(&vehicle, vehicleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: vehicle %d", scheduling.ErrNotFound, vehicleID)
	}
	if err != nil {
		return err
	}
	if vehicle.BranchID != branchID {
		return fmt.Errorf("%w: vehicle %d belongs to another branch", scheduling.ErrValidation, vehicleID)
	}
	if !vehicle.Active {
		return fmt.Errorf("%w: vehicle %d is not active", scheduling.ErrValidation, vehicleID)
	}
	return nil
}

// Enroll stores the plan and generates its sessions.
func (s *EnrollmentService) Enroll(ctx context.Context, actor scheduling.Actor, clientID uint, in EnrollInput) (models.EnrollmentPlan, []scheduling.Session, error) {
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return models.EnrollmentPlan{}, nil, err
	}
	if err := s.checkVehicle(ctx, in.VehicleID, client.BranchID); err != nil {
		return models.EnrollmentPlan{}, nil, err
	}
	settings, err := s.branches.GetSettings(ctx, client.BranchID)
	if err != nil {
		return models.EnrollmentPlan{}, nil, err
	}
	cfg, err := settings.Config()
	if err != nil {
		return models.EnrollmentPlan{}, nil, err
	}

	plan := models.EnrollmentPlan{
		ClientID:                 client.ID,
		BranchID:                 client.BranchID,
		VehicleID:                in.VehicleID,
		JoiningDate:              in.JoiningDate,
		JoiningTime:              in.JoiningTime,
		NumberOfSessions:         in.NumberOfSessions,
		SessionDurationInMinutes: in.SessionDurationInMinutes,
		TotalFee:                 in.TotalFee,
	}
	if plan.SessionDurationInMinutes == 0 {
		plan.SessionDurationInMinutes = settings.SessionDurationMinutes
	}
	if plan.JoiningDate.Before(s.engine.Today()) {
		return plan, nil, fmt.Errorf("%w: joining date %s is in the past", scheduling.ErrValidation, plan.JoiningDate)
	}

	var existing models.EnrollmentPlan
	err = s.db.WithContext(ctx).Where("client_id = ?", client.ID).First(&existing).Error
	if err == nil {
		plan.ID = existing.ID
		plan.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return plan, nil, err
	}

	sessions, err := s.engine.EnrollClient(ctx, actor, plan.ToScheduling(), cfg, s.savePlan(&plan))
	if err != nil {
		return plan, nil, err
	}
	return plan, sessions, nil
}

// UpdatePlan applies the edit and reconciles the client's sessions to it.
func (s *EnrollmentService) UpdatePlan(ctx context.Context, actor scheduling.Actor, clientID uint, in PlanUpdateInput) (models.EnrollmentPlan, scheduling.ReconcileResult, error) {
	var plan models.EnrollmentPlan
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plan, scheduling.ReconcileResult{}, fmt.Errorf("%w: client %d has no plan", scheduling.ErrNotFound, clientID)
		}
		return plan, scheduling.ReconcileResult{}, err
	}

	if in.VehicleID != nil && *in.VehicleID != plan.VehicleID {
		if err := s.checkVehicle(ctx, *in.VehicleID, plan.BranchID); err != nil {
			return plan, scheduling.ReconcileResult{}, err
		}
		plan.VehicleID = *in.VehicleID
	}
	if in.JoiningTime != nil {
		plan.JoiningTime = *in.JoiningTime
	}
	if in.NumberOfSessions != nil {
		plan.NumberOfSessions = *in.NumberOfSessions
	}
	if in.SessionDurationInMinutes != nil {
		plan.SessionDurationInMinutes = *in.SessionDurationInMinutes
	}

	cfg, err := s.branches.Config(ctx, plan.BranchID)
	if err != nil {
		return plan, scheduling.ReconcileResult{}, err
	}
	result, err := s.engine.ReconcilePlan(ctx, actor, plan.ToScheduling(), cfg, s.savePlan(&plan))
	if err != nil {
		return plan, result, err
	}
	return plan, result, nil
}

// savePlan writes the plan in the same transaction as its sessions.
func (s *EnrollmentService) savePlan(plan *models.EnrollmentPlan) scheduling.TxHook {
	return func(ctx context.Context, tx scheduling.Store) error {
		db := s.db
		if store, ok := tx.(interface{ DB() *gorm.DB }); ok {
			db = store.DB()
		}
		if err := db.WithContext(ctx).Save(plan).Error; err != nil {
			return fmt.Errorf("save enrollment plan: %w", err)
		}
		return nil
	}
}
