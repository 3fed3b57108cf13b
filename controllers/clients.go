package controllers

import (
	"fmt"

	"drivingschool_go/middleware"
	"drivingschool_go/models"
	"drivingschool_go/services"
	"drivingschool_go/services/scheduling"
	"drivingschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ClientController struct {
	db         *gorm.DB
	engine     *scheduling.Engine
	branches   *services.BranchService
	enrollment *services.EnrollmentService
	payments   *services.PaymentService
}

func NewClientController(db *gorm.DB, engine *scheduling.Engine, branches *services.BranchService, enrollment *services.EnrollmentService, payments *services.PaymentService) *ClientController {
	return &ClientController{db: db, engine: engine, branches: branches, enrollment: enrollment, payments: payments}
}

type assignSlotRequest struct {
	VehicleID uint                 `json:"vehicle_id" validate:"required"`
	Date      scheduling.Date      `json:"date"`
	StartTime scheduling.TimeOfDay `json:"start_time"`
}

// GetClientSessions returns every session of a client in date order.
func (cc *ClientController) GetClientSessions(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	client, err := loadClient(c, cc.db, id)
	if err != nil {
		return respondError(c, err)
	}
	sessions, err := cc.engine.ListSessions(c.UserContext(), scheduling.SessionFilter{ClientID: client.ID})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"client_id": client.ID,
		"sessions":  utils.ToSessionDTOs(sessions, directory(c, cc.db, sessions)),
		"total":     len(sessions),
	})
}

// Enroll creates the client's plan and schedules its sessions.
func (cc *ClientController) Enroll(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if _, err := loadClient(c, cc.db, id); err != nil {
		return respondError(c, err)
	}
	var req services.EnrollInput
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	plan, sessions, err := cc.enrollment.Enroll(c.UserContext(), middleware.ActorFromCtx(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"plan":     plan,
		"sessions": utils.ToSessionDTOs(sessions, nil),
	})
}

// UpdatePlan edits the plan and reconciles the client's open sessions.
func (cc *ClientController) UpdatePlan(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if _, err := loadClient(c, cc.db, id); err != nil {
		return respondError(c, err)
	}
	var req services.PlanUpdateInput
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	plan, result, err := cc.enrollment.UpdatePlan(c.UserContext(), middleware.ActorFromCtx(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"plan":      plan,
		"created":   result.Created,
		"deleted":   result.Deleted,
		"preserved": result.Preserved,
		"message":   result.Message,
		"sessions":  utils.ToSessionDTOs(result.Sessions, nil),
	})
}

// AssignSlot books a cancelled session of the client onto an explicit slot.
func (cc *ClientController) AssignSlot(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	client, err := loadClient(c, cc.db, id)
	if err != nil {
		return respondError(c, err)
	}
	var req assignSlotRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	var vehicle models.Vehicle
	if err := cc.db.WithContext(c.UserContext()).First(&vehicle, req.VehicleID).Error; err != nil || vehicle.BranchID != client.BranchID {
		return respondError(c, fmt.Errorf("%w: vehicle %d is not available to this branch", scheduling.ErrValidation, req.VehicleID))
	}
	cfg, err := cc.branches.Config(c.UserContext(), client.BranchID)
	if err != nil {
		return respondError(c, err)
	}

	session, err := cc.engine.AssignSlot(c.UserContext(), middleware.ActorFromCtx(c), client.ID, req.VehicleID, req.Date, req.StartTime, cfg)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"session": utils.ToSessionDTO(session, nil)})
}

// RecordPayment stores a payment and sends the receipt.
func (cc *ClientController) RecordPayment(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if _, err := loadClient(c, cc.db, id); err != nil {
		return respondError(c, err)
	}
	var req services.PaymentInput
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	receipt, err := cc.payments.Record(c.UserContext(), middleware.ActorFromCtx(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(receipt)
}
