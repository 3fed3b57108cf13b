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

type SessionController struct {
	db       *gorm.DB
	engine   *scheduling.Engine
	branches *services.BranchService
}

func NewSessionController(db *gorm.DB, engine *scheduling.Engine, branches *services.BranchService) *SessionController {
	return &SessionController{db: db, engine: engine, branches: branches}
}

type statusUpdateRequest struct {
	Status string `json:"status" validate:"required"`
}

// GetSessions lists sessions with optional filters. Non-owners only see their branch.
func (sc *SessionController) GetSessions(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}

	var filter scheduling.SessionFilter
	if filter.BranchID, err = utils.QueryUint(c, "branch_id"); err != nil {
		return respondError(c, err)
	}
	if filter.ClientID, err = utils.QueryUint(c, "client_id"); err != nil {
		return respondError(c, err)
	}
	if filter.VehicleID, err = utils.QueryUint(c, "vehicle_id"); err != nil {
		return respondError(c, err)
	}
	if filter.FromDate, err = utils.QueryDate(c, "from"); err != nil {
		return respondError(c, err)
	}
	if filter.ToDate, err = utils.QueryDate(c, "to"); err != nil {
		return respondError(c, err)
	}
	if filter.Statuses, err = utils.QueryStatuses(c, "status"); err != nil {
		return respondError(c, err)
	}

	if claims.Role != utils.RoleOwner {
		if filter.BranchID != 0 && filter.BranchID != claims.BranchID {
			return respondError(c, fiber.NewError(fiber.StatusForbidden, "Branch is outside your scope"))
		}
		filter.BranchID = claims.BranchID
	}

	sessions, err := sc.engine.ListSessions(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"sessions": utils.ToSessionDTOs(sessions, directory(c, sc.db, sessions)),
		"total":    len(sessions),
	})
}

func (sc *SessionController) loadSession(c *fiber.Ctx) (scheduling.Session, error) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return scheduling.Session{}, err
	}
	session, err := sc.engine.GetSession(c.UserContext(), id)
	if err != nil {
		return session, err
	}
	if !middleware.CanAccessBranch(c, session.BranchID) {
		return session, fiber.NewError(fiber.StatusForbidden, "Session belongs to another branch")
	}
	return session, nil
}

// GetSession returns a specific session by ID
func (sc *SessionController) GetSession(c *fiber.Ctx) error {
	session, err := sc.loadSession(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"session": utils.ToSessionDTO(session, directory(c, sc.db, []scheduling.Session{session})),
	})
}

// RescheduleSession moves a missed or cancelled session to the next free slot.
func (sc *SessionController) RescheduleSession(c *fiber.Ctx) error {
	session, err := sc.loadSession(c)
	if err != nil {
		return respondError(c, err)
	}
	cfg, err := sc.branches.Config(c.UserContext(), session.BranchID)
	if err != nil {
		return respondError(c, err)
	}
	updated, err := sc.engine.RescheduleSession(c.UserContext(), middleware.ActorFromCtx(c), session.ID, cfg)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Session moved to %s", updated.SessionDate),
		"session": utils.ToSessionDTO(updated, nil),
	})
}

// UpdateStatus applies a lifecycle transition
func (sc *SessionController) UpdateStatus(c *fiber.Ctx) error {
	session, err := sc.loadSession(c)
	if err != nil {
		return respondError(c, err)
	}
	var req statusUpdateRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	status, err := scheduling.ParseStatus(req.Status)
	if err != nil {
		return respondError(c, err)
	}
	updated, err := sc.engine.UpdateStatus(c.UserContext(), middleware.ActorFromCtx(c), session.ID, status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"session": utils.ToSessionDTO(updated, nil)})
}

// CheckAvailability answers whether a vehicle slot is free on a date.
func (sc *SessionController) CheckAvailability(c *fiber.Ctx) error {
	vehicleID, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var vehicle models.Vehicle
	if err := sc.db.WithContext(c.UserContext()).First(&vehicle, vehicleID).Error; err != nil {
		return respondError(c, fiber.NewError(fiber.StatusNotFound, "Vehicle not found"))
	}
	if !middleware.CanAccessBranch(c, vehicle.BranchID) {
		return respondError(c, fiber.NewError(fiber.StatusForbidden, "Vehicle belongs to another branch"))
	}

	date, err := scheduling.ParseDate(c.Query("date"))
	if err != nil {
		return respondError(c, err)
	}
	start, err := scheduling.ParseTimeOfDay(c.Query("start_time"))
	if err != nil {
		return respondError(c, err)
	}
	cfg, err := sc.branches.Config(c.UserContext(), vehicle.BranchID)
	if err != nil {
		return respondError(c, err)
	}
	booked, err := sc.engine.ListSessions(c.UserContext(), scheduling.SessionFilter{VehicleID: vehicleID, FromDate: date, ToDate: date})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"vehicle_id": vehicleID,
		"date":       date,
		"start_time": start,
		"available":  scheduling.IsSlotAvailable(vehicleID, date, start, booked, cfg),
	})
}
