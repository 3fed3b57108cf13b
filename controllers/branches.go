package controllers

import (
	"drivingschool_go/middleware"
	"drivingschool_go/models"
	"drivingschool_go/services"
	"drivingschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type BranchController struct {
	db       *gorm.DB
	branches *services.BranchService
	exports  *services.ScheduleExportService
}

func NewBranchController(db *gorm.DB, branches *services.BranchService, exports *services.ScheduleExportService) *BranchController {
	return &BranchController{db: db, branches: branches, exports: exports}
}

// GetBranches returns the branches visible to the caller
func (bc *BranchController) GetBranches(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}

	query := bc.db.WithContext(c.UserContext()).Model(&models.Branch{}).Preload("Vehicles", "active = ?", true)
	if claims.Role != utils.RoleOwner {
		query = query.Where("id = ?", claims.BranchID)
	}
	if active := c.Query("active"); active == "true" {
		query = query.Where("active = ?", true)
	} else if active == "false" {
		query = query.Where("active = ?", false)
	}

	var branches []models.Branch
	if err := query.Order("id").Find(&branches).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch branches",
		})
	}
	return c.JSON(fiber.Map{
		"branches": branches,
		"total":    len(branches),
	})
}

// GetSettings returns the branch calendar
func (bc *BranchController) GetSettings(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	settings, err := bc.branches.GetSettings(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"settings": settings})
}

// UpdateSettings commits the calendar first and then reschedules sessions that
// fall on days the branch no longer works.
func (bc *BranchController) UpdateSettings(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req services.BranchSettingsInput
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	out, err := bc.branches.UpdateSettings(c.UserContext(), middleware.ActorFromCtx(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// ExportSessions uploads the branch schedule as xlsx and returns a download link.
func (bc *BranchController) ExportSessions(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	from, err := utils.QueryDate(c, "from")
	if err != nil {
		return respondError(c, err)
	}
	to, err := utils.QueryDate(c, "to")
	if err != nil {
		return respondError(c, err)
	}
	if bc.exports == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Schedule export is not configured",
		})
	}

	export, err := bc.exports.Export(c.UserContext(), id, from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(export)
}
