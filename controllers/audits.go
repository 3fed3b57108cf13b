package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"drivingschool_go/middleware"
	"drivingschool_go/models"
	"drivingschool_go/services"
	"drivingschool_go/services/scheduling"
	"drivingschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type AuditController struct {
	db       *gorm.DB
	archiver *services.AuditArchiveService
}

func NewAuditController(db *gorm.DB, archiver *services.AuditArchiveService) *AuditController {
	return &AuditController{db: db, archiver: archiver}
}

// AuditResponse represents a session audit entry
type AuditResponse struct {
	ID          uint                   `json:"id"`
	BranchID    uint                   `json:"branch_id"`
	ClientID    uint                   `json:"client_id"`
	ActorUserID uint                   `json:"actor_user_id"`
	Action      string                 `json:"action"`
	Summary     string                 `json:"summary"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// GetAudits retrieves paginated session audits with filters
func (ac *AuditController) GetAudits(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := ac.db.WithContext(c.UserContext()).Model(&models.SessionAudit{})
	if claims.Role != utils.RoleOwner {
		query = query.Where("branch_id = ?", claims.BranchID)
	} else if branchID := c.Query("branch_id"); branchID != "" {
		query = query.Where("branch_id = ?", branchID)
	}
	if clientID := c.Query("client_id"); clientID != "" {
		query = query.Where("client_id = ?", clientID)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}

	from, err := utils.QueryDate(c, "from")
	if err != nil {
		return respondError(c, err)
	}
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from.In(time.Local))
	}
	to, err := utils.QueryDate(c, "to")
	if err != nil {
		return respondError(c, err)
	}
	if !to.IsZero() {
		query = query.Where("created_at < ?", to.AddDays(1).In(time.Local))
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		logrus.WithError(err).Error("Failed to count audits")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve audits count",
		})
	}

	var rows []models.SessionAudit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve audits")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve audits",
		})
	}

	audits := make([]AuditResponse, len(rows))
	for i, row := range rows {
		audits[i] = AuditResponse{
			ID:          row.ID,
			BranchID:    row.BranchID,
			ClientID:    row.ClientID,
			ActorUserID: row.ActorUserID,
			Action:      row.Action,
			Summary:     row.Summary,
			CreatedAt:   row.CreatedAt,
		}
		if len(row.Details) > 0 {
			var details map[string]interface{}
			if err := json.Unmarshal(row.Details, &details); err == nil {
				audits[i].Details = details
			}
		}
	}

	return c.JSON(fiber.Map{
		"audits":      audits,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
	})
}

// GetArchives lists archived audit files (owner/admin)
func (ac *AuditController) GetArchives(c *fiber.Ctx) error {
	archives, err := ac.archiver.ListArchives(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"archives": archives, "total": len(archives)})
}

// DownloadArchive streams an archived zip from object storage
func (ac *AuditController) DownloadArchive(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	body, name, err := ac.archiver.OpenArchive(c.UserContext(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set("Content-Type", "application/zip")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	// fasthttp closes body once streamed
	return c.SendStream(body)
}

// ArchiveNow runs the audit archive outside the schedule (owner only)
func (ac *AuditController) ArchiveNow(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days_old", strconv.Itoa(services.MinAuditRetentionDays)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid days_old"})
	}
	archive, err := ac.archiver.ArchiveOlderThan(c.UserContext(), days)
	if errors.Is(err, scheduling.ErrValidation) {
		return respondError(c, err)
	}
	if err != nil {
		logrus.WithError(err).Warn("Manual audit archive failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "archive": archive})
	}
	if archive.ID == 0 {
		return c.JSON(fiber.Map{"message": "No session audits to archive"})
	}
	return c.JSON(fiber.Map{"message": "Session audits archived", "archive": archive})
}
