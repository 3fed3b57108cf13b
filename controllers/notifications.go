package controllers

import (
	"strconv"
	"time"

	"drivingschool_go/middleware"
	"drivingschool_go/models"
	"drivingschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type NotificationController struct {
	db *gorm.DB
}

func NewNotificationController(db *gorm.DB) *NotificationController {
	return &NotificationController{db: db}
}

// visible scopes a query to the caller's own and branch-wide notifications.
func (nc *NotificationController) visible(c *fiber.Ctx, claims *middleware.Claims) *gorm.DB {
	return nc.db.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? OR (user_id IS NULL AND branch_id = ?)", claims.UserID, claims.BranchID)
}

// GetNotifications returns notifications for the current user
func (nc *NotificationController) GetNotifications(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	offset := (page - 1) * limit

	query := nc.visible(c, claims)
	if read := c.Query("read"); read == "true" {
		query = query.Where(map[string]interface{}{"read": true})
	} else if read == "false" {
		query = query.Where(map[string]interface{}{"read": false})
	}
	if notificationType := c.Query("type"); notificationType != "" {
		query = query.Where("type = ?", notificationType)
	}

	var total int64
	query.Session(&gorm.Session{}).Count(&total)

	var notifications []models.Notification
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&notifications).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch notifications",
		})
	}

	dtos := make([]utils.NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, utils.ToNotificationDTO(n))
	}
	return c.JSON(fiber.Map{
		"notifications": dtos,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// MarkAsRead marks a notification as read
func (nc *NotificationController) MarkAsRead(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	var notification models.Notification
	if err := nc.visible(c, claims).Where("id = ?", id).First(&notification).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Notification not found",
		})
	}

	now := time.Now()
	if err := nc.db.WithContext(c.UserContext()).Model(&notification).
		Updates(map[string]interface{}{"read": true, "read_at": now}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to mark notification as read",
		})
	}
	notification.Read = true
	notification.ReadAt = &now
	return c.JSON(fiber.Map{"notification": utils.ToNotificationDTO(notification)})
}

// GetUnreadCount returns the count of unread notifications
func (nc *NotificationController) GetUnreadCount(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}
	var count int64
	nc.visible(c, claims).Where(map[string]interface{}{"read": false}).Count(&count)
	return c.JSON(fiber.Map{"unread_count": count})
}
