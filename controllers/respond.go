package controllers

import (
	"errors"

	"drivingschool_go/middleware"
	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"
	"drivingschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// respondError maps service errors to HTTP responses.
func respondError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	var ve *utils.ValidationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "Validation failed",
			"fields": ve.Fields,
		})
	}

	if ce, ok := scheduling.IsCapacity(err); ok {
		body := fiber.Map{"error": err.Error()}
		if ce != nil {
			body["requested"] = ce.Requested
			body["touched"] = ce.Touched
			if ce.Reason != "" {
				body["error"] = ce.Reason
			}
		}
		return c.Status(fiber.StatusConflict).JSON(body)
	}

	switch {
	case errors.Is(err, scheduling.ErrValidation), errors.Is(err, scheduling.ErrInvalidTransition):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, scheduling.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	logrus.WithError(err).WithFields(logrus.Fields{"path": c.Path(), "method": c.Method()}).Error("Request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	return utils.ValidateStruct(out)
}

// loadClient fetches a client the caller is allowed to see.
func loadClient(c *fiber.Ctx, db *gorm.DB, id uint) (models.Client, error) {
	var client models.Client
	if err := db.WithContext(c.UserContext()).First(&client, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return client, fiber.NewError(fiber.StatusNotFound, "Client not found")
		}
		return client, err
	}
	if !middleware.CanAccessBranch(c, client.BranchID) {
		return client, fiber.NewError(fiber.StatusForbidden, "Client belongs to another branch")
	}
	return client, nil
}

// directory loads client and vehicle names referenced by sessions.
func directory(c *fiber.Ctx, db *gorm.DB, sessions []scheduling.Session) *utils.Directory {
	dir := &utils.Directory{Clients: map[uint]string{}, Vehicles: map[uint]string{}}
	if len(sessions) == 0 {
		return dir
	}
	var clientIDs, vehicleIDs []uint
	for _, s := range sessions {
		clientIDs = append(clientIDs, s.ClientID)
		vehicleIDs = append(vehicleIDs, s.VehicleID)
	}

	var clients []models.Client
	if err := db.WithContext(c.UserContext()).Select("id", "full_name").Where("id IN ?", clientIDs).Find(&clients).Error; err == nil {
		for _, cl := range clients {
			dir.Clients[cl.ID] = cl.FullName
		}
	}
	var vehicles []models.Vehicle
	if err := db.WithContext(c.UserContext()).Select("id", "registration_number").Where("id IN ?", vehicleIDs).Find(&vehicles).Error; err == nil {
		for _, v := range vehicles {
			dir.Vehicles[v.ID] = v.RegistrationNumber
		}
	}
	return dir
}
