package controllers

import (
	"drivingschool_go/middleware"
	"drivingschool_go/services/websocket"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{
		hub: hub,
	}
}

// UpgradeCheck rejects plain HTTP requests on the websocket path
func (wsc *WebSocketController) UpgradeCheck(c *fiber.Ctx) error {
	if fiberws.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketHandler returns a Fiber WebSocket handler that validates the JWT and joins the hub
func (wsc *WebSocketController) WebSocketHandler() fiber.Handler {
	return fiberws.New(func(c *fiberws.Conn) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("WebSocket handler panic")
			}
		}()

		token := c.Query("token")
		if token == "" {
			logrus.Warn("WebSocket connection rejected: missing token")
			_ = c.WriteMessage(fiberws.CloseMessage, []byte("Missing token"))
			_ = c.Close()
			return
		}

		claims, err := middleware.ParseToken(token)
		if err != nil {
			logrus.WithError(err).Warn("WebSocket connection rejected: invalid token")
			_ = c.WriteMessage(fiberws.CloseMessage, []byte("Invalid token"))
			_ = c.Close()
			return
		}

		logrus.WithFields(logrus.Fields{
			"user_id":   claims.UserID,
			"branch_id": claims.BranchID,
			"role":      claims.Role,
		}).Info("WebSocket connection established")

		wsc.hub.ServeFiberWS(c, claims.UserID, claims.BranchID)
	})
}

// GetWebSocketStats returns WebSocket connection statistics (admin only)
func (wsc *WebSocketController) GetWebSocketStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connected_clients": wsc.hub.GetClientCount(),
		"status":            "active",
	})
}
