package routes

import (
	"drivingschool_go/controllers"
	"drivingschool_go/handlers"
	"drivingschool_go/middleware"
	"drivingschool_go/utils"

	"github.com/gofiber/fiber/v2"
)

// Controllers groups every HTTP handler the router mounts
type Controllers struct {
	Health        *controllers.HealthController
	Sessions      *controllers.SessionController
	Clients       *controllers.ClientController
	Branches      *controllers.BranchController
	Notifications *controllers.NotificationController
	Audits        *controllers.AuditController
	WebSocket     *controllers.WebSocketController
	LineWebhook   *handlers.LineWebhookHandler
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, ctl Controllers) {
	app.Get("/health", ctl.Health.GetHealthStatus)

	if ctl.LineWebhook != nil {
		app.Post("/line/webhook", ctl.LineWebhook.Handle)
	}

	// API group, everything below requires a staff token
	api := app.Group("/api", middleware.JWTMiddleware())

	// Sessions
	sessions := api.Group("/sessions")
	sessions.Get("/", ctl.Sessions.GetSessions)
	sessions.Get("/:id", ctl.Sessions.GetSession)
	sessions.Post("/:id/reschedule", ctl.Sessions.RescheduleSession)
	sessions.Patch("/:id/status", ctl.Sessions.UpdateStatus)

	api.Get("/vehicles/:id/availability", ctl.Sessions.CheckAvailability)

	// Clients: enrollment, plan changes and payments
	clients := api.Group("/clients")
	clients.Get("/:id/sessions", ctl.Clients.GetClientSessions)
	clients.Post("/:id/enrollment", ctl.Clients.Enroll)
	clients.Put("/:id/enrollment", ctl.Clients.UpdatePlan)
	clients.Post("/:id/sessions/assign", ctl.Clients.AssignSlot)
	clients.Post("/:id/receipts", ctl.Clients.RecordPayment)

	// Branches
	branches := api.Group("/branches")
	branches.Get("/", ctl.Branches.GetBranches)
	branches.Get("/:id/settings", middleware.RequireBranchParam("id"), ctl.Branches.GetSettings)
	branches.Put("/:id/settings", middleware.RequireOwnerOrAdmin(), middleware.RequireBranchParam("id"), ctl.Branches.UpdateSettings)
	branches.Get("/:id/sessions/export", middleware.RequireOwnerOrAdmin(), middleware.RequireBranchParam("id"), ctl.Branches.ExportSessions)

	// Notifications
	notifications := api.Group("/notifications")
	notifications.Get("/", ctl.Notifications.GetNotifications)
	notifications.Get("/unread-count", ctl.Notifications.GetUnreadCount)
	notifications.Patch("/:id/read", ctl.Notifications.MarkAsRead)

	// Session audit trail (Admin/Owner only)
	audits := api.Group("/audits", middleware.RequireOwnerOrAdmin())
	audits.Get("/", ctl.Audits.GetAudits)
	audits.Get("/archives", ctl.Audits.GetArchives)
	audits.Get("/archives/:id/download", ctl.Audits.DownloadArchive)
	audits.Post("/archives", middleware.RequireRole(utils.RoleOwner), ctl.Audits.ArchiveNow)

	api.Get("/ws/stats", middleware.RequireOwnerOrAdmin(), ctl.WebSocket.GetWebSocketStats)

	// WebSocket connection endpoint, the token travels as a query parameter
	app.Use("/ws", ctl.WebSocket.UpgradeCheck)
	app.Get("/ws", ctl.WebSocket.WebSocketHandler())
}
