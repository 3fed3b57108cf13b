package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"drivingschool_go/config"
	"drivingschool_go/controllers"
	"drivingschool_go/database"
	"drivingschool_go/database/seeders"
	"drivingschool_go/handlers"
	"drivingschool_go/middleware"
	"drivingschool_go/routes"
	"drivingschool_go/services"
	"drivingschool_go/services/messaging"
	"drivingschool_go/services/notifications"
	"drivingschool_go/services/scheduling"
	"drivingschool_go/services/websocket"
	"drivingschool_go/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const (
	serviceName = "Driving School Scheduling API"
	version     = "1.0.0"
)

func main() {
	startedAt := time.Now()

	config.LoadConfig()
	setupLogging(config.AppConfig)

	database.Connect()
	db := database.GetDB()
	rdb := database.GetRedisClient()

	if config.AppConfig.SeedDemoData {
		if err := seeders.SeedAll(db); err != nil {
			logrus.WithError(err).Error("Demo data seeding failed")
		}
	}

	loc, err := time.LoadLocation(config.AppConfig.Timezone)
	if err != nil {
		logrus.WithError(err).WithField("tz", config.AppConfig.Timezone).Warn("Unknown timezone, using local time")
		loc = time.Local
	}

	// WebSocket hub first so notifications can broadcast through it
	wsHub := websocket.NewHub()
	go wsHub.Run()

	notifications.SetDefaultWSHub(wsHub)
	notifService := notifications.NewService()
	stopNotif := make(chan struct{})
	if config.AppConfig.UseRedisNotifications && rdb != nil {
		notifService.StartWorker(stopNotif)
	}

	dispatcher := newDispatcher(config.AppConfig)
	dispatcher.SetRecorder(services.NewDispatchRecorder(db))

	sink := services.NewSessionEventSink(db)
	sink.SetHub(wsHub)
	sink.SetNotifier(notifService)
	sink.SetDispatcher(dispatcher)

	engine := scheduling.NewEngine(database.NewSessionStore(db))
	engine.SetEventSink(sink)
	engine.SetClock(func() time.Time { return time.Now().In(loc) })
	if config.AppConfig.UseRedisLocks && rdb != nil {
		engine.SetLocker(database.NewRedisLocker(rdb))
		logrus.Info("Using Redis locks for client scheduling")
	}

	branchService := services.NewBranchService(db, engine)
	branchService.SetDefaultDuration(config.AppConfig.SessionDurationMinutes)
	enrollmentService := services.NewEnrollmentService(db, engine, branchService)
	paymentService := services.NewPaymentService(db, dispatcher)

	var exportService *services.ScheduleExportService
	if store, err := storage.NewStorageService(); err != nil {
		logrus.WithError(err).Warn("S3 unavailable: schedule export disabled")
	} else {
		exportService = services.NewScheduleExportService(db, engine, store)
	}
	archiver := services.NewAuditArchiveService(db, config.AppConfig.AWSRegion, config.AppConfig.S3BucketName)

	jobs := services.NewSessionJobs(db, engine)
	jobs.SetNotifier(notifService)
	jobs.SetDispatcher(dispatcher)
	scheduleManager := services.NewScheduleManager(jobs, archiver)
	if err := scheduleManager.Start(services.JobSchedule{
		Reminder:           config.AppConfig.ReminderCron,
		NoShow:             config.AppConfig.NoShowCron,
		Archive:            config.AppConfig.ArchiveCron,
		AuditRetentionDays: config.AppConfig.AuditRetentionDays,
		Location:           loc,
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to start background jobs")
	}

	healthService := services.NewHealthService(serviceName, version)
	healthService.SetBackends(db, rdb, config.AppConfig)
	healthService.SetStartTime(startedAt)
	healthService.SetToday(engine.Today)

	lineWebhook, err := handlers.NewLineWebhookHandler(db, config.AppConfig.LineChannelSecret, config.AppConfig.LineChannelAccessToken)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up LINE webhook")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    config.AppConfig.BodySize,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))
	app.Use(middleware.RequestID())
	app.Use(middleware.LoggerMiddleware())

	routes.SetupRoutes(app, routes.Controllers{
		Health:        controllers.NewHealthController(healthService),
		Sessions:      controllers.NewSessionController(db, engine, branchService),
		Clients:       controllers.NewClientController(db, engine, branchService, enrollmentService, paymentService),
		Branches:      controllers.NewBranchController(db, branchService, exportService),
		Notifications: controllers.NewNotificationController(db),
		Audits:        controllers.NewAuditController(db, archiver),
		WebSocket:     controllers.NewWebSocketController(wsHub),
		LineWebhook:   lineWebhook,
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Warn("Server shutdown did not finish cleanly")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":    config.AppConfig.Port,
		"env":     config.AppConfig.AppEnv,
		"version": version,
		"tz":      loc.String(),
	}).Info("Server starting")

	if err := app.Listen(":" + config.AppConfig.Port); err != nil {
		logrus.WithError(err).Error("Server stopped")
	}

	scheduleManager.Stop()
	close(stopNotif)
	sink.Wait()
	database.Close()
	logrus.Info("Shutdown complete")
}

// newDispatcher registers a sender per configured channel
func newDispatcher(cfg *config.Config) *messaging.Dispatcher {
	var keys messaging.IdempotencyStore
	if rdb := database.GetRedisClient(); rdb != nil {
		keys = database.NewRedisKeys(rdb)
	} else {
		keys = messaging.NewMemoryKeys()
	}

	d := messaging.NewDispatcher(keys)
	d.SetRetry(cfg.DispatchMaxAttempts, cfg.DispatchBackoff)

	if cfg.WhatsAppPhoneNumberID != "" && cfg.WhatsAppToken != "" {
		d.Register(messaging.ChannelWhatsApp, messaging.NewWhatsAppSender(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneNumberID, cfg.WhatsAppToken))
	} else {
		logrus.Warn("WhatsApp credentials missing: WhatsApp messages disabled")
	}

	line, err := messaging.NewLineSender(cfg.LineChannelSecret, cfg.LineChannelAccessToken)
	switch {
	case err != nil:
		logrus.WithError(err).Warn("LINE messages disabled")
	case line != nil:
		d.Register(messaging.ChannelLine, line)
	}
	return d
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// Log to stdout in development, to the log file elsewhere
	if cfg.AppEnv == "development" || cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		logrus.WithError(err).Warn("Could not create log directory")
		return
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(file)
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"error":      err.Error(),
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"status":     code,
		"request_id": c.Locals("request_id"),
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
