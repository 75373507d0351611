package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tesseract-Nexus/go-shared/rbac"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"authorization-service/internal/cache"
	"authorization-service/internal/clients"
	"authorization-service/internal/clock"
	"authorization-service/internal/config"
	"authorization-service/internal/events"
	"authorization-service/internal/handlers"
	"authorization-service/internal/jobs"
	"authorization-service/internal/middleware"
	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"authorization-service/internal/seeders"
	"authorization-service/internal/services"
)

// @title Real Estate Authorization API
// @version 1.0.0
// @description Multi-level authorization workflows for real estate projects: authorization matrix, delegations and escalations
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.example.com/support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8099
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	log := logrus.NewEntry(logger).WithField("service", "authorization-service")

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.Workflow{},
		&models.WorkflowStep{},
		&models.AuthorizationMatrixRule{},
		&models.AuthorityDelegation{},
		&models.EscalationPolicy{},
		&models.EscalationRecord{},
		&models.WorkflowNotification{},
		&models.WorkflowHistory{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Initialize repository
	workflowRepo := repository.NewWorkflowRepository(db)

	if cfg.SeedDefaults {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := seeders.SeedMatrixRules(seedCtx, workflowRepo, log); err != nil {
			logger.Warnf("Failed to seed authorization matrix: %v", err)
		}
		if err := seeders.SeedEscalationPolicies(seedCtx, workflowRepo, log); err != nil {
			logger.Warnf("Failed to seed escalation policies: %v", err)
		}
		seedCancel()
	}

	// Initialize event publisher (optional - service works without NATS)
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		publisher, err = events.Connect(ctx, cfg.NATSURL, logger)
		cancel()
		if err != nil {
			logger.Warnf("Failed to initialize event publisher: %v. Events will not be published.", err)
			publisher = nil
		} else {
			logger.Info("Event publisher initialized")
		}
	} else {
		logger.Info("NATS_URL not configured, event publishing disabled")
	}

	// User directory backed by staff-service, cached in Redis when available
	staffDirectory := clients.NewStaffDirectory(cfg.StaffServiceURL, 10*time.Second, logger)
	userDirectory := cache.NewUserCache(cache.Connect(cfg.RedisURL, logger), staffDirectory, cfg.UserCacheTTL, logger)

	// Initialize services
	clk := clock.Real()
	matrixService := services.NewMatrixService(workflowRepo, cfg.MatrixCacheTTL, clk, log)
	delegationService := services.NewDelegationService(workflowRepo, clk, log)
	notificationService := services.NewNotificationService(workflowRepo, clk)
	engine := services.NewWorkflowEngine(workflowRepo, matrixService, userDirectory, publisher, clk, log,
		services.ZeroRulePolicy(cfg.ZeroRulePolicy))

	// Escalation job; the admin endpoint can trigger sweeps even when the
	// schedule is disabled
	escalationJob := jobs.NewEscalationJob(workflowRepo, userDirectory, publisher, clk, logger,
		cfg.EscalationInterval, cfg.EscalationStartDelay)
	jobCtx, jobCancel := context.WithCancel(context.Background())
	if cfg.EscalationEnabled {
		escalationJob.Start(jobCtx)
		logger.Info("Escalation job started")
	} else {
		logger.Info("Escalation schedule disabled")
	}

	// Initialize handlers
	workflowHandler := handlers.NewWorkflowHandler(engine, log)
	delegationHandler := handlers.NewDelegationHandler(delegationService, log)
	matrixHandler := handlers.NewMatrixHandler(matrixService, log)
	notificationHandler := handlers.NewNotificationHandler(notificationService, log)
	escalationHandler := handlers.NewEscalationHandler(escalationJob, workflowRepo, clk, log)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck)

	// Protected API routes
	api := router.Group("/api/v1")
	// Staff-service permissions are layered on top of role capabilities when
	// identity comes from the mesh
	rbacMiddleware := rbac.NewMiddlewareWithURL(cfg.StaffServiceURL, nil)
	permission := func(check gin.HandlerFunc) gin.HandlerFunc {
		if cfg.AuthMode != config.AuthModeIstio {
			return func(c *gin.Context) { c.Next() }
		}
		return check
	}

	if cfg.AuthMode == config.AuthModeIstio {
		api.Use(middleware.IstioAuth()...)
	} else {
		api.Use(middleware.Auth(middleware.AuthConfig{
			JWTSecret:    cfg.JWTSecret,
			TrustHeaders: cfg.AuthTrustHeaders,
		}))
	}

	// Workflow endpoints
	{
		api.POST("/workflows", permission(rbacMiddleware.RequirePermission(rbac.PermissionApprovalsCreate)), workflowHandler.CreateWorkflow)
		api.GET("/workflows", workflowHandler.ListWorkflows)
		api.GET("/workflows/pending", middleware.RequireCapability(models.CapApprove), permission(rbacMiddleware.RequirePermission(rbac.PermissionApprovalsRead)), workflowHandler.ListPending)
		api.GET("/workflows/:id", workflowHandler.GetWorkflow)
		api.GET("/workflows/:id/history", permission(rbacMiddleware.RequirePermission(rbac.PermissionApprovalsRead)), workflowHandler.GetHistory)
		api.POST("/workflows/:id/cancel", workflowHandler.CancelWorkflow) // Only requester can cancel
		api.POST("/workflow-steps/:id/action", permission(rbacMiddleware.RequirePermission(rbac.PermissionApprovalsApprove)), workflowHandler.ProcessStep)
	}

	// Delegation endpoints
	{
		api.POST("/delegations", middleware.RequireCapability(models.CapApprove), delegationHandler.CreateDelegation)
		api.GET("/delegations/outgoing", delegationHandler.ListOutgoing)
		api.GET("/delegations/incoming", delegationHandler.ListIncoming)
		api.GET("/delegations/:id", delegationHandler.GetDelegation)
		api.POST("/delegations/:id/revoke", delegationHandler.RevokeDelegation)
	}

	// Notification endpoints
	{
		api.GET("/notifications", notificationHandler.ListNotifications)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)
	}

	// Admin endpoints for matrix and escalation management
	admin := api.Group("/admin")
	{
		admin.Use(permission(rbacMiddleware.RequirePermission(rbac.PermissionApprovalsManage)))

		manageMatrix := middleware.RequireCapability(models.CapManageMatrix)
		admin.GET("/matrix-rules", manageMatrix, matrixHandler.ListRules)
		admin.POST("/matrix-rules", manageMatrix, matrixHandler.CreateRule)
		admin.POST("/matrix-rules/:id/deactivate", manageMatrix, matrixHandler.DeactivateRule)

		triggerEscalation := middleware.RequireCapability(models.CapTriggerEscalation)
		admin.POST("/escalations/run", triggerEscalation, escalationHandler.RunSweep)
		admin.GET("/escalations/stats", triggerEscalation, escalationHandler.GetStats)
		admin.GET("/escalations/report", triggerEscalation, escalationHandler.ExportReport)
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infof("Authorization service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Stop escalation job
	jobCancel()
	if cfg.EscalationEnabled {
		escalationJob.Stop()
		logger.Info("Escalation job stopped")
	}

	publisher.Close()
	if err := userDirectory.Close(); err != nil {
		logger.Warnf("Failed to close user cache: %v", err)
	}

	logger.Info("Server shutdown complete")
}
