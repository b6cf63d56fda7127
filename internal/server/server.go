package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"todoflow/internal/clock"
	"todoflow/internal/config"
	"todoflow/internal/events"
	"todoflow/internal/handler"
	"todoflow/internal/logger"
	"todoflow/internal/middleware"
	"todoflow/internal/notify"
	"todoflow/internal/recurrence"
	"todoflow/internal/repository"
	"todoflow/internal/scanner"
)

type Server struct {
	Engine *gin.Engine
	DB     *gorm.DB
	Config *config.Config
	Bus    *events.Bus
	Cron   *cron.Cron
	Hub    *notify.Hub
}

func Init(cfg *config.Config) (*Server, error) {
	if err := logger.Init(os.Getenv("GIN_MODE") != "release"); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	// Setup GORM. TranslateError turns driver unique-violations into
	// gorm.ErrDuplicatedKey, which the repository relies on for the
	// parent_task_id idempotency backstop.
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("❌ failed to connect to DB: %w", err)
	}
	log.Println("✅ Connected to database")

	if err := runMigrations(cfg); err != nil {
		return nil, fmt.Errorf("❌ failed to run migrations: %w", err)
	}
	log.Println("✅ Migrations applied")

	// Setup Gin
	r := gin.Default()

	// Shared infrastructure
	clk := clock.RealClock{}
	bus := events.NewBus(events.BusConfig{
		MessageTimeout:  cfg.MessageTimeout,
		MaxRedeliveries: cfg.MaxRedeliveries,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
	})

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	// Background roles: the recurrence consumer reacts to completion
	// signals, the scanner ticks on the cron schedule, the hub fans
	// reminders out to websockets.
	recurrence.NewConsumer(taskRepo).Register(bus)

	hub := notify.NewHub()
	hub.Register(bus)

	c := cron.New()
	scan := scanner.New(taskRepo, bus, clk, cfg.ReminderLookahead)
	if _, err := scan.Schedule(c, cfg.ScanInterval); err != nil {
		return nil, fmt.Errorf("failed to schedule reminder scan: %w", err)
	}

	// Initialize handlers
	userHandler := handler.NewUserHandler(userRepo)
	taskHandler := handler.NewTaskHandler(taskRepo, bus, clk, cfg.DescriptionMaxLen)
	wsHandler := handler.NewWSHandler(hub)

	// Public routes
	r.POST("/register", userHandler.Register)
	r.POST("/login", userHandler.Login)
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":                 "healthy",
			"active_websocket_users": hub.ConnectionCount(),
		})
	})

	// Protected routes - require authentication
	authorized := r.Group("/")
	authorized.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	{
		authorized.POST("/tasks", taskHandler.Create)
		authorized.GET("/tasks", taskHandler.List)
		authorized.GET("/tasks/:id", taskHandler.GetByID)
		authorized.PUT("/tasks/:id", taskHandler.Update)
		authorized.DELETE("/tasks/:id", taskHandler.Delete)
		authorized.POST("/tasks/:id/complete", taskHandler.Complete)

		authorized.GET("/ws", wsHandler.Serve)
	}

	return &Server{
		Engine: r,
		DB:     db,
		Config: cfg,
		Bus:    bus,
		Cron:   c,
		Hub:    hub,
	}, nil
}

func runMigrations(cfg *config.Config) error {
	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
	)
	m, err := migrate.New("file://migrations", url)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Server) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Bus.Start(ctx)
	s.Cron.Start()

	srv := &http.Server{
		Addr:    ":" + s.Config.ServerPort,
		Handler: s.Engine,
	}

	go func() {
		log.Printf("🚀 Server running on port %s\n", s.Config.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to listen: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	cronCtx := s.Cron.Stop()
	<-cronCtx.Done()
	cancel()
	s.Bus.Wait()
	logger.Sync()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %s", err)
	}

	log.Println("✅ Server exited properly")
}
