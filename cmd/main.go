package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nurture-app/nurture-backend/internal/db"
	"github.com/nurture-app/nurture-backend/internal/handlers"
	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/middleware"
	"github.com/nurture-app/nurture-backend/internal/repos"
	"github.com/nurture-app/nurture-backend/internal/server"
	"github.com/nurture-app/nurture-backend/internal/services"
	"github.com/nurture-app/nurture-backend/internal/socket"
	"github.com/nurture-app/nurture-backend/internal/tasks"
	"github.com/nurture-app/nurture-backend/internal/utils"
)

func main() {
	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	// Logger Setup
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if envErr != nil {
		log.Debug("No .env file loaded", "error", envErr)
	}

	// Environment Variables
	log.Info("Loading environment variables for Main now...")
	port := utils.GetEnv("PORT", "8080", log)
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	redisAddress := utils.GetEnv("REDIS_ADDRESS", "", log)
	redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
	redisDB := utils.GetEnvAsInt("REDIS_DB", 0, log)
	corsOrigins := utils.GetEnvAsList("CORS_ORIGINS", nil, log)
	calendarLoc := utils.GetEnvAsLocation("CALENDAR_TIMEZONE", "UTC", log)
	chatAPIURL := utils.GetEnv("CHAT_API_URL", "", log)
	chatAPIKey := utils.GetEnv("CHAT_API_KEY", "", log)
	chatAPITimeout := time.Duration(utils.GetEnvAsInt("CHAT_API_TIMEOUT_SECONDS", 30, log)) * time.Second
	persistWorkers := utils.GetEnvAsInt("PERSIST_WORKERS", 2, log)
	persistTimeout := utils.GetEnvAsDuration("PERSIST_JOB_TIMEOUT", 15*time.Second, log)
	reminderCron := utils.GetEnv("REMINDER_CRON", services.DefaultReminderCron, log)
	log.Debug("Environment variables loaded for Main",
		"port", port,
		"redisAddress", redisAddress,
		"corsOrigins", corsOrigins,
		"calendarTimezone", calendarLoc.String(),
		"chatAPIURL", chatAPIURL,
		"persistWorkers", persistWorkers,
		"reminderCron", reminderCron,
	)

	// Postgres Setup
	log.Info("Setting Up Postgres from Main now...")
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("DB init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	log.Info("Postgres Setup From Main Successful")

	// Repositories Setup
	eventRepo := repos.NewEventRepo(thePG, log)
	chatRoomRepo := repos.NewChatRoomRepo(thePG, log)
	conversationRepo := repos.NewConversationRepo(thePG, log)
	profileRepo := repos.NewProfileRepo(thePG, log)

	// Websocket Setup
	wsHub := socket.NewHub(log)

	// Redis fan-out
	var fanout *socket.RedisFanout
	if redisAddress != "" {
		log.Info("Setting Up Redis fan-out From Main now...")
		f, err := socket.NewRedisFanout(log, socket.RedisFanoutConfig{
			Addr:     redisAddress,
			Password: redisPassword,
			DB:       redisDB,
		})
		if err != nil {
			log.Warn("Failed to init redis fan-out, notifications stay local", "error", err)
		} else if err := f.Listen(wsHub); err != nil {
			log.Warn("Failed to listen on redis fan-out, notifications stay local", "error", err)
			f.Close()
		} else {
			wsHub.SetFanout(f)
			fanout = f
			log.Info("Redis fan-out is active")
		}
	}

	// Background persistence
	queue := tasks.NewQueue(persistWorkers, 64, persistTimeout, log)

	// Services Setup
	log.Info("Setting up Services from Main now...")
	tokenService := services.NewTokenService(log, jwtSecretKey)
	calendarService := services.NewCalendarService(log, postgresService, eventRepo, calendarLoc)
	upstream, err := services.NewChatUpstreamService(log, services.ChatUpstreamConfig{
		BaseURL: chatAPIURL,
		APIKey:  chatAPIKey,
		Timeout: chatAPITimeout,
	})
	if err != nil {
		log.Error("Fatal error: cannot init ChatUpstreamService", "error", err)
		os.Exit(1)
	}
	chatService := services.NewChatService(log, postgresService, chatRoomRepo, conversationRepo, profileRepo, upstream, queue, wsHub, calendarLoc)
	profileService := services.NewProfileService(log, profileRepo, calendarLoc)

	emailService, err := services.NewEmailService(log)
	if err != nil {
		log.Warn("Could not init EmailService, email reminders disabled", "error", err)
		emailService = nil
	}
	textService, err := services.NewTextService(log)
	if err != nil {
		log.Warn("Could not init TextService, text reminders disabled", "error", err)
		textService = nil
	}
	reminderService := services.NewReminderService(log, profileRepo, calendarService, emailService, textService, services.ReminderConfig{
		Schedule: reminderCron,
	})
	if err := reminderService.Start(); err != nil {
		log.Error("Fatal error: cannot schedule reminders", "error", err)
		os.Exit(1)
	}
	log.Info("Services Set Up From Main Successful")

	// Router Setup
	router := server.NewRouter(server.RouterConfig{
		AllowedOrigins:  corsOrigins,
		AuthMiddleware:  middleware.NewAuthMiddleware(log, tokenService),
		Notifier:        wsHub,
		DB:              postgresService,
		ChatHandler:     handlers.NewChatHandler(log, upstream, chatService),
		ChatRoomHandler: handlers.NewChatRoomHandler(chatService),
		EventHandler:    handlers.NewEventHandler(log, calendarService),
		ProfileHandler:  handlers.NewProfileHandler(profileService),
		WsHandler:       handlers.WsHandler(wsHub, handlers.NewUpgrader(corsOrigins), log),
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	// On Shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	select {
	case <-reminderService.Stop().Done():
	case <-ctx.Done():
	}
	if err := queue.Shutdown(ctx); err != nil {
		log.Warn("Pending conversation saves were cancelled", "error", err)
	}
	if fanout != nil {
		fanout.Close()
	}
	if err := postgresService.Close(); err != nil {
		log.Warn("Failed to close database", "error", err)
	}
}
