package main

import (
	"fmt"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"missing-persons-service/config"
	"missing-persons-service/database"
	"missing-persons-service/facematch"
	"missing-persons-service/handlers"
	"missing-persons-service/locator"
	"missing-persons-service/middleware"
	"missing-persons-service/rabbitmq"
	"missing-persons-service/services"
	ws "missing-persons-service/websocket"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}

	cfg := config.Load()

	log.Info("Starting the missing persons service...")

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	store := database.NewService(db)

	// Live push layer
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Pushes go through Redis when configured so connections held by other
	// instances are reached; otherwise they stay in-process.
	var pusher services.Pusher = hub
	if cfg.RedisHost != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
		})
		bridge := ws.NewBridge(rdb, hub)
		bridge.Start()
		defer bridge.Stop()
		pusher = bridge
	}

	// Optional RabbitMQ mirror for external consumers
	var mirror services.Mirror
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer publisher.Close()
		mirror = publisher
	}

	// Optional face match scoring
	var matcher services.Matcher
	if cfg.FaceMatchURL != "" {
		matcher = facematch.NewClient(cfg.FaceMatchURL)
	}

	lifecycleService := services.NewLifecycleService(
		store, locator.New(store), pusher, mirror, matcher, cfg.AssignmentSweepInterval)
	lifecycleService.Start()
	defer lifecycleService.Stop()

	caseHandler := handlers.NewCaseHandler(lifecycleService)
	wsHandler := handlers.NewWebSocketHandler(hub, cfg.JWTSecret)

	router := gin.Default()
	router.Use(middleware.CORSMiddleware())

	router.GET("/health", wsHandler.HealthCheck)
	router.GET("/ws", wsHandler.Listen)

	auth := middleware.AuthMiddleware(cfg.JWTSecret)
	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/cases", auth, caseHandler.OpenCase)
		apiV1.GET("/cases/:id", auth, caseHandler.GetCase)
		apiV1.GET("/cases/:id/reports", auth, caseHandler.ListCaseReports)

		apiV1.POST("/reports", auth, caseHandler.SubmitReport)
		apiV1.GET("/reports/:id", auth, caseHandler.GetReport)
		apiV1.PATCH("/reports/:id/status", auth, caseHandler.UpdateReportStatus)
		apiV1.POST("/reports/:id/family-action", auth, caseHandler.RecordFamilyAction)
		apiV1.POST("/reports/:id/notifications/read", auth, caseHandler.MarkNotificationsRead)

		apiV1.GET("/notifications", auth, caseHandler.ListNotifications)
		apiV1.GET("/notifications/unread-count", auth, caseHandler.UnreadCount)

		apiV1.POST("/responders/location", auth, caseHandler.UpdateLocation)
		apiV1.GET("/responders/nearest", auth, caseHandler.NearestResponder)
	}

	log.Infof("Missing persons service starting on %s:%s", cfg.Host, cfg.Port)
	if err := router.Run(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
