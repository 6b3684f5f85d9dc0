package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mafiaserver/broadcast"
	"mafiaserver/database"
	"mafiaserver/gateway"
	"mafiaserver/handlers"
	"mafiaserver/rooms"
	"mafiaserver/session"
	"mafiaserver/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

func main() {
	logger, err := utils.InitLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config, err := database.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// PostgreSQL and Redis come up concurrently.
	var db *gorm.DB
	var rdb *redis.Client
	done := make(chan bool)

	go func() {
		var err error
		db, err = database.InitPostgreSQL(config, logger)
		if err != nil {
			logger.Fatal("failed to initialize PostgreSQL", zap.Error(err))
		}
		done <- true
	}()

	go func() {
		var err error
		rdb, err = database.InitRedis(logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		done <- true
	}()

	<-done
	<-done

	store := database.NewSQLStore(db, logger)
	registry := session.NewRegistry(logger)
	broker := broadcast.NewBroker(logger)
	manager := rooms.NewManager(config.Game, registry, broker, store, logger)
	gw := gateway.NewHandler(config, registry, manager, broker, store, rdb, logger)

	cronJobs := utils.CronCleaner(db, registry, manager, logger)

	router := gin.New()
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.POST("/api/login", func(c *gin.Context) {
		handlers.LoginHandler(c, store, logger)
	})
	router.GET("/api/status", func(c *gin.Context) {
		handlers.StatusHandler(c, store, registry, manager, gw, logger)
	})
	router.GET("/health", func(c *gin.Context) {
		handlers.HealthHandler(c, gw)
	})
	router.GET("/ws", gw.HandleWS)

	server := &http.Server{
		Addr:    config.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", config.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	// Stop accepting new connections first, then let room operations drain,
	// flush final broadcasts, and close everything that remains.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	cronJobs.Stop()
	manager.Shutdown()
	gw.CloseAll()
	if err := store.Close(); err != nil {
		logger.Error("failed to close store", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Error("failed to close redis", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
