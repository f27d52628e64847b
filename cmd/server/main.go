package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/eubbbruno/instauto-chat/config"
	"github.com/eubbbruno/instauto-chat/internal/auth"
	"github.com/eubbbruno/instauto-chat/internal/cache"
	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/database"
	"github.com/eubbbruno/instauto-chat/internal/eventbus"
	"github.com/eubbbruno/instauto-chat/internal/handlers"
	"github.com/eubbbruno/instauto-chat/internal/middleware"
	"github.com/eubbbruno/instauto-chat/internal/models"
	"github.com/eubbbruno/instauto-chat/internal/observability"
	"github.com/eubbbruno/instauto-chat/internal/presence"
	"github.com/eubbbruno/instauto-chat/internal/repository"
	"github.com/eubbbruno/instauto-chat/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Server.Env)

	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := database.RunMigrations(db.DB); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	redisClient, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}
	defer redisClient.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret)

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	svc := chat.NewService(convRepo, msgRepo, redisClient, log)

	adapter := eventbus.NewAdapter(redisClient.GetClient(), log)

	tracker := presence.NewTracker(redisClient, redisClient, cfg.Chat.PresenceStaleAfter, log)
	unsubPresence := adapter.Subscribe(func(ev models.Event) {
		if ev.Type == models.EventPresenceChanged && ev.Presence != nil {
			tracker.Observe(*ev.Presence)
		}
	})
	defer unsubPresence()

	manager := chat.NewManager(svc, adapter, chat.SessionConfig{
		SendTimeout:        cfg.Chat.SendTimeout,
		OfflineBannerAfter: cfg.Chat.OfflineBannerAfter,
		PageSize:           cfg.Chat.MessagePageSize,
	}, log)

	hub := websocket.NewHub(manager, tracker, cfg.Chat.HeartbeatInterval, log)

	rateLimiter := middleware.NewRateLimiter(cfg.Chat.RateLimitMessagesPerSec)
	rateLimiter.Cleanup()

	wsHandler := websocket.NewHandler(hub, jwtService, rateLimiter, cfg.CORS.AllowedOrigins)
	convHandler := handlers.NewConversationHandler(svc, cfg.Chat.ConversationPageSize)
	msgHandler := handlers.NewMessageHandler(svc, cfg.Chat.MessagePageSize)
	presenceHandler := handlers.NewPresenceHandler(tracker)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "events": string(adapter.State())})
	})

	router.GET("/ws", wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtService))
	{
		api.GET("/conversations", convHandler.GetConversations)
		api.POST("/conversations", convHandler.CreateConversation)
		api.GET("/conversations/:id", convHandler.GetConversation)
		api.POST("/conversations/:id/archive", convHandler.ArchiveConversation)
		api.POST("/conversations/:id/read", msgHandler.MarkRead)
		api.GET("/conversations/unread-total", convHandler.GetTotalUnread)

		api.GET("/messages", msgHandler.GetMessages)
		api.POST("/messages", middleware.RateLimitMiddleware(rateLimiter), msgHandler.SendMessage)

		api.POST("/presence/heartbeat", presenceHandler.Heartbeat)
		api.GET("/presence/:id", presenceHandler.GetPresence)

		api.GET("/connected-users", wsHandler.GetConnectedUsers)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := adapter.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("env", cfg.Server.Env).Msg("starting server")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		hub.Shutdown()
		manager.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
