package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"resonance-chat/internal/cache"
	"resonance-chat/internal/chat"
	"resonance-chat/internal/config"
	"resonance-chat/internal/db"
	"resonance-chat/internal/grpcserver"
	"resonance-chat/internal/handlers"
	"resonance-chat/internal/logger"
	"resonance-chat/internal/middleware"
	"resonance-chat/internal/observability"
	"resonance-chat/internal/presence"
	"resonance-chat/internal/rabbitmq"
	"resonance-chat/internal/repositories"
	"resonance-chat/internal/telemetry"
	"resonance-chat/internal/ws"
)

func main() {
	dev := flag.Bool("dev", false, "start an embedded PostgreSQL for local development")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	logger.SetPrefix(cfg.ServiceName)
	logger.SetLevel(cfg.LogLevel)
	if !logger.DebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Infof("starting %s env=%s store=%s", cfg.ServiceName, cfg.Environment, cfg.StoreDriver)

	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		logger.Errorf("init tracer: %v", err)
		os.Exit(1)
	}

	messages, users, closeStore := openStore(cfg, *dev || cfg.EmbeddedDB)
	defer closeStore()

	if cfg.RedisURL != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		cli, err := cache.NewClient(redisCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Warnf("profile cache disabled: %v", err)
		} else {
			defer cli.Close()
			users = cache.NewProfileCache(users, cli, cfg.ProfileCacheTTL)
			logger.Info("profile cache enabled")
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Infof("event publisher mode=%s %s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, observability.RoutingAudit, cfg.ServiceName, cfg.Environment)

	registry := presence.NewRegistry(presence.NewBroadcaster())
	svc := chat.NewService(messages, users, registry, chat.Options{
		StoreTimeout:  cfg.StoreTimeout,
		ReceiptOnNoop: cfg.ReceiptOnNoop,
		Audit:         audit,
	})

	chatHandler := handlers.NewChatHandler(svc)
	userHandler := handlers.NewUserHandler(users)
	wsHandler := ws.NewHandler(registry, svc, ws.Settings{
		WriteWait:      cfg.WSWriteWait,
		PongWait:       cfg.WSPongWait,
		MaxMessageSize: cfg.WSMaxMessageSize,
		SendBuffer:     cfg.WSSendBufferSize,
		AllowedOrigins: cfg.Origins(),
	})

	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		middleware.RequestIDMiddleware(),
		middleware.IdentityMiddleware(),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": registry.Len()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/users", userHandler.CreateUser)
	router.GET("/users", userHandler.ListUsers)
	router.GET("/users/:uid", userHandler.GetUser)

	router.POST("/messages", chatHandler.PostMessage)
	router.PUT("/messages/read", chatHandler.MarkRead)
	router.GET("/messages/:userA/:userB", chatHandler.GetHistory)
	router.GET("/conversations/:uid", chatHandler.GetConversations)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, registry, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpcserver.New(cfg.ServiceName)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Errorf("grpc listen %s: %v", cfg.GRPCAddr, err)
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		errCh <- grpcSrv.Serve(grpcLis)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcSrv.SetServing(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("websocket shutdown: %v", err)
	}
	registry.CloseAll()
	grpcSrv.Stop()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Errorf("tracer shutdown: %v", err)
	}
	logger.Info("server stopped")
}

// openStore returns the repositories for the configured driver and a cleanup func.
func openStore(cfg config.Config, embedded bool) (repositories.MessageRepository, repositories.UserRepository, func()) {
	if cfg.StoreDriver == "memory" {
		logger.Warnf("using in-memory store; messages are lost on restart")
		return repositories.NewMemoryMessageRepo(nil), repositories.NewMemoryUserRepo(), func() {}
	}

	dsn := cfg.DatabaseDSN
	var pg *embeddedpostgres.EmbeddedPostgres
	if embedded {
		var err error
		pg, dsn, err = db.StartEmbedded(cfg.EmbeddedDBPort, cfg.EmbeddedDataDir)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
	}

	database, err := db.Connect(dsn, cfg.DBMaxConns, 60*time.Second)
	if err != nil {
		logger.Errorf("failed to connect to db: %v", err)
		stopEmbedded(pg)
		os.Exit(1)
	}

	return repositories.NewMessageRepo(database), repositories.NewUserRepo(database), func() {
		closeDB(database)
		stopEmbedded(pg)
	}
}

func closeDB(database *sqlx.DB) {
	if err := database.Close(); err != nil {
		logger.Errorf("close db: %v", err)
	}
}

func stopEmbedded(pg *embeddedpostgres.EmbeddedPostgres) {
	if pg == nil {
		return
	}
	logger.Info("stopping embedded postgres...")
	if err := pg.Stop(); err != nil {
		logger.Errorf("embedded postgres stop: %v", err)
	}
}
