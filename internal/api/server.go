package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/threadwell-app/threadwell/internal/auth"
	"github.com/threadwell-app/threadwell/internal/chat"
	"github.com/threadwell-app/threadwell/internal/config"
	"github.com/threadwell-app/threadwell/internal/database"
	"github.com/threadwell-app/threadwell/internal/observability"
	"github.com/threadwell-app/threadwell/internal/presence"
	"github.com/threadwell-app/threadwell/internal/pubsub"
	"github.com/threadwell-app/threadwell/internal/realtime"
)

// Server represents the HTTP server
type Server struct {
	app     *fiber.App
	config  *config.Config
	db      *database.Connection
	metrics *observability.Metrics

	broker      pubsub.PubSub
	bus         *realtime.Bus
	registry    *realtime.Registry
	broadcaster *realtime.Broadcaster

	redisClient *redis.Client

	authHandler     *AuthHandler
	threadHandler   *ThreadHandler
	messageHandler  *MessageHandler
	reactionHandler *ReactionHandler
	presenceHandler *PresenceHandler
	streamHandler   *StreamHandler
	authService     *auth.Service
	startTime       time.Time
}

// newFiberConfig builds the fasthttp server settings. WriteTimeout is the
// deadline for an entire response, so it must stay zero: the event stream
// endpoints hold their response open for the life of the client, and any
// write deadline would cut every stream at that mark regardless of
// heartbeat traffic. Dead streams are evicted by heartbeat write failures
// instead.
func newFiberConfig(cfg *config.Config) fiber.Config {
	return fiber.Config{
		ServerHeader:          "Threadwell",
		AppName:               "Threadwell v1.0.0",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
	}
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, db *database.Connection) (*Server, error) {
	app := fiber.New(newFiberConfig(cfg))

	metrics := observability.NewMetrics()
	db.SetMetrics(metrics)

	// Stores
	threadStore := chat.NewThreadStore(db.Pool())
	messageStore := chat.NewMessageStore(db.Pool())
	reactionStore := chat.NewReactionStore(db.Pool())
	userStore := chat.NewUserStore(db.Pool())

	// Auth
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
	authService := auth.NewService(userStore, jwtManager)

	// Event fan-out core
	broker, err := pubsub.New(cfg.Realtime.Backend, cfg.Redis.URL, db.Pool())
	if err != nil {
		return nil, err
	}
	registry := realtime.NewRegistry(nil, cfg.Realtime.HeartbeatInterval)
	registry.SetMetrics(metrics)
	bus := realtime.NewBus(context.Background(), broker, registry.Deliver)
	registry.SetBus(bus)
	broadcaster := realtime.NewBroadcaster(bus)

	// Presence and preferences, backed by Redis
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(redisOpts)
	tracker := presence.NewTracker(redisClient)
	prefs := presence.NewPreferences(redisClient)

	// Handlers
	authHandler := NewAuthHandler(authService, cfg.Auth.UsernameMinLength, cfg.Auth.PasswordMinLength)
	authHandler.SetMetrics(metrics)
	threadHandler := NewThreadHandler(threadStore, broadcaster)
	messageHandler := NewMessageHandler(&threadMessageStore{messages: messageStore, threads: threadStore}, reactionStore, broadcaster)
	messageHandler.SetMetrics(metrics)
	reactionHandler := NewReactionHandler(reactionStore, messageStore, broadcaster)
	reactionHandler.SetMetrics(metrics)
	presenceHandler := NewPresenceHandler(tracker, prefs)
	streamHandler := NewStreamHandler(threadStore, registry, cfg.Realtime.StreamBufferSize)

	server := &Server{
		app:             app,
		config:          cfg,
		db:              db,
		metrics:         metrics,
		broker:          broker,
		bus:             bus,
		registry:        registry,
		broadcaster:     broadcaster,
		redisClient:     redisClient,
		authHandler:     authHandler,
		threadHandler:   threadHandler,
		messageHandler:  messageHandler,
		reactionHandler: reactionHandler,
		presenceHandler: presenceHandler,
		streamHandler:   streamHandler,
		authService:     authService,
		startTime:       time.Now(),
	}

	server.setupMiddlewares()
	server.setupRoutes()

	return server, nil
}

// threadMessageStore joins the message reader with the thread store's
// transactional message creation so the handler sees one surface.
type threadMessageStore struct {
	messages *chat.MessageStore
	threads  *chat.ThreadStore
}

func (s *threadMessageStore) ListByThread(ctx context.Context, threadID, cursor string, limit int) (*chat.MessagePage, error) {
	return s.messages.ListByThread(ctx, threadID, cursor, limit)
}

func (s *threadMessageStore) CreateMessage(ctx context.Context, threadID, text, author string) (*chat.Message, *chat.Thread, error) {
	return s.threads.CreateMessage(ctx, threadID, text, author)
}

// setupMiddlewares sets up global middlewares
func (s *Server) setupMiddlewares() {
	s.app.Use(requestid.New())

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	if s.config.Debug {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
		}))
	}

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	s.app.Use(s.metrics.MetricsMiddleware())
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.metrics.Handler())

	api := s.app.Group("/api")
	api.Get("/health", s.handleHealth)

	// Public auth routes
	authGroup := api.Group("/auth")
	authGroup.Post("/register", s.authHandler.Register)
	authGroup.Post("/login", s.authHandler.Login)

	authed := AuthMiddleware(s.authService)

	// The stream route must be registered before /threads/:id so "stream"
	// is not captured as a thread id.
	threads := api.Group("/threads", authed)
	threads.Get("/stream", s.streamHandler.Stream)
	threads.Get("/", s.threadHandler.List)
	threads.Post("/", s.threadHandler.Create)
	threads.Get("/:id", s.threadHandler.Get)
	threads.Put("/:id", s.threadHandler.Rename)
	threads.Delete("/:id", s.threadHandler.Delete)
	threads.Get("/:id/messages", s.messageHandler.List)
	threads.Post("/:id/messages", s.messageHandler.Create)
	threads.Get("/:id/messages/stream", s.streamHandler.Stream)

	messages := api.Group("/messages", authed)
	messages.Post("/:id/reactions", s.reactionHandler.Toggle)

	api.Post("/heartbeat", authed, s.presenceHandler.Heartbeat)

	users := api.Group("/users", authed)
	users.Get("/online", s.presenceHandler.Online)
	users.Get("/notification-preference", s.presenceHandler.GetPreference)
	users.Put("/notification-preference", s.presenceHandler.SetPreference)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbHealthy := true
	if err := s.db.Health(ctx); err != nil {
		dbHealthy = false
		log.Error().Err(err).Msg("Database health check failed")
	}

	redisHealthy := true
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		redisHealthy = false
		log.Error().Err(err).Msg("Redis health check failed")
	}

	s.metrics.UpdateUptime(s.startTime)
	s.db.ReportPoolStats()

	status := "ok"
	httpStatus := fiber.StatusOK
	if !dbHealthy || !redisHealthy {
		status = "degraded"
		httpStatus = fiber.StatusServiceUnavailable
	}

	realtime := fiber.Map{"connections": s.registry.ConnectionCount()}
	if dc, ok := s.broker.(pubsub.DropCounter); ok {
		realtime["droppedEvents"] = dc.Dropped()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"database": dbHealthy,
			"redis":    redisHealthy,
			"realtime": realtime,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Start begins the realtime core and serves HTTP until shutdown.
func (s *Server) Start() error {
	if starter, ok := s.broker.(interface{ Start() error }); ok {
		if err := starter.Start(); err != nil {
			return err
		}
	}
	if err := s.bus.Start(); err != nil {
		return err
	}
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Closing push connections")
	s.registry.Shutdown()
	s.bus.Close()
	if err := s.broker.Close(); err != nil {
		log.Warn().Err(err).Msg("Broker close returned an error")
	}
	if err := s.redisClient.Close(); err != nil {
		log.Warn().Err(err).Msg("Redis close returned an error")
	}

	log.Info().Msg("Shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app instance for testing
func (s *Server) App() *fiber.App {
	return s.app
}
