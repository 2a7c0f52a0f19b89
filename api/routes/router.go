// Package routes is the composition root: it builds every component in
// dependency order and wires the HTTP surface onto one gin.Engine, the
// same single-constructor-call shape the auth package's own
// NewService/NewController/NewRouter chain already uses, just scaled up
// to the whole booking engine (§9's "explicit composition root" redesign
// note).
package routes

import (
	"context"
	"net/http"
	"time"

	"evently-core/internal/auth"
	"evently-core/internal/availability"
	"evently-core/internal/booking"
	"evently-core/internal/catalog"
	"evently-core/internal/idempotency"
	"evently-core/internal/payments"
	"evently-core/internal/realtime"
	"evently-core/internal/seatlock"
	"evently-core/internal/shared/config"
	"evently-core/internal/shared/database"
	"evently-core/internal/sweeper"
	"evently-core/internal/tickets"
	"evently-core/internal/tokengate"
	"evently-core/pkg/cache"
	"evently-core/pkg/logger"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Router owns every constructed service plus the background loops that
// must start and stop alongside the HTTP server.
type Router struct {
	config *config.Config
	db     *database.DB
	log    *logger.Logger

	authController     *auth.Controller
	catalogController  *catalog.Controller
	seatlockController *seatlock.Controller
	bookingController  *booking.Controller
	ticketsController  *tickets.Controller
	paymentsController *payments.Controller

	gate tokengate.Service

	hub         *realtime.Hub
	realtimeSrv *realtime.Server
	sweeper     *sweeper.Sweeper
	producer    tickets.Producer
	consumer    *tickets.Consumer
}

// NewRouter builds the full dependency graph, leaves first: Persistence/KV
// primitives, Availability Cache / Idempotency Store / Token Gate, then
// the components that depend on them. The broadcaster hub is created
// before the Seat Lock Manager, and the Ticket Generator before the
// Booking Coordinator, because each is passed into the later
// constructor as its publisher or ticket dispatcher; the Expiry Sweeper
// and the seat-type catalog service come last.
func NewRouter(cfg *config.Config, db *database.DB) *Router {
	log := logger.GetDefault()
	pg := db.GetPostgreSQL()
	redisClient := db.GetRedisClient()

	cacheService := cache.NewService(redisClient, log)

	tokengateRepo := tokengate.NewRepository(pg)
	gate := tokengate.NewService(tokengateRepo, redisClient, log)

	catalogRepo := catalog.NewRepository(pg)

	idempotencyRepo := idempotency.NewRepository(pg)
	idempotencyService := idempotency.NewService(idempotencyRepo, pg)

	availabilityService := availability.NewService(cacheService, redisClient, catalogRepo)

	hub := realtime.NewHub(log)
	broadcaster := realtime.NewBroadcaster(hub)

	kv := seatlock.NewKVStore(redisClient)
	seatlockRepo := seatlock.NewRepository(pg)
	seatlockService := seatlock.NewService(pg, seatlockRepo, catalogRepo, kv, availabilityService, broadcaster, log, cfg.Booking.LockTTL)

	bookingRepo := booking.NewRepository(pg)

	producer, err := newTicketProducer(cfg, log)
	if err != nil {
		log.ErrorWithContext(context.Background(), "ticket generator: kafka producer unavailable, falling back to inline generation for every dispatch", err, nil)
		producer = nil
	}

	var emailProvider tickets.EmailProvider
	if cfg.Email.SMTPHost != "" {
		emailProvider = tickets.NewSMTPEmailProvider(tickets.SMTPConfig{
			Host:      cfg.Email.SMTPHost,
			Port:      cfg.Email.SMTPPort,
			Username:  cfg.Email.SMTPUsername,
			Password:  cfg.Email.SMTPPassword,
			FromEmail: cfg.Email.FromEmail,
			FromName:  "Evently",
			Timeout:   10 * time.Second,
		})
	}
	smsProvider := tickets.NewLoggingSMSProvider(log)

	ticketsRepo := tickets.NewRepository(pg)
	ticketsService := tickets.NewService(pg, ticketsRepo, bookingRepo, seatlockRepo, catalogRepo, producer, emailProvider, smsProvider, broadcaster, log)

	var consumer *tickets.Consumer
	if producer != nil {
		consumerCfg := tickets.DefaultConsumerConfig()
		consumerCfg.Brokers = cfg.Ticket.KafkaBrokers
		consumerCfg.Topic = cfg.Ticket.Topic
		consumerCfg.NumWorkers = cfg.Ticket.WorkerConcurrency
		consumerCfg.GenerateBackoff = cfg.Ticket.GenerationBaseDelay
		consumerCfg.EmailBackoff = cfg.Ticket.EmailBaseDelay
		consumerCfg.SMSBackoff = cfg.Ticket.SMSBaseDelay
		consumerCfg.MaxAttempts = cfg.Ticket.MaxAttempts
		c, cErr := tickets.NewConsumerForService(consumerCfg, ticketsService, log)
		if cErr != nil {
			log.ErrorWithContext(context.Background(), "ticket generator: consumer group unavailable, jobs will run synchronously", cErr, nil)
		} else {
			consumer = c
		}
	}

	bookingService := booking.NewService(pg, bookingRepo, seatlockRepo, catalogRepo, idempotencyService, availabilityService, ticketsService, broadcaster, log)

	paymentsService := payments.NewService(bookingService, bookingRepo, cfg.Payment.WebhookSecret, log)

	realtimeSrv := realtime.NewServer(hub, cfg, gate, seatlockService, bookingService, log)

	sweeperCfg := &sweeper.Config{
		LockSweepInterval:  cfg.Sweeper.LockSweepInterval,
		TokenSweepInterval: cfg.Sweeper.TokenSweepInterval,
		BatchSize:          500,
		MinInterval:        cfg.Sweeper.MinIntervalBetweenRuns,
	}
	sw := sweeper.NewSweeper(seatlockService, bookingService, tokengateRepo, idempotencyRepo, availabilityService, sweeperCfg, log)

	catalogService := catalog.NewService(pg, catalogRepo, availabilityService, broadcaster)

	authRepo := auth.NewRepository(pg)
	authService := auth.NewService(authRepo, cfg, gate)

	return &Router{
		config: cfg,
		db:     db,
		log:    log,

		authController:     auth.NewController(authService),
		catalogController:  catalog.NewController(catalogService),
		seatlockController: seatlock.NewController(seatlockService),
		bookingController:  booking.NewController(bookingService),
		ticketsController:  tickets.NewController(ticketsService),
		paymentsController: payments.NewController(paymentsService),

		gate: gate,

		hub:         hub,
		realtimeSrv: realtimeSrv,
		sweeper:     sw,
		producer:    producer,
		consumer:    consumer,
	}
}

func newTicketProducer(cfg *config.Config, log *logger.Logger) (tickets.Producer, error) {
	producerCfg := tickets.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Ticket.KafkaBrokers
	producerCfg.Topic = cfg.Ticket.Topic
	return tickets.NewKafkaProducer(producerCfg, log)
}

// SetupRoutes mounts health checks, then every component's HTTP surface
// under the configured API prefix, then the WebSocket upgrade endpoint.
func (r *Router) SetupRoutes(engine *gin.Engine) {
	r.setupHealthRoutes(engine)

	base := engine.Group(r.config.GetAPIBasePath())

	authRouter := auth.NewRouter(r.authController, r.config, r.gate)
	authRouter.SetupRoutes(base)

	catalogRouter := catalog.NewRouter(r.catalogController, r.config, r.gate)
	catalogRouter.SetupRoutes(base)

	seatlockRouter := seatlock.NewRouter(r.seatlockController, r.config, r.gate)
	seatlockRouter.SetupRoutes(base)

	bookingRouter := booking.NewRouter(r.bookingController, r.config, r.gate)
	bookingsGroup := bookingRouter.SetupRoutes(base)

	ticketsRouter := tickets.NewRouter(r.ticketsController, r.config, r.gate)
	ticketsRouter.SetupRoutes(bookingsGroup)

	paymentsRouter := payments.NewRouter(r.paymentsController, r.config, r.gate)
	paymentsRouter.SetupRoutes(base)

	engine.GET("/ws", r.realtimeSrv.ServeWS)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := r.db.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	engine.GET(r.config.APIPrefix+"/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"api_version": r.config.APIVersion,
			"connections": r.hub.ConnectionCount(),
		})
	})
}

// Start launches the background loops that run for the life of the
// process: the Expiry Sweeper's two ticker cadences, the Realtime
// Broadcaster's hub goroutine, and the Ticket Generator's consumer
// group workers (when Kafka is reachable).
func (r *Router) Start(ctx context.Context) {
	r.sweeper.Start(ctx)
	go r.hub.Run(ctx)
	if r.consumer != nil {
		go r.consumer.Start(ctx)
	}
}

// Stop signals the sweeper's loops to exit and releases the
// producer/consumer's broker connections. The hub stops on ctx
// cancellation instead, since it selects on it.
func (r *Router) Stop() {
	r.sweeper.Stop()
	if r.consumer != nil {
		if err := r.consumer.Close(); err != nil {
			r.log.ErrorWithContext(context.Background(), "ticket generator: error closing consumer group", err, nil)
		}
	}
	if r.producer != nil {
		if err := r.producer.Close(); err != nil {
			r.log.ErrorWithContext(context.Background(), "ticket generator: error closing producer", err, nil)
		}
	}
}
