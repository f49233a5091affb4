package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/analytics"
	analytics_api "github.com/prabath1998/event-ticketing-web-backend/internal/analytics/api"
	"github.com/prabath1998/event-ticketing-web-backend/internal/audit"
	"github.com/prabath1998/event-ticketing-web-backend/internal/auth"
	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/database/migrations"
	"github.com/prabath1998/event-ticketing-web-backend/internal/discount"
	"github.com/prabath1998/event-ticketing-web-backend/internal/kafka"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/notify"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order"
	orderdb "github.com/prabath1998/event-ticketing-web-backend/internal/order/db"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order/order_api"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment"
	payhandlers "github.com/prabath1998/event-ticketing-web-backend/internal/payment/handler"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment/services"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment/storage"
	"github.com/prabath1998/event-ticketing-web-backend/internal/pricing"
	rediswrap "github.com/prabath1998/event-ticketing-web-backend/internal/redis"
	"github.com/prabath1998/event-ticketing-web-backend/internal/sse"
	ticketdb "github.com/prabath1998/event-ticketing-web-backend/internal/tickets/db"
	tickets "github.com/prabath1998/event-ticketing-web-backend/internal/tickets/service"
	"github.com/prabath1998/event-ticketing-web-backend/internal/tickets/signer"
	"github.com/prabath1998/event-ticketing-web-backend/internal/tickets/ticket_api"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

type publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}

func migrate(bunDB *bun.DB, cfg *config.Config, log *logger.Logger) {
	if !cfg.Database.AutoMigrate {
		log.Info("DATABASE", "Auto-migrate disabled")
		return
	}
	if cfg.Database.Driver == "sqlite" {
		if err := database.CreateSchema(context.Background(), bunDB); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to create sqlite schema: %v", err))
		}
		return
	}

	opts := migrations.DefaultOptions()
	opts.MigrationsDir = cfg.Database.MigrationsDir
	// The runner is not closed here: closing it closes the shared *sql.DB.
	runner := migrations.NewRunner(bunDB, opts, log)
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
	}
}

func newPublisher(ctx context.Context, cfg config.KafkaConfig, log *logger.Logger) publisher {
	if !cfg.Enabled {
		log.Warn("KAFKA", "Kafka disabled, domain events will be dropped")
		return kafka.NopProducer{Logger: log}
	}
	if err := kafka.EnsureTopicsExist(ctx, cfg.Brokers, cfg.Topics.All(), log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}
	return kafka.NewProducer(cfg.Brokers, log)
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func main() {
	log := logger.NewLogger("ticketing")
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	ctx := context.Background()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}
	defer bunDB.Close()
	migrate(bunDB, cfg, log)

	redisClient, err := rediswrap.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()
	locks := rediswrap.NewRedis(redisClient, cfg.Redis.SessionLockTTL, log)

	producer := newPublisher(ctx, cfg.Kafka, log)
	defer producer.Close()

	var sink audit.Sink = audit.NewDBSink(bunDB, log)
	if cfg.Kafka.Enabled {
		sink = audit.NewKafkaSink(producer, cfg.Kafka.Topics.Audit)
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup

	var emails notify.Queue = &notify.LogQueue{Logger: log}
	if cfg.RabbitMQ.URL != "" {
		rabbit := notify.NewRabbitQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.EmailQueue, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			rabbit.Run(workerCtx)
		}()
		emails = rabbit
	} else {
		log.Warn("NOTIFY", "RABBITMQ_URL not set, emails will only be logged")
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to build token verifier: %v", err))
	}

	tokenSigner, err := signer.New(cfg.Tickets.SigningSecret)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Ticket signing secret: %v", err))
	}

	oDB := &orderdb.DB{Bun: bunDB, Logger: log}
	engine := pricing.NewEngine(oDB, discount.NewRegistry(bunDB), cfg.Pricing.Fees, log)
	orderService := order.NewOrderService(oDB, engine, producer, cfg.Kafka.Topics, log)
	ticketService := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, tokenSigner, producer, sink, cfg.Kafka.Topics, log)

	paymentService := payment.NewPaymentService(orderService, ticketService, storage.NewBunStore(bunDB, log), cfg.Payments.DefaultProvider, log)
	paymentService.Locks = locks
	paymentService.Email = emails
	paymentService.Audit = sink
	checkouts := sse.NewCheckoutEventEmitter()
	paymentService.Checkouts = checkouts
	if cfg.Payments.StripeSecretKey != "" {
		stripeService, err := services.NewStripeService(cfg.Payments, cfg.Pricing.Fees, nil, log)
		if err != nil {
			log.Fatal("PAYMENT", fmt.Sprintf("Stripe setup failed: %v", err))
		}
		paymentService.Register(stripeService)
	} else {
		log.Warn("PAYMENT", "STRIPE_SECRET_KEY not set, Stripe checkout disabled")
	}
	if cfg.Payments.DummyEnabled {
		log.Warn("PAYMENT", "Dummy payment provider enabled")
		paymentService.Register(services.NewDummyService(log))
	}

	orderHandler := order_api.NewHandler(orderService, log)
	orderHandler.Checkouts = checkouts
	ticketHandler := ticket_api.NewHandler(ticketService, locks, cfg.RateLimit.ScanPerMinute, log)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(bunDB), log)
	analyticsHandler.Checkouts = checkouts
	paymentEngine := payhandlers.NewPaymentHandler(paymentService, verifier, log).Engine(cfg.Server.CORSOrigins)

	r := chi.NewRouter()
	r.Use(log.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("unhealthy", "database unavailable"))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	// Payments and webhooks run on gin with their own auth and CORS.
	r.Mount("/api/payments", paymentEngine)
	r.Mount("/api/webhooks", paymentEngine)

	api := chi.NewRouter()
	api.Use(corsHandler(cfg.Server.CORSOrigins))
	api.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		orderHandler.Routes(r)
		ticketHandler.Routes(r)
		analyticsHandler.RegisterRoutes(r)
	})
	r.Mount("/", api)
	log.Info("ROUTER", "Order, ticket and payment routes registered")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticketing service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	ctxShutdown, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Ticketing service shutdown complete")
	}

	stopWorkers()
	workers.Wait()
}
