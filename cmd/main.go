package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/booking"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/ledger"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reconcile"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/sequence"
)

func main() {
	logger := log.New(os.Stdout, "[ticketing-service] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- DB ---
	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatalf("db migrate: %v", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	ledgerRepo := ledger.NewPostgresRepository(pool)
	registry := reservation.NewPostgresRepository(pool)

	created, err := ledgerRepo.Seed(ctx, cfg.EventID, cfg.EventName, cfg.EventTotalSeats)
	if err != nil {
		logger.Fatalf("seed event %s: %v", cfg.EventID, err)
	}
	if created {
		logger.Printf("seeded event %s with %d seats", cfg.EventID, cfg.EventTotalSeats)
	}

	opts := []booking.Option{
		booking.WithPolicy(cfg.RetryPolicy),
		booking.WithTransactor(booking.NewPostgresTransactor(pool)),
		booking.WithLogger(logger),
	}

	// --- AMQP ---
	var conn *amqp.Connection
	var pub *events.Publisher
	if cfg.EventsEnabled {
		conn, err = amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatalf("connect to RabbitMQ: %v", err)
		}
		defer conn.Close()

		pub, err = events.NewPublisher(conn, sequence.NewCounter(pool), events.PublisherOptions{
			PublishEnveloped: cfg.PublishEnvelopedEvents,
		})
		if err != nil {
			logger.Fatalf("start publisher: %v", err)
		}
		defer pub.Close()
		opts = append(opts, booking.WithPublisher(pub))
	}

	svc := booking.NewService(cfg.EventID, ledgerRepo, registry, opts...)
	logger.Printf("booking event=%s policy=%s", svc.EventID(), svc.Policy())

	var consumerDone <-chan struct{}
	if conn != nil {
		handler := events.ReservationRequestedHandler(svc, dedup.NewCheckpoints(pool), logger, cfg.ConsumeEnvelopedEvents)
		consumerDone, err = events.StartConsumer(ctx, conn, events.ConsumerOptions{
			RoutingKey: events.ReservationRequestedRoutingKey,
		}, handler, logger)
		if err != nil {
			logger.Fatalf("start consumer: %v", err)
		}
	}

	// --- Redis ---
	var idem httpapi.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatalf("connect to redis %s: %v", cfg.RedisAddr, err)
		}
		idem = idempotency.NewStore(rdb, cfg.IdempotencyTTL)
	}

	// --- reconciler ---
	var scheduler gocron.Scheduler
	if cfg.ReconcileInterval > 0 {
		scheduler, err = reconcile.New(cfg.EventID, ledgerRepo, registry, logger).Start(ctx, cfg.ReconcileInterval)
		if err != nil {
			logger.Fatalf("start reconciler: %v", err)
		}
	}

	// --- HTTP ---
	h := httpapi.NewHandler(svc, pool, idem, logger)
	r := httpapi.NewRouter(h)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("shutdown signal: %s", sig)
	case err := <-errCh:
		logger.Printf("fatal error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	if scheduler != nil {
		_ = scheduler.Shutdown()
	}
	cancel()
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			logger.Printf("consumer still busy at shutdown timeout")
		}
	}

	logger.Printf("shutdown complete")
}
