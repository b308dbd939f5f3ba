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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petportre/orders-service/internal/application"
	"github.com/petportre/orders-service/internal/carrier"
	"github.com/petportre/orders-service/internal/config"
	"github.com/petportre/orders-service/internal/export"
	"github.com/petportre/orders-service/internal/kafka"
	"github.com/petportre/orders-service/internal/logger"
	"github.com/petportre/orders-service/internal/migrate"
	"github.com/petportre/orders-service/internal/presentation"
	"github.com/petportre/orders-service/internal/repository"
	"github.com/petportre/orders-service/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}); err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("service stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Kafka producer for order events
	var events application.EventPublisher = application.NopPublisher{}
	if cfg.Kafka.ProducerEnabled {
		prod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer prod.Close()
		events = prod
	}

	orders := application.NewOrdersService(repo, events)
	if err := orders.EnsureIndexes(ctx); err != nil {
		logger.Warn("ensure indexes failed", "err", err)
	}
	// warm the cache with the latest orders
	if err := orders.RestoreCache(ctx, 1000); err != nil {
		logger.Warn("restore cache failed", "err", err)
	}

	var client application.Carrier
	if cfg.Carrier.Enabled() {
		c, closeTokens := newCarrier(cfg)
		defer closeTokens()
		client = c
		logger.Info("carrier enabled", "carrier", cfg.Carrier.DisplayName)
	} else {
		logger.Warn("carrier not configured, fulfillment endpoints will answer 502")
	}

	labels, err := newLabelStore(ctx, cfg)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.Export.Timezone)
	if err != nil {
		return fmt.Errorf("export timezone: %w", err)
	}

	h := presentation.NewOrdersHandler(presentation.Deps{
		Service:     cfg.App.Name,
		Auth:        cfg.Auth,
		Orders:      orders,
		Fulfillment: application.NewFulfillmentService(orders, client, labels, cfg.Carrier.DisplayName),
		Tracking:    application.NewTrackingLookup(orders, cfg.Tracking.PublicBase),
		Export: application.NewExportService(orders, cfg.Export.Limit, export.Options{
			Location: loc,
			Courier:  cfg.Carrier.DisplayName,
		}),
	})

	// Kafka consumer (reads raw storefront payloads, same path as the webhook)
	var consumerDone <-chan struct{}
	if cfg.Kafka.ConsumerEnabled {
		_, consumerDone = kafka.StartConsumer(ctx, orders, kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.IngestTopic,
			GroupID: cfg.Kafka.GroupID,
		})
	}

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           presentation.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "err", err)
	}
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			logger.Warn("kafka consumer did not stop in time")
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.OrderRepo, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Database.Migrate {
			if err := migrate.Up(ctx, cfg.Database.URL); err != nil {
				return nil, nil, err
			}
		}
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("pgxpool new: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		logger.Info("db connected")
		return repository.NewOrderRepository(pool), pool.Close, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI).SetMaxPoolSize(10))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		closeFn := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		if err := client.Ping(ctx, nil); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		logger.Info("mongo connected", "db", cfg.Mongo.Database, "collection", cfg.Mongo.Collection)
		return repository.NewMongoRepository(client.Database(cfg.Mongo.Database), cfg.Mongo.Collection), closeFn, nil

	default:
		logger.Warn("using the in-memory order store, orders are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}
}

// newCarrier shares the token through redis when configured so every
// instance reuses one carrier session.
func newCarrier(cfg *config.Config) (*carrier.Client, func()) {
	hc := &http.Client{Timeout: cfg.Carrier.Timeout}

	var (
		store   carrier.TokenStore = carrier.NewMemoryTokenStore()
		closeFn                    = func() {}
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = carrier.NewRedisTokenStore(rdb)
		closeFn = func() { _ = rdb.Close() }
	}

	tokens := carrier.NewTokenSource(cfg.Carrier, hc, store)
	return carrier.NewClient(cfg.Carrier, tokens, hc), closeFn
}

func newLabelStore(ctx context.Context, cfg *config.Config) (storage.LabelStore, error) {
	if !cfg.S3.Enabled {
		return storage.NewMemoryLabelStore(), nil
	}
	s, err := storage.NewS3LabelStore(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("label store: %w", err)
	}
	return s, nil
}
