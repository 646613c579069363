package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cafe-service/config"
	"cafe-service/internal/api"
	"cafe-service/internal/broker"
	"cafe-service/internal/models"
	"cafe-service/internal/redisclient"
	"cafe-service/internal/service"
	"cafe-service/internal/store"
	"cafe-service/internal/store/memstore"
	"cafe-service/internal/util"
	"cafe-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// backend is what the services and the worker need from persistence.
type backend interface {
	store.TxStore
	store.EventLog
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting cafe service")

	shutdownTracer, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Observ.TracingEnabled)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, closeDB, err := openBackend(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer closeDB()
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	var (
		stockCache  service.StockCache
		idempotency service.IdempotencyStore
		cacheWriter worker.StockCacheWriter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		stockCache, idempotency, cacheWriter = redisClient, redisClient, redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var events service.EventPublisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	ledger := service.NewStockLedger(db, stockCache, events)
	cartService := service.NewCartService(db, ledger)
	orderService := service.NewOrderService(db, idempotency, service.IdempotencyTTL{
		Pending: cfg.Business.RequestTimeout(),
		Done:    cfg.Business.IdempotencyTTL(),
	}, events)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var inventoryWorker *worker.InventoryWorker
	if cfg.Kafka.Enabled && cacheWriter != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory, cfg.Kafka.ConsumerGroup)
		inventoryWorker = worker.NewInventoryWorker(consumer, cacheWriter, db)
		go func() {
			if err := inventoryWorker.Start(workerCtx); err != nil {
				logger.Error("Inventory worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, ledger, orderService, db, cfg.Business.RequestTimeout())
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if inventoryWorker != nil {
		if err := inventoryWorker.Stop(); err != nil {
			logger.Error("Failed to stop inventory worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openBackend returns the configured store and a function releasing it.
func openBackend(cfg config.DatabaseConfig) (backend, func(), error) {
	switch cfg.Driver {
	case "memory":
		st := memstore.New()
		seedMenu(st)
		return st, func() {}, nil
	case "postgres", "":
		st, err := store.NewStore(cfg.URL, store.Options{
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		return st, func() { st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// seedMenu fills an in-memory store with a demo catalog.
func seedMenu(st *memstore.Store) {
	menu := []struct {
		name   string
		price  string
		amount int
	}{
		{"Espresso", "5.00", 50},
		{"Cappuccino", "8.50", 30},
		{"Pão de queijo", "4.00", 40},
		{"Cheesecake", "12.00", 10},
	}
	for i, item := range menu {
		st.AddProduct(models.Product{
			ID:    int64(i + 1),
			Name:  item.name,
			Price: decimal.RequireFromString(item.price),
		}, item.amount)
	}
}
