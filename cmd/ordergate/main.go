// ordergate accepts bulk order submissions and forwards them to the trade
// execution service under admission control.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/finvex/ordergate/internal/admission"
	"github.com/finvex/ordergate/internal/breaker"
	"github.com/finvex/ordergate/internal/config"
	"github.com/finvex/ordergate/internal/database"
	"github.com/finvex/ordergate/internal/events"
	"github.com/finvex/ordergate/internal/health"
	"github.com/finvex/ordergate/internal/orders/model"
	"github.com/finvex/ordergate/internal/orders/repository"
	"github.com/finvex/ordergate/internal/overload"
	"github.com/finvex/ordergate/internal/pipeline"
	"github.com/finvex/ordergate/internal/server"
	"github.com/finvex/ordergate/internal/tradeexec"
	"github.com/finvex/ordergate/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ordergate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, sqlDB, err := database.Open(&cfg.Database, log)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&model.Order{}, &model.Execution{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := cache.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis not available, proceeding without order cache", zap.Error(err))
			cache = nil
		}
	}

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	defer publisher.Close()

	probe := overload.NewProbe(&cfg.Overload, cfg.Server.MaxInFlight, sqlDB)
	detector := overload.NewDetector(overload.Config{
		ThreadPoolThreshold:    cfg.Overload.ThreadPoolThreshold,
		DBConnectionThreshold:  cfg.Overload.DBConnectionThreshold,
		MemoryThreshold:        cfg.Overload.MemoryThreshold,
		ActiveRequestThreshold: cfg.Overload.ActiveRequestThreshold,
		BaseRetryDelaySeconds:  cfg.Overload.BaseRetryDelaySeconds,
		MaxRetryDelaySeconds:   cfg.Overload.MaxRetryDelaySeconds,
	})
	brk := breaker.New(breaker.Config{
		UtilizationTripThreshold: cfg.Breaker.UtilizationTripThreshold,
		MaxConsecutiveFailures:   int64(cfg.Breaker.MaxConsecutiveFailures),
		RecoveryTimeout:          cfg.Breaker.RecoveryTimeout,
	}, log.Named("breaker"))
	gate := admission.NewGate(cfg.Admission.Permits, cfg.Admission.AcquireTimeout, log.Named("admission"))

	repo := repository.NewOrderRepository(db, cache, cfg.Redis.CacheTTL, log.Named("repository"))
	execClient := tradeexec.NewHTTPClient(&cfg.TradeExec, log.Named("tradeexec"))

	submitter := pipeline.NewSubmitter(pipeline.Config{
		LoadTimeout:   cfg.Pipeline.LoadTimeout,
		UpdateTimeout: cfg.Pipeline.UpdateTimeout,
		MaxBatchSize:  cfg.Pipeline.MaxBatchSize,
	}, gate, brk, probe, detector, repo, execClient, publisher, log.Named("pipeline"))

	checker := health.NewChecker(gate, brk, probe, detector)
	srv := server.New(&cfg.Server, submitter, repo, checker, probe, log.Named("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
