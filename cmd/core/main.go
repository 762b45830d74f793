package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/in/grpc"
	rest_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/in/rest"
	alarm_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/alarm"
	kafka_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-agency-ledger/internal/config"
	"github.com/JoeShih716/go-agency-ledger/pkg/logger"
	"github.com/JoeShih716/go-agency-ledger/pkg/mysql"
	"github.com/JoeShih716/go-agency-ledger/pkg/postgres"
	"github.com/JoeShih716/go-agency-ledger/pkg/redis"
	"github.com/JoeShih716/go-agency-ledger/pkg/wal"
)

// seeder 可開戶的 Store
type seeder interface {
	Insert(ctx context.Context, account domain.Account) error
}

func main() {
	// 1. 載入設定
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化 Logger
	logg, _, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化帳戶儲存
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()
	store, closeStore, err := buildStore(storeCtx, cfg, logg)
	if err != nil {
		logg.Fatal("failed to init account store", zap.String("type", string(cfg.Store.Type)), zap.Error(err))
	}
	defer func() {
		stopStore()
		closeStore()
	}()
	logg.Info("account store ready", zap.String("type", string(cfg.Store.Type)))

	// 4. 告警通道：Log 一定啟用，有設定 broker 才送 Kafka
	alarms := alarm_adapter.Multi{alarm_adapter.NewLogAlarm(logg)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka_adapter.NewPublisher(cfg.Kafka)
		defer func() { _ = publisher.Close() }()
		alarms = append(alarms, publisher)
		logg.Info("kafka alarm enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// 5. 初始化 UseCase
	fees, err := cfg.Fees.Policy()
	if err != nil {
		logg.Fatal("invalid fee config", zap.Error(err))
	}
	engine := usecase.NewLedgerEngine(store,
		usecase.WithFeePolicy(fees),
		usecase.WithLogger(logg.Named("engine")),
		usecase.WithAlarm(alarms),
	)
	reporting := usecase.NewReportingService(store)

	// 6. gRPC Server
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logg.Fatal("failed to listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(engine, reporting, logg.Named("grpc")))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpc_adapter.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer) // 方便 grpcurl 等工具測試

	// 7. HTTP Server
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           rest_adapter.NewRouter(rest_adapter.NewHandler(engine, reporting, logg.Named("http")), logg.Named("http"), cfg.Server.RequestTimeout),
		ReadHeaderTimeout: cfg.Server.RequestTimeout,
	}

	serveErr := make(chan error, 2)
	go func() {
		logg.Info("starting grpc server", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logg.Info("starting http server", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http serve: %w", err)
		}
	}()

	// Graceful Shutdown
	select {
	case <-ctx.Done():
		logg.Info("shutting down server")
	case err := <-serveErr:
		logg.Error("server failed, shutting down", zap.Error(err))
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logg.Info("server exited")
}

// buildStore 依設定建立帳戶儲存，回傳的 close 函式釋放所有相關資源
func buildStore(ctx context.Context, cfg config.Config, logg *zap.Logger) (usecase.AccountStore, func(), error) {
	seeds, err := cfg.SeedAccounts()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Store.Type {
	case config.StoreMemoryMutex, config.StoreMemoryLMAX:
		accounts := seeds
		if cfg.Store.BootstrapFromMySQL {
			if accounts, err = loadFromMySQL(ctx, cfg.MySQL, seeds, logg); err != nil {
				return nil, nil, err
			}
		}
		walFile, err := wal.NewWAL(cfg.Store.WALPath)
		if err != nil {
			return nil, nil, fmt.Errorf("init wal: %w", err)
		}
		closeWAL := func() {
			if err := walFile.Close(); err != nil {
				logg.Error("close wal", zap.Error(err))
			}
		}
		if cfg.Store.Type == config.StoreMemoryMutex {
			store, err := memory_adapter.NewMutexStore(accounts, walFile)
			if err != nil {
				closeWAL()
				return nil, nil, err
			}
			return store, closeWAL, nil
		}
		store, err := memory_adapter.NewLMAXStore(accounts, walFile)
		if err != nil {
			closeWAL()
			return nil, nil, err
		}
		store.Start(ctx)
		return store, func() {
			<-store.Done()
			closeWAL()
		}, nil

	case config.StoreMySQL:
		client, err := mysql.NewClient(cfg.MySQL, logg)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() { _ = client.Close() }
		store := mysql_adapter.NewMySQLStore(client)
		if err := store.AutoMigrate(ctx); err != nil {
			closeClient()
			return nil, nil, fmt.Errorf("migrate accounts: %w", err)
		}
		if err := seed(ctx, store, seeds, logg); err != nil {
			closeClient()
			return nil, nil, err
		}
		return store, closeClient, nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres, logg)
		if err != nil {
			return nil, nil, err
		}
		store := postgres_adapter.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := seed(ctx, store, seeds, logg); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case config.StoreRedis:
		client, err := redis.NewClient(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() { _ = client.Close() }
		store := redis_adapter.NewRedisStore(client, cfg.Redis.KeyPrefix)
		if err := seed(ctx, store, seeds, logg); err != nil {
			closeClient()
			return nil, nil, err
		}
		return store, closeClient, nil
	}
	return nil, nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
}

// loadFromMySQL 以 MySQL 的帳戶為快照，補上設定檔中 MySQL 沒有的帳戶
func loadFromMySQL(ctx context.Context, cfg mysql.Config, seeds []domain.Account, logg *zap.Logger) ([]domain.Account, error) {
	client, err := mysql.NewClient(cfg, logg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	loaded, err := mysql_adapter.NewMySQLStore(client).LoadAllAccounts(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[domain.AccountKey]struct{}, len(loaded))
	for _, a := range loaded {
		known[a.Key()] = struct{}{}
	}
	for _, a := range seeds {
		if _, ok := known[a.Key()]; !ok {
			loaded = append(loaded, a)
		}
	}
	logg.Info("loaded accounts from mysql", zap.Int("count", len(loaded)))
	return loaded, nil
}

// seed 開立設定檔中的帳戶，已存在的帳戶略過
func seed(ctx context.Context, s seeder, accounts []domain.Account, logg *zap.Logger) error {
	created := 0
	for _, a := range accounts {
		err := s.Insert(ctx, a)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrAccountAlreadyExists):
		default:
			return fmt.Errorf("seed account %s: %w", a.Key(), err)
		}
	}
	logg.Info("seeded accounts", zap.Int("configured", len(accounts)), zap.Int("created", created))
	return nil
}
