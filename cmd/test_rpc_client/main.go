package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/pkg/grpc"
	"github.com/JoeShih716/go-agency-ledger/pkg/logger"
)

// Config 壓測參數，由環境變數 (LOADTEST_ 前綴) 設定
type Config struct {
	Target      string        `env:"TARGET" envDefault:"localhost:50051"`
	TotalCount  int           `env:"TOTAL" envDefault:"100000"`
	Concurrency int           `env:"CONCURRENCY" envDefault:"500"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"120s"`
	Agency      int64         `env:"AGENCY" envDefault:"10"`
	Account     int64         `env:"ACCOUNT" envDefault:"1001"`
	Amount      string        `env:"AMOUNT" envDefault:"0.01"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LOADTEST_"}); err != nil {
		log.Fatalf("parse env: %v", err)
	}
	amount, err := domain.ParseAmount(cfg.Amount)
	if err != nil {
		log.Fatalf("invalid amount %q: %v", cfg.Amount, err)
	}
	logg, _, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console"})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	pool := grpc.NewPool(grpc.WithInterceptor(grpc.LoggingInterceptor(logg)))
	defer pool.Close()
	conn, err := pool.GetConnection(cfg.Target)
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	c := grpc_adapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	before, err := c.GetBalance(ctx, cfg.Agency, cfg.Account)
	if err != nil {
		log.Fatalf("get balance: %v", err)
	}

	// 同一帳戶並發提款：成功筆數 * (金額 + 手續費) 必須等於餘額減少量
	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int64
		insufficient atomic.Int64
		failed       atomic.Int64
	)
	sem := make(chan struct{}, cfg.Concurrency)
	startTime := time.Now()

	for i := 0; i < cfg.TotalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := c.Withdraw(ctx, cfg.Agency, cfg.Account, amount)
			switch {
			case err == nil:
				succeeded.Add(1)
			case status.Code(err) == codes.FailedPrecondition:
				insufficient.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	after, err := c.GetBalance(context.Background(), cfg.Agency, cfg.Account)
	if err != nil {
		log.Fatalf("get balance: %v", err)
	}

	fmt.Printf("Completed %d requests in %v\n", cfg.TotalCount, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(cfg.TotalCount)/elapsed.Seconds())
	fmt.Printf("succeeded=%d insufficient=%d failed=%d\n", succeeded.Load(), insufficient.Load(), failed.Load())
	fmt.Printf("balance %s -> %s (debited %s)\n", before, after, before-after)
	logg.Info("load test finished",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Stringer("balance_before", before),
		zap.Stringer("balance_after", after),
	)
}
