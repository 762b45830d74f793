// Package config 載入服務配置：yaml 檔 -> .env -> 環境變數 (LEDGER_ 前綴) -> 預設值
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/pkg/logger"
	"github.com/JoeShih716/go-agency-ledger/pkg/mysql"
	"github.com/JoeShih716/go-agency-ledger/pkg/postgres"
	"github.com/JoeShih716/go-agency-ledger/pkg/redis"
)

const (
	// DefaultPath 預設配置檔路徑，可由 LEDGER_CONFIG 覆寫
	DefaultPath = "config/config.yaml"
	envPrefix   = "LEDGER_"
)

// StoreType 帳戶儲存的實作
type StoreType string

const (
	StoreMemoryMutex StoreType = "memory-mutex"
	StoreMemoryLMAX  StoreType = "memory-lmax"
	StoreMySQL       StoreType = "mysql"
	StorePostgres    StoreType = "postgres"
	StoreRedis       StoreType = "redis"
)

type Config struct {
	Server   ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log      logger.Config   `yaml:"log" envPrefix:"LOG_"`
	Store    StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Fees     FeeConfig       `yaml:"fees" envPrefix:"FEES_"`
	MySQL    mysql.Config    `yaml:"mysql" envPrefix:"MYSQL_"`
	Postgres postgres.Config `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis    redis.Config    `yaml:"redis" envPrefix:"REDIS_"`
	Kafka    kafka.Config    `yaml:"kafka" envPrefix:"KAFKA_"`
	// Accounts 啟動時開立的帳戶 (已存在則略過)
	Accounts []SeedAccount `yaml:"accounts"`
}

type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr" env:"GRPC_ADDR"`
	HTTPAddr        string        `yaml:"http_addr" env:"HTTP_ADDR"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type StoreConfig struct {
	Type    StoreType `yaml:"type" env:"TYPE"`
	WALPath string    `yaml:"wal_path" env:"WAL_PATH"`
	// BootstrapFromMySQL 記憶體帳本啟動時從 MySQL 載入帳戶快照
	BootstrapFromMySQL bool `yaml:"bootstrap_from_mysql" env:"BOOTSTRAP_FROM_MYSQL"`
}

// FeeConfig 手續費 (十進位字串，單位)
type FeeConfig struct {
	Withdrawal  string `yaml:"withdrawal" env:"WITHDRAWAL"`
	CrossAgency string `yaml:"cross_agency" env:"CROSS_AGENCY"`
}

type SeedAccount struct {
	Agency  int64  `yaml:"agency"`
	Account int64  `yaml:"account"`
	Owner   string `yaml:"owner"`
	Balance string `yaml:"balance"`
}

// Load 載入配置
//
// 參數:
//
//	path: 配置檔路徑；空字串時使用 LEDGER_CONFIG 或 DefaultPath
//
// 回傳值:
//
//	Config: 補全預設值並驗證後的配置
//	error: 讀檔、解析或驗證失敗
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(envPrefix + "CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// 沒有預設配置檔時只使用環境變數與預設值
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults 補全預設配置 (如果 yaml 與環境變數都沒寫)
func (c *Config) ApplyDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemoryMutex
	}
	if c.Store.WALPath == "" {
		c.Store.WALPath = "wal.log"
	}
	if c.Fees.Withdrawal == "" {
		c.Fees.Withdrawal = domain.DefaultFees.Withdrawal.String()
	}
	if c.Fees.CrossAgency == "" {
		c.Fees.CrossAgency = domain.DefaultFees.CrossAgency.String()
	}
	c.MySQL.ApplyDefaults()
	c.Postgres.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Kafka.ApplyDefaults()
}

// Validate 檢查配置是否可用
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemoryMutex, StoreMemoryLMAX, StoreMySQL, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Store.Type == StorePostgres && c.Postgres.DSN == "" {
		return errors.New("postgres store requires postgres.dsn")
	}
	if _, err := c.Fees.Policy(); err != nil {
		return err
	}
	if _, err := c.SeedAccounts(); err != nil {
		return err
	}
	return nil
}

// IsMemory 是否使用記憶體帳本
func (s StoreConfig) IsMemory() bool {
	return s.Type == StoreMemoryMutex || s.Type == StoreMemoryLMAX
}

// Policy 轉換為 FeePolicy
func (f FeeConfig) Policy() (domain.StandardFees, error) {
	withdrawal, err := domain.ParseBalance(f.Withdrawal)
	if err != nil {
		return domain.StandardFees{}, fmt.Errorf("fees.withdrawal %q: %w", f.Withdrawal, err)
	}
	cross, err := domain.ParseBalance(f.CrossAgency)
	if err != nil {
		return domain.StandardFees{}, fmt.Errorf("fees.cross_agency %q: %w", f.CrossAgency, err)
	}
	return domain.StandardFees{Withdrawal: withdrawal, CrossAgency: cross}, nil
}

// SeedAccounts 轉換並驗證啟動帳戶
func (c *Config) SeedAccounts() ([]domain.Account, error) {
	accounts := make([]domain.Account, 0, len(c.Accounts))
	seen := make(map[domain.AccountKey]struct{}, len(c.Accounts))
	for i, s := range c.Accounts {
		balance := domain.Amount(0)
		if s.Balance != "" {
			b, err := domain.ParseBalance(s.Balance)
			if err != nil {
				return nil, fmt.Errorf("accounts[%d] balance %q: %w", i, s.Balance, err)
			}
			balance = b
		}
		a, err := domain.NewAccount(domain.AccountKey{Agency: s.Agency, Number: s.Account}, s.Owner, balance)
		if err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, dup := seen[a.Key()]; dup {
			return nil, fmt.Errorf("accounts[%d] %s: %w", i, a.Key(), domain.ErrAccountAlreadyExists)
		}
		seen[a.Key()] = struct{}{}
		accounts = append(accounts, a)
	}
	return accounts, nil
}
