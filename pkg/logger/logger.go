package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 定義 Logger 配置
type Config struct {
	Level       string `yaml:"level" env:"LEVEL"`             // debug, info, warn, error
	Format      string `yaml:"format" env:"FORMAT"`           // json 或 console
	Development bool   `yaml:"development" env:"DEVELOPMENT"` // 開發模式 (彩色輸出、stacktrace)
}

// New 依配置建立 zap Logger
//
// 回傳值:
//
//	*zap.Logger: 結構化 Logger
//	zap.AtomicLevel: 可於執行期調整的 Log 等級
//	error: 等級或格式不合法
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if strings.TrimSpace(cfg.Level) != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	base := zap.NewProductionConfig()
	if cfg.Development {
		base = zap.NewDevelopmentConfig()
	}
	switch cfg.Format {
	case "", "json":
		base.Encoding = "json"
	case "console":
		base.Encoding = "console"
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	base.Level = level
	base.DisableStacktrace = !cfg.Development
	base.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	base.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := base.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return log, level, nil
}
