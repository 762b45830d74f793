package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

// Config 定義告警 Topic 的連線配置
type Config struct {
	Brokers      []string      `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic        string        `yaml:"topic" env:"TOPIC"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// ApplyDefaults 補全預設配置
func (c *Config) ApplyDefaults() {
	if c.Topic == "" {
		c.Topic = "ledger.transfer_inconsistency"
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// messageWriter kafka.Writer 中 Publisher 需要的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 將轉帳不一致告警發送到 Kafka
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewPublisher(cfg Config) *Publisher {
	cfg.ApplyDefaults()
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: cfg.WriteTimeout,
		},
		timeout: cfg.WriteTimeout,
	}
}

// RaiseTransferInconsistency 以 TransferID 為 key 發送 JSON 告警
func (p *Publisher) RaiseTransferInconsistency(ctx context.Context, anomaly domain.TransferAnomaly) error {
	data, err := json.Marshal(anomaly)
	if err != nil {
		return fmt.Errorf("marshal transfer anomaly: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(anomaly.TransferID.String()),
		Value: data,
		Time:  anomaly.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("publish transfer anomaly %s: %w", anomaly.TransferID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ usecase.Alarm = (*Publisher)(nil)
