// Package eventbus is a fire-and-forget publisher of tool-invocation
// outcomes over Kafka, so an external observability pipeline can
// consume session activity without the core blocking on it.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"browsercontrol/internal/logging"
)

// ToolOutcome is one published event: a completed tool invocation.
type ToolOutcome struct {
	SessionID  string `json:"sessionId"`
	Tool       string `json:"tool"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  int64  `json:"timestamp"`
}

// Publisher wraps a kafka-go writer. Publish never blocks the caller
// waiting on broker acknowledgement beyond its own short internal
// deadline; failures are logged and swallowed, matching the core's
// rule that observability plumbing can't fail a tool invocation.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, outcome ToolOutcome) {
	data, err := json.Marshal(outcome)
	if err != nil {
		logging.Warn("eventbus: marshal failed", zap.Error(err))
		return
	}

	msg := kafka.Message{Key: []byte(outcome.SessionID), Value: data}
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		logging.Warn("eventbus: publish failed", zap.String("tool", outcome.Tool), zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
