// Package events publishes batch outcome events to Kafka for downstream
// consumers. Publishing is asynchronous and never blocks the submission path;
// events are dropped (and counted in logs) when the queue is full.
package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// BatchCompleted is emitted once per finished batch submission.
type BatchCompleted struct {
	BatchID        uuid.UUID `json:"batch_id"`
	TotalRequested int       `json:"total_requested"`
	Successful     int       `json:"successful"`
	Failed         int       `json:"failed"`
	DurationMillis int64     `json:"duration_millis"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Publisher sends batch events. A nil *KafkaPublisher is a valid no-op.
type Publisher interface {
	PublishBatchCompleted(event BatchCompleted)
	Close() error
}

// KafkaPublisher implements Publisher over a kafka-go async writer.
type KafkaPublisher struct {
	writer  *kafka.Writer
	queue   chan BatchCompleted
	done    chan struct{}
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewKafkaPublisher creates a publisher; returns nil (a no-op publisher) when
// no brokers are configured.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if len(brokers) == 0 {
		return nil
	}
	p := &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		queue:  make(chan BatchCompleted, 1024),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.run()
	return p
}

// PublishBatchCompleted enqueues the event without blocking.
func (p *KafkaPublisher) PublishBatchCompleted(event BatchCompleted) {
	if p == nil {
		return
	}
	select {
	case p.queue <- event:
	default:
		dropped := p.dropped.Add(1)
		if dropped%100 == 1 {
			p.logger.Warn("batch event queue full, dropping events",
				zap.Uint64("dropped_total", dropped))
		}
	}
}

func (p *KafkaPublisher) run() {
	for {
		select {
		case event := <-p.queue:
			p.write(event)
		case <-p.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case event := <-p.queue:
					p.write(event)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) write(event BatchCompleted) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode batch event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BatchID.String()),
		Value: value,
	})
	if err != nil {
		p.logger.Warn("failed to publish batch event",
			zap.String("batch_id", event.BatchID.String()),
			zap.Error(err))
	}
}

// Close flushes queued events and shuts down the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.done)
	return p.writer.Close()
}
