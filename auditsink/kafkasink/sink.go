// Package kafkasink publishes goGuard audit events to a Kafka topic as JSON.
package kafkasink

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	goGuard "github.com/MrEthical07/goGuard"
)

const defaultWriteTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish. Defaults to 5s.
	WriteTimeout time.Duration
}

// Sink implements goGuard.AuditSink. Events are keyed by user id so one
// user's events stay ordered within a partition.
type Sink struct {
	w       MessageWriter
	topic   string
	timeout time.Duration
	log     *zap.Logger
	failed  atomic.Uint64
}

var _ goGuard.AuditSink = (*Sink)(nil)

// New returns a sink writing to cfg.Topic on cfg.Brokers.
func New(cfg Config, log *zap.Logger) *Sink {
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}, cfg.Topic, cfg.WriteTimeout, log)
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w MessageWriter, topic string, timeout time.Duration, log *zap.Logger) *Sink {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		w:       w,
		topic:   topic,
		timeout: timeout,
		log:     log.With(zap.String("component", "kafka.audit"), zap.String("topic", topic)),
	}
}

// Emit publishes event. Failures are logged and counted; the dispatcher
// never blocks on a broken broker past the write timeout.
func (s *Sink) Emit(ctx context.Context, event goGuard.AuditEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		s.log.Error("audit marshal failed", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}

	hdrs := headerCarrier{"event_type": event.EventType}
	otel.GetTextMapPropagator().Inject(ctx, hdrs)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:     []byte(event.UserID),
		Value:   value,
		Headers: hdrs.toKafka(),
		Time:    event.Timestamp,
	}
	if err := s.w.WriteMessages(wctx, msg); err != nil {
		s.failed.Add(1)
		s.log.Error("audit publish failed", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}
	s.log.Debug("audit published", zap.String("event_type", event.EventType), zap.Int("value_len", len(value)))
}

// Failed returns the number of events that could not be published.
func (s *Sink) Failed() uint64 { return s.failed.Load() }

func (s *Sink) Close() error { return s.w.Close() }

type headerCarrier map[string]string

func (h headerCarrier) Get(k string) string { return h[k] }
func (h headerCarrier) Set(k, v string)     { h[k] = v }
func (h headerCarrier) Keys() []string {
	ks := make([]string, 0, len(h))
	for k := range h {
		ks = append(ks, k)
	}
	return ks
}

func (h headerCarrier) toKafka() []kafka.Header {
	hs := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		hs = append(hs, kafka.Header{Key: k, Value: []byte(v)})
	}
	return hs
}
