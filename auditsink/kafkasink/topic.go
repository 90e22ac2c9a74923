package kafkasink

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EnsureTopic creates topic when missing and waits up to maxWait for its
// partitions to appear. An existing topic is not an error.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int, maxWait time.Duration, log *zap.Logger) error {
	if len(brokers) == 0 {
		return errors.New("kafkasink: no brokers")
	}
	if partitions <= 0 {
		partitions = 1
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer cc.Close()

	if err := cc.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}); err != nil {
		log.Debug("create topic (maybe exists)", zap.String("topic", topic), zap.Error(err))
	}

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		ps, err := conn.ReadPartitions(topic)
		if err == nil && len(ps) > 0 {
			log.Info("topic ready", zap.String("topic", topic))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	log.Warn("topic not confirmed ready in time", zap.String("topic", topic))
	return nil
}
