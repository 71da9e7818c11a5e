// Package kafka publishes dispatch requests to a Kafka topic for
// executors running outside this process.
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	ckafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/version"
)

// Producer is the part of *ckafka.Producer the backend uses.
type Producer interface {
	Produce(msg *ckafka.Message, deliveryChan chan ckafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Backend writes each request as a JSON message keyed by its dispatch key,
// so all requests for one key land on the same partition in order.
type Backend struct {
	producer Producer
	topic    string
	timeout  time.Duration
	log      *zap.SugaredLogger
}

// Config selects brokers and topic.
type Config struct {
	Brokers         []string
	Topic           string
	DeliveryTimeout time.Duration
}

// NewBackend connects a producer to the configured brokers.
func NewBackend(cfg Config, log *zap.SugaredLogger) (*Backend, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "kafka backend needs at least one broker")
	}
	p, err := ckafka.NewProducer(&ckafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"acks":              "all",
		"client.id":         version.Get().ClientID(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create kafka producer for %s", strings.Join(cfg.Brokers, ","))
	}
	return NewBackendWithProducer(p, cfg.Topic, cfg.DeliveryTimeout, log), nil
}

// NewBackendWithProducer wraps an existing producer.
func NewBackendWithProducer(p Producer, topic string, timeout time.Duration, log *zap.SugaredLogger) *Backend {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Backend{producer: p, topic: topic, timeout: timeout, log: log}
}

// HandsOff is always true: consumers of the topic run the requests, so a
// delivered message frees its dispatch key.
func (b *Backend) HandsOff() bool {
	return true
}

// Submit produces the request and waits for its delivery report. A timeout
// is reported as a failure although the message may still be delivered
// later, so consumers see a request at least once.
func (b *Backend) Submit(ctx context.Context, req dispatch.Request) error {
	value, err := json.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "failed to encode request %s", req.Key)
	}

	delivery := make(chan ckafka.Event, 1)
	topic := b.topic
	err = b.producer.Produce(&ckafka.Message{
		TopicPartition: ckafka.TopicPartition{Topic: &topic, Partition: ckafka.PartitionAny},
		Key:            []byte(req.Key),
		Value:          value,
		Headers:        []ckafka.Header{{Key: "job_name", Value: []byte(req.JobName)}},
	}, delivery)
	if err != nil {
		return errors.Wrapf(err, "failed to produce %s to %s", req.Key, b.topic)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for delivery of %s", req.Key)
	case <-timer.C:
		return errors.Newf("delivery of %s to %s timed out after %s", req.Key, b.topic, b.timeout)
	case ev := <-delivery:
		m, ok := ev.(*ckafka.Message)
		if !ok {
			return errors.Newf("unexpected delivery event %T for %s", ev, req.Key)
		}
		if m.TopicPartition.Error != nil {
			return errors.Wrapf(m.TopicPartition.Error, "delivery of %s to %s failed", req.Key, b.topic)
		}
		b.log.Debugw("Delivered dispatch request",
			logger.FieldDispatchKey, req.Key,
			logger.FieldJobName, req.JobName,
			"topic", b.topic,
			"partition", m.TopicPartition.Partition,
			"offset", m.TopicPartition.Offset.String(),
		)
		return nil
	}
}

// Close flushes outstanding messages and closes the producer.
func (b *Backend) Close() {
	if left := b.producer.Flush(int(b.timeout / time.Millisecond)); left > 0 {
		b.log.Warnw("Kafka producer closed with undelivered messages", logger.FieldCount, left)
	}
	b.producer.Close()
}
