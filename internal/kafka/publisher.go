package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/irfndi/adaptive-ensemble/internal/events"
	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 256

// Subscriber is the part of the event bus the publisher listens on.
type Subscriber interface {
	Subscribe(e events.Event, buffer int) (<-chan any, func())
}

// Publisher forwards bus events to a Kafka topic, keyed by instrument.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	unsubs []func()
	wg     sync.WaitGroup
}

// NewPublisher dials the configured brokers with a synchronous producer.
func NewPublisher(cfg config.KafkaConfig, logger *logrus.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers must not be empty")
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V2_8_0_0
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{producer: producer, topic: topic, logger: logger}
}

// Publish sends one event envelope.
func (p *Publisher) Publish(e events.Event, payload any) error {
	value, err := json.Marshal(events.NewEnvelope(e, payload))
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e)},
		},
	}
	if key := events.InstrumentOf(payload); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e, err)
	}
	p.logger.WithFields(logrus.Fields{
		"event":     string(e),
		"topic":     p.topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("Event published to kafka")
	return nil
}

// Start subscribes to every bus topic and forwards events until ctx is done
// or Close is called.
func (p *Publisher) Start(ctx context.Context, bus Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for _, e := range events.All {
		ch, unsub := bus.Subscribe(e, subscriberBuffer)
		p.unsubs = append(p.unsubs, unsub)

		p.wg.Add(1)
		go p.forward(ctx, e, ch)
	}
	p.logger.WithField("topic", p.topic).Info("Kafka event sink started")
}

func (p *Publisher) forward(ctx context.Context, e events.Event, ch <-chan any) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(e, payload); err != nil {
				p.logger.WithError(err).WithField("event", string(e)).Warn("Failed to forward event")
			}
		}
	}
}

// Close stops forwarding and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil
	p.mu.Unlock()

	p.wg.Wait()
	return p.producer.Close()
}
