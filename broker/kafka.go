package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second
)

// KafkaBroker implements MessageBroker using Apache Kafka. Each subscribed
// channel runs its own consumer-group session. Group ids carry a
// per-instance suffix: the fabric needs broadcast delivery (every instance
// sees every event), and a shared group would turn that into work-sharing.
type KafkaBroker struct {
	brokers []string
	groupID string
	produce sarama.SyncProducer
	config  *sarama.Config
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[string]*kafkaSubscription
	closed bool
}

type kafkaSubscription struct {
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	events chan Event
}

// NewKafkaBroker creates a new Kafka fabric adapter. instanceID is appended
// to the consumer group id.
func NewKafkaBroker(brokers []string, groupID, instanceID string, log *zap.Logger) (*KafkaBroker, error) {
	config := sarama.NewConfig()

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond

	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	config.Version = sarama.V4_0_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaBroker{
		brokers: brokers,
		groupID: fmt.Sprintf("%s-%s", groupID, instanceID),
		produce: producer,
		config:  config,
		log:     log,
		subs:    make(map[string]*kafkaSubscription),
	}, nil
}

func (b *KafkaBroker) Type() string { return "kafka" }

// topicFor maps a fabric channel name to a legal Kafka topic name.
func topicFor(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// Publish sends an event to the channel's topic with retry.
func (b *KafkaBroker) Publish(ctx context.Context, channel string, event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	b.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic:     topicFor(channel),
		Key:       sarama.StringEncoder(event.Key),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	}

	operation := func() error {
		_, _, err := b.produce.SendMessage(kafkaMsg)
		return err
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		b.log.Warn("retrying Kafka publish",
			zap.String("channel", channel),
			zap.Duration("nextAttemptIn", d),
			zap.Error(err))
	})
}

// Subscribe starts a consumer-group session for the channel's topic.
func (b *KafkaBroker) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}
	if _, ok := b.subs[channel]; ok {
		return nil, fmt.Errorf("already subscribed to %s", channel)
	}

	group, err := sarama.NewConsumerGroup(b.brokers, b.groupID, b.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, subscriberBuffer)
	handler := &consumerGroupHandler{
		events: events,
		ready:  make(chan bool),
		log:    b.log,
	}

	go func() {
		defer close(events)
		consumeLoop(subCtx, b.log, channel, func(ctx context.Context) error {
			return group.Consume(ctx, []string{topicFor(channel)}, handler)
		})
	}()

	go func() {
		for err := range group.Errors() {
			b.log.Error("consumer group error", zap.String("channel", channel), zap.Error(err))
		}
	}()

	select {
	case <-handler.ready:
	case <-subCtx.Done():
		cancel()
		group.Close()
		return nil, subCtx.Err()
	case <-time.After(10 * time.Second):
		cancel()
		group.Close()
		return nil, fmt.Errorf("timeout waiting for consumer to be ready")
	}

	b.subs[channel] = &kafkaSubscription{group: group, cancel: cancel, events: events}
	return events, nil
}

// consumeLoop re-enters consume until ctx is cancelled. A nil return is a
// group rebalance and rejoins immediately; an error waits out an
// exponential backoff before rejoining, so a broker outage degrades the
// feed instead of ending it.
func consumeLoop(ctx context.Context, log *zap.Logger, channel string, consume func(context.Context) error) {
	strategy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(kafkaInitialBackoff),
		backoff.WithMaxInterval(kafkaMaxBackoff),
		backoff.WithMaxElapsedTime(0),
	), ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		err := consume(ctx)
		if err == nil {
			strategy.Reset()
			continue
		}
		if ctx.Err() != nil {
			return
		}

		wait := strategy.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		log.Warn("consumer group session failed, rejoining",
			zap.String("channel", channel),
			zap.Duration("nextAttemptIn", wait),
			zap.Error(err))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (b *KafkaBroker) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	sub, ok := b.subs[channel]
	if ok {
		delete(b.subs, channel)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	sub.cancel()
	return sub.group.Close()
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for channel, sub := range b.subs {
		sub.cancel()
		if err := sub.group.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer group for %s: %w", channel, err))
		}
		delete(b.subs, channel)
	}
	if err := b.produce.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	events chan<- Event
	ready  chan bool
	once   sync.Once
	log    *zap.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() {
		close(h.ready)
	})
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case kafkaMsg := <-claim.Messages():
			if kafkaMsg == nil {
				return nil
			}

			var event Event
			if err := json.Unmarshal(kafkaMsg.Value, &event); err != nil {
				h.log.Warn("dropping undecodable fabric event", zap.Error(err))
				// Mark anyway to avoid reprocessing a poison message.
				session.MarkMessage(kafkaMsg, "")
				continue
			}

			select {
			case h.events <- event:
			case <-session.Context().Done():
				return nil
			}

			session.MarkMessage(kafkaMsg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
