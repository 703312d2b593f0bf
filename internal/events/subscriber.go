package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/config"
)

// EventHandler is a function that processes received events.
type EventHandler func(routingKey string, body []byte) error

// WorkflowEventHandler adapts fn into an EventHandler that decodes WorkflowEvent bodies.
func WorkflowEventHandler(fn func(*WorkflowEvent) error) EventHandler {
	return func(routingKey string, body []byte) error {
		var event WorkflowEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("decode workflow event %s: %w", routingKey, err)
		}
		return fn(&event)
	}
}

// Subscriber provides event subscription from RabbitMQ.
type Subscriber interface {
	// Subscribe starts consuming messages from RabbitMQ.
	Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error

	// Close closes the subscriber connection.
	Close() error
}

// RabbitMQSubscriber implements Subscriber using RabbitMQ.
type RabbitMQSubscriber struct {
	config   *config.RabbitMQConfig
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	logger   *zap.Logger

	mu           sync.RWMutex
	closed       bool
	reconnecting bool
	handler      EventHandler
	routingKeys  []string
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewRabbitMQSubscriber creates a new RabbitMQ subscriber.
// The queue is non-durable and removed once its last consumer goes away.
func NewRabbitMQSubscriber(cfg *config.RabbitMQConfig, queueName string, logger *zap.Logger) (*RabbitMQSubscriber, error) {
	s := &RabbitMQSubscriber{
		config:   cfg,
		exchange: cfg.Exchange,
		queue:    queueName,
		logger:   logger,
	}

	if err := s.connect(); err != nil {
		return nil, err
	}

	return s, nil
}

// connect establishes connection to RabbitMQ.
func (s *RabbitMQSubscriber) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("subscriber is closed")
	}

	conn, channel, err := dialExchange(s.config.URL, s.exchange)
	if err != nil {
		return err
	}

	_, err = channel.QueueDeclare(
		s.queue, // name
		false,   // durable
		true,    // auto-delete when no consumers
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Rebind after a reconnect
	for _, routingKey := range s.routingKeys {
		if err := channel.QueueBind(s.queue, routingKey, s.exchange, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to bind queue to routing key %s: %w", routingKey, err)
		}
	}

	prefetch := s.config.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	s.conn = conn
	s.channel = channel

	closeChan := make(chan *amqp.Error, 1)
	s.conn.NotifyClose(closeChan)

	go s.handleClose(closeChan)

	s.logger.Info("Connected to RabbitMQ for subscription",
		zap.String("exchange", s.exchange),
		zap.String("queue", s.queue),
	)

	return nil
}

// handleClose handles connection close events and triggers reconnection.
func (s *RabbitMQSubscriber) handleClose(closeChan chan *amqp.Error) {
	err := <-closeChan
	if err == nil {
		return // Graceful close
	}

	s.logger.Warn("RabbitMQ subscriber connection closed", zap.Error(err))
	s.reconnect()
}

// reconnect attempts to reconnect to RabbitMQ with exponential backoff.
func (s *RabbitMQSubscriber) reconnect() {
	s.mu.Lock()
	if s.closed || s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	delay, maxReconnectWait := reconnectDelays(s.config)

	for {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		s.logger.Info("Attempting to reconnect subscriber to RabbitMQ",
			zap.Duration("delay", delay),
		)

		time.Sleep(delay)

		if err := s.connect(); err != nil {
			delay = nextDelay(delay, maxReconnectWait)
			s.logger.Warn("Subscriber reconnection failed",
				zap.Error(err),
				zap.Duration("next_attempt", delay),
			)
			continue
		}

		s.mu.RLock()
		handler := s.handler
		ctx := s.ctx
		s.mu.RUnlock()

		if handler != nil && ctx != nil {
			go s.consume(ctx, handler)
		}

		s.logger.Info("Subscriber reconnected to RabbitMQ")
		return
	}
}

// Subscribe binds the queue to routingKeys and starts consuming in the background.
func (s *RabbitMQSubscriber) Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("subscriber is closed")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.handler = handler
	s.routingKeys = routingKeys

	for _, routingKey := range routingKeys {
		err := s.channel.QueueBind(
			s.queue,    // queue name
			routingKey, // routing key
			s.exchange, // exchange
			false,      // no-wait
			nil,        // arguments
		)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to bind queue to routing key %s: %w", routingKey, err)
		}
	}
	consumeCtx := s.ctx
	s.mu.Unlock()

	s.logger.Info("Subscribed to routing keys",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", s.queue),
	)

	go s.consume(consumeCtx, handler)

	return nil
}

// consume consumes messages from the queue.
func (s *RabbitMQSubscriber) consume(ctx context.Context, handler EventHandler) {
	s.mu.RLock()
	if s.closed || s.channel == nil {
		s.mu.RUnlock()
		return
	}
	channel := s.channel
	s.mu.RUnlock()

	msgs, err := channel.Consume(
		s.queue, // queue
		"",      // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		s.logger.Error("Failed to start consuming", zap.Error(err))
		return
	}

	s.logger.Info("Started consuming messages from queue", zap.String("queue", s.queue))

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				s.logger.Info("Message channel closed")
				return
			}

			if err := s.processMessage(msg.RoutingKey, msg.Body, handler); err != nil {
				s.logger.Error("Failed to process message",
					zap.Error(err),
					zap.String("routing_key", msg.RoutingKey),
				)
				// Malformed events are dropped rather than requeued forever
				_ = msg.Nack(false, false)
			} else {
				_ = msg.Ack(false)
			}

		case <-ctx.Done():
			s.logger.Info("Subscriber context cancelled, stopping consumption")
			return
		}
	}
}

// processMessage processes a single message.
func (s *RabbitMQSubscriber) processMessage(routingKey string, body []byte, handler EventHandler) error {
	s.logger.Debug("Received message",
		zap.String("routing_key", routingKey),
		zap.Int("body_size", len(body)),
	)

	if !json.Valid(body) {
		return fmt.Errorf("invalid JSON in message body")
	}

	if err := handler(routingKey, body); err != nil {
		return fmt.Errorf("handler error: %w", err)
	}

	return nil
}

// Close closes the subscriber connection.
func (s *RabbitMQSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.cancel != nil {
		s.cancel()
	}

	var errs []error

	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("RabbitMQ subscriber closed")

	if len(errs) > 0 {
		return fmt.Errorf("errors closing subscriber: %v", errs)
	}
	return nil
}

// NoOpSubscriber is a subscriber that does nothing (for testing or when events disabled).
type NoOpSubscriber struct{}

// NewNoOpSubscriber creates a new no-op subscriber.
func NewNoOpSubscriber() *NoOpSubscriber {
	return &NoOpSubscriber{}
}

func (s *NoOpSubscriber) Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error {
	return nil
}

func (s *NoOpSubscriber) Close() error {
	return nil
}

// Ensure interface compliance
var _ Subscriber = (*RabbitMQSubscriber)(nil)
var _ Subscriber = (*NoOpSubscriber)(nil)
