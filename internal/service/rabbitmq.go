package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/config"
	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

const confirmTimeout = 5 * time.Second

// EventMirror publishes accepted events to a topic exchange for downstream consumers.
type EventMirror struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	config   *config.RabbitMQConfig
	mu       sync.Mutex
}

// NewEventMirror connects to the broker and declares the exchange.
func NewEventMirror(cfg *config.RabbitMQConfig) (*EventMirror, error) {
	m := &EventMirror{config: cfg}
	if err := m.connect(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EventMirror) connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     m.config.Host,
		Port:     m.config.Port,
		Username: m.config.User,
		Password: m.config.Password,
		Vhost:    "/",
	}

	conn, err := amqp.Dial(uri.String())
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		m.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	m.conn = conn
	m.channel = ch
	m.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	logger.L().Info("Connected to RabbitMQ", zap.String("exchange", m.config.Exchange))
	return nil
}

// RoutingKey returns "<prefix>.<sourceKind>.<kind>" for event.
func (m *EventMirror) RoutingKey(event *models.NotificationEvent) string {
	return fmt.Sprintf("%s.%s.%s", m.config.RoutingKey, event.SourceKind, event.Kind)
}

// Publish sends event as a persistent JSON message and waits for the broker ack.
func (m *EventMirror) Publish(ctx context.Context, event *models.NotificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel == nil {
		return errors.New("channel is not initialized")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	messageID := event.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	routingKey := m.RoutingKey(event)

	err = m.channel.PublishWithContext(
		ctx,
		m.config.Exchange, // exchange
		routingKey,        // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    messageID,
			Type:         string(event.Kind),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirm, ok := <-m.confirms:
		if !ok {
			return errors.New("confirm channel closed")
		}
		if !confirm.Ack {
			return errors.New("message was not acknowledged by broker")
		}
	case <-time.After(confirmTimeout):
		return errors.New("timeout waiting for publish confirmation")
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.L().Debug("Mirrored event to RabbitMQ",
		zap.String("eventId", messageID),
		zap.String("routingKey", routingKey),
	)
	return nil
}

// Close closes the channel and connection.
func (m *EventMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.channel != nil {
		if err := m.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing mirror: %w", err)
	}

	logger.L().Info("RabbitMQ mirror closed")
	return nil
}

// IsHealthy reports whether the connection and channel are open.
func (m *EventMirror) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conn != nil && !m.conn.IsClosed() && m.channel != nil && !m.channel.IsClosed()
}
