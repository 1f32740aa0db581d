package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection owns one AMQP connection and its primary channel. It is passed
// by reference to every component that needs broker access; the owner calls
// Close on shutdown after in-flight publishes and acks complete.
type Connection struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	logger *zap.Logger
}

func Connect(url string, logger *zap.Logger) (*Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	logger.Info("Connected to RabbitMQ")

	return &Connection{
		conn:   conn,
		ch:     ch,
		logger: logger,
	}, nil
}

// Channel returns the primary channel.
func (c *Connection) Channel() *amqp091.Channel {
	return c.ch
}

// NewChannel opens an extra channel on the same connection. Consumers and
// topology setup use their own channels so a channel-level error cannot take
// the publisher down with it.
func (c *Connection) NewChannel() (*amqp091.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

func (c *Connection) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Connection) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.logger.Info("RabbitMQ connection closed")
}
