// Package amqpclient publishes pipeline alerts to RabbitMQ. It implements
// logging.Publisher.
package amqpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// channel is the subset of *amqp.Channel used by the publisher.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a connection and a channel on it.
type dialFunc func(url string) (channel, func() error, error)

// Publisher publishes JSON messages to a durable topic exchange. A closed
// connection is re-dialed on the next Publish.
type Publisher struct {
	url      string
	exchange string
	logger   *slog.Logger
	dial     dialFunc
	now      func() time.Time

	mu        sync.Mutex
	ch        channel
	closeConn func() error
	closed    bool
}

// New connects to the broker at url and declares exchange as a durable
// topic exchange.
func New(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	return newPublisher(url, exchange, logger, dialAMQP)
}

func newPublisher(url, exchange string, logger *slog.Logger, dial dialFunc) (*Publisher, error) {
	p := &Publisher{
		url:      url,
		exchange: exchange,
		logger:   logger,
		dial:     dial,
		now:      time.Now,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.channelLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn.Close, nil
}

// channelLocked returns the open channel, dialing when there is none.
func (p *Publisher) channelLocked() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		closeConn()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.ch = ch
	p.closeConn = closeConn
	p.logger.Info("connected to RabbitMQ", "exchange", p.exchange)
	return ch, nil
}

// resetLocked drops the current connection so the next Publish re-dials.
func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch = nil
	p.closeConn = nil
}

// Publish sends body under routingKey as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
	}

	p.logger.Debug("published message",
		"exchange", p.exchange,
		"routing_key", routingKey,
		"message_id", msg.MessageId,
	)
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.resetLocked()
	return nil
}
