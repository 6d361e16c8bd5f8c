package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// Publisher mirrors case lifecycle events onto a RabbitMQ exchange so other
// systems (analytics, archival) can consume them. The mirror is strictly
// best-effort: the notification ledger is the durable record, and a failed
// publish never fails the transition.
type Publisher struct {
	mu         sync.Mutex
	amqpURL    string
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// TransitionEvent is the wire shape of one mirrored lifecycle event.
type TransitionEvent struct {
	TransitionID string    `json:"transition_id"`
	ReportID     string    `json:"report_id"`
	CaseID       string    `json:"case_id"`
	NewStatus    string    `json:"new_status"`
	ActorID      string    `json:"actor_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewPublisher connects to RabbitMQ and declares the exchange.
func NewPublisher(amqpURL, exchangeName, routingKey string) (*Publisher, error) {
	p := &Publisher{
		amqpURL:    amqpURL,
		exchange:   exchangeName,
		routingKey: routingKey,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish sends one transition event to the exchange. Reconnects once if the
// connection dropped since the last publish.
func (p *Publisher) Publish(event TransitionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	err = p.channel.Publish(p.exchange, p.routingKey, false, false, publishing)
	if err != nil && isConnClosedErr(err) {
		p.closeLocked()
		if connErr := p.connectLocked(); connErr != nil {
			return fmt.Errorf("failed to publish transition event: %w (reconnect failed: %v)", err, connErr)
		}
		err = p.channel.Publish(p.exchange, p.routingKey, false, false, publishing)
	}
	if err != nil {
		return fmt.Errorf("failed to publish transition event: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error

	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			log.Errorf("Failed to close channel: %v", channelErr)
			err = channelErr
		}
	}

	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			log.Errorf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}

	return err
}

// IsConnected indicates whether the publisher currently has an open
// connection and channel.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil
}

func (p *Publisher) connectLocked() error {
	conn, err := amqp.Dial(p.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func isConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}
