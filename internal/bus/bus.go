// Package bus fans relayed messages out to live subscribers over RabbitMQ.
// Messages are published to a direct exchange with the conversation id as
// routing key; each subscription gets its own exclusive auto-delete queue,
// so subscribers never share or steal deliveries.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"wabridge/internal/config"
	"wabridge/internal/lib/sl"
)

type Bus struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *slog.Logger
}

func New(conf *config.Config, logger *slog.Logger) (*Bus, error) {
	conn, err := amqp.Dial(conf.Rabbit.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		conf.Rabbit.Exchange,
		amqp.ExchangeDirect,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Bus{
		conn:     conn,
		channel:  channel,
		exchange: conf.Rabbit.Exchange,
		log:      logger.With(sl.Module("bus")),
	}, nil
}

// Publish sends the payload to every subscriber of the conversation.
// Fire-and-forget: no publisher confirms, at-most-once.
func (b *Bus) Publish(ctx context.Context, conversationID string, payload []byte) error {
	err := b.channel.PublishWithContext(ctx,
		b.exchange,
		conversationID, // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %q: %w", conversationID, err)
	}
	return nil
}

// Subscription is one live stream of a conversation's payloads.
type Subscription struct {
	C       <-chan []byte
	channel *amqp.Channel
	done    chan struct{}
	once    sync.Once
}

// Close tears the subscription down; its queue auto-deletes server-side and
// C is closed once the consumer stops. Closing also unblocks a forwarder
// parked on a full buffer whose subscriber is gone.
func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.channel == nil {
		return nil
	}
	return s.channel.Close()
}

// Subscribe binds a fresh exclusive auto-delete queue to the conversation id
// and streams deliveries until the transport closes. Each call is an
// independent subscription; order is FIFO within the conversation.
func (b *Bus) Subscribe(conversationID string) (*Subscription, error) {
	channel, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("subscribe channel: %w", err)
	}

	queue, err := channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, conversationID, b.exchange, false, nil); err != nil {
		channel.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})
	go forward(deliveries, out, done)

	b.log.Debug("subscriber attached",
		slog.String("conversation_id", conversationID),
		slog.String("queue", queue.Name),
	)

	return &Subscription{C: out, channel: channel, done: done}, nil
}

// forward copies deliveries to out until the consumer stops or the
// subscription is closed. A subscriber that went away without draining its
// buffer must not park this goroutine forever on the send.
func forward(deliveries <-chan amqp.Delivery, out chan<- []byte, done <-chan struct{}) {
	defer close(out)
	for d := range deliveries {
		select {
		case out <- d.Body:
		case <-done:
			return
		}
	}
}

func (b *Bus) Close() error {
	return b.conn.Close()
}
