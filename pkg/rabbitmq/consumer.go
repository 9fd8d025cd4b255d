package rabbitmq

import (
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultRequeueDelay = 5 * time.Second
	consumerPrefetch    = 16
)

// Handler processes a delivery body. Returning false requeues the message
// after the consumer's requeue delay.
type Handler func([]byte) bool

type Consumer struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	logger       *slog.Logger
	requeueDelay time.Duration
}

type ConsumerOption func(*Consumer)

// WithRequeueDelay sets how long a failed delivery is held before it is
// returned to the queue. Zero requeues immediately.
func WithRequeueDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if delay >= 0 {
			c.requeueDelay = delay
		}
	}
}

func NewConsumer(amqpURL string, logger *slog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Held deliveries count against the prefetch window, which keeps a failing
	// handler from pulling the whole queue into memory.
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	c := &Consumer{conn: conn, ch: ch, logger: logger, requeueDelay: defaultRequeueDelay}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ConsumeWithBindings declares a durable queue, binds it to each routing key on
// exchange and dispatches deliveries to the matching handler in the background.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			c.dispatch(handlers, d)
		}
		c.logger.Info("rabbitmq delivery channel closed", "queue", q.Name)
	}()

	return nil
}

func (c *Consumer) dispatch(handlers map[string]Handler, d amqp.Delivery) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		c.logger.Warn("no handler for routing key; acknowledging to drop", "routing_key", d.RoutingKey)
		d.Ack(false)
		return
	}
	if handler(d.Body) {
		d.Ack(false)
		return
	}
	c.logger.Warn("handler failed; re-queuing", "routing_key", d.RoutingKey, "delay", c.requeueDelay)
	if c.requeueDelay <= 0 {
		c.requeue(d)
		return
	}
	time.AfterFunc(c.requeueDelay, func() { c.requeue(d) })
}

// requeue returns d to the queue. After Close the broker requeues it anyway.
func (c *Consumer) requeue(d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		c.logger.Warn("failed to requeue delivery", "routing_key", d.RoutingKey, "error", err)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
