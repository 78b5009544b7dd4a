package events

import (
	"context"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one message body. A nil return acks the delivery. ErrMalformed
// drops it, any other error requeues it.
type HandlerFunc func(ctx context.Context, body []byte) error

type ConsumerOptions struct {
	RoutingKey string
	Tag        string
	Prefetch   int
}

// StartConsumer declares the service queue for opts.RoutingKey, binds it to the events
// exchange and handles deliveries until ctx is done or the channel closes. The returned
// channel is closed once the delivery in flight, if any, has been settled and the AMQP
// channel is closed.
func StartConsumer(ctx context.Context, conn *amqp.Connection, opts ConsumerOptions, handler HandlerFunc, logger *log.Logger) (<-chan struct{}, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	queue := QueueName(opts.RoutingKey)
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return nil, fmt.Errorf("queue declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, opts.RoutingKey, EventsExchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind %s: %w", queue, err)
	}

	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}

	tag := opts.Tag
	if tag == "" {
		tag = ticketingServiceName
	}
	msgs, err := ch.Consume(
		queue,
		tag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ch.Close()
		consume(ctx, queue, msgs, handler, logger)
	}()

	return done, nil
}

// consume handles deliveries until ctx is done or msgs closes. A delivery already being
// handled when ctx is cancelled runs to completion.
func consume(ctx context.Context, queue string, msgs <-chan amqp.Delivery, handler HandlerFunc, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Printf("stopping %s consumer", queue)
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Printf("%s: messages channel closed", queue)
				return
			}
			dispatch(context.WithoutCancel(ctx), handler, msg, logger)
		}
	}
}

func dispatch(ctx context.Context, handler HandlerFunc, msg amqp.Delivery, logger *log.Logger) {
	err := handler(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Printf("ack delivery %d: %v", msg.DeliveryTag, ackErr)
		}
	case errors.Is(err, ErrMalformed):
		logger.Printf("dropping malformed message %s: %v", msg.MessageId, err)
		_ = msg.Nack(false, false)
	default:
		logger.Printf("handle message %s: %v (requeued)", msg.MessageId, err)
		_ = msg.Nack(false, true)
	}
}
