package events

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange                 = "ticketing.events"
	ReservationConfirmedRoutingKey = "reservation.confirmed.v1"
	ReservationCancelledRoutingKey = "reservation.cancelled.v1"
	ReservationRequestedRoutingKey = "reservation.requested.v1"
	ticketingServiceName           = "ticketing-service-go"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

// QueueName is the durable queue this service binds for routingKey.
func QueueName(routingKey string) string {
	return serviceQueue(ticketingServiceName, routingKey)
}

type exchangeDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}

func declareEventsExchange(ch exchangeDeclarer) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
