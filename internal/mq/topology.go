package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEmail Exchange = "reminders.email"
	ExchangeDLQ   Exchange = "reminders.dlq"
)

// Queues — имена очередей.
const (
	QueueEmailOutbox Queue = "email.outbox"
	QueueDLQEmail    Queue = "dlq.email"
)

// Routing keys.
const (
	RoutingKeySend     RoutingKey = "send"
	RoutingKeyDLQEmail RoutingKey = "email"
)

// SetupTopology объявляет exchanges, queues и bindings. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeEmail, ExchangeDLQ} {
			err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		// email.outbox отбрасывает письма в DLQ после повторной неудачи
		dlqArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQEmail),
		}

		queues := []struct {
			name Queue
			args amqp.Table
		}{
			{QueueEmailOutbox, dlqArgs},
			{QueueDLQEmail, nil},
		}
		for _, q := range queues {
			_, err := ch.QueueDeclare(
				string(q.name), // name
				true,           // durable
				false,          // delete when unused
				false,          // exclusive
				false,          // no-wait
				q.args,         // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct {
			queue      Queue
			routingKey RoutingKey
			exchange   Exchange
		}{
			{QueueEmailOutbox, RoutingKeySend, ExchangeEmail},
			{QueueDLQEmail, RoutingKeyDLQEmail, ExchangeDLQ},
		}
		for _, b := range bindings {
			err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil)
			if err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}
