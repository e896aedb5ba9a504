package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeEmailSend MessageType = "email.send"
)

// Message — конверт сообщения в очереди.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// EmailPayload — письмо, которое должен доставить mailer.
type EmailPayload struct {
	ReminderID int64  `json:"reminder_id,omitempty"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// NewMessage оборачивает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publish публикует сообщение в указанный exchange с routing key
// и ждёт подтверждения брокера.
//
// nil возвращается только после ack. Nack и возврат немаршрутизируемого
// сообщения — ошибки (ErrNacked, ErrReturned).
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	returned, unwatch := p.conn.watchReturn(msg.ID)
	defer unwatch()

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			true, // mandatory: без очереди письмо не должно пропасть молча
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}
		if confirm == nil {
			return fmt.Errorf("publish to %s/%s: channel is not in confirm mode", exchange, routingKey)
		}

		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("wait confirm for %s: %w", msg.ID, err)
		}
		if err := confirmOutcome(acked, returned); err != nil {
			return fmt.Errorf("publish %s to %s/%s: %w", msg.ID, exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// confirmOutcome переводит результат confirm в ошибку.
// basic.return приходит раньше ack, поэтому к моменту ack returned уже закрыт.
func confirmOutcome(acked bool, returned <-chan struct{}) error {
	if !acked {
		return ErrNacked
	}
	select {
	case <-returned:
		return ErrReturned
	default:
		return nil
	}
}

// PublishEmail ставит письмо в очередь email.outbox.
// Потребитель: reminder-mailer.
func (p *Publisher) PublishEmail(ctx context.Context, payload EmailPayload) error {
	return p.Publish(ctx, ExchangeEmail, RoutingKeySend, NewMessage(MessageTypeEmailSend, payload))
}
