// Package mailer доставляет письма из очереди email.outbox.
//
// reminder-scheduler с NOTIFIER=queue публикует письма в RabbitMQ,
// а reminder-mailer забирает их и отправляет через SMTP.
// Ошибка доставки возвращает сообщение в очередь; повторная ошибка
// отправляет его в DLQ.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Reminders/internal/mq"
	"github.com/shaiso/Reminders/internal/notify"
	"github.com/shaiso/Reminders/internal/telemetry"
)

// Результаты обработки (label result).
const (
	resultDelivered = "delivered"
	resultFailed    = "failed"
	resultRejected  = "rejected"
	resultIgnored   = "ignored"
)

// Mailer обрабатывает сообщения email.send.
type Mailer struct {
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *telemetry.MailerMetrics
}

// Config — конфигурация Mailer.
type Config struct {
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  *telemetry.MailerMetrics // опционально
}

// New создаёт Mailer.
func New(cfg Config) *Mailer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMailerMetrics(nil)
	}

	return &Mailer{
		notifier: cfg.Notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle — mq.Handler для очереди email.outbox.
func (m *Mailer) Handle(ctx context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeEmailSend {
		m.logger.Warn("unexpected message type, dropping",
			"message_id", d.Message.ID,
			"type", d.Message.Type,
		)
		m.metrics.Delivered.WithLabelValues(resultIgnored).Inc()
		return nil
	}

	email, err := mq.ParsePayload[mq.EmailPayload](&d.Message)
	if err != nil {
		m.metrics.Delivered.WithLabelValues(resultRejected).Inc()
		return fmt.Errorf("parse email payload: %w: %w", mq.ErrReject, err)
	}

	logger := m.logger.With("message_id", d.Message.ID, "recipient", email.Recipient)
	if email.ReminderID != 0 {
		logger = telemetry.WithReminderID(logger, email.ReminderID)
	}

	if err := m.notifier.Send(ctx, email.Recipient, email.Subject, email.Body); err != nil {
		if errors.Is(err, notify.ErrInvalidRecipient) {
			m.metrics.Delivered.WithLabelValues(resultRejected).Inc()
			return fmt.Errorf("%w: %w", mq.ErrReject, err)
		}
		m.metrics.Delivered.WithLabelValues(resultFailed).Inc()
		return err
	}

	logger.Info("email delivered", "redelivered", d.Redelivered)
	m.metrics.Delivered.WithLabelValues(resultDelivered).Inc()
	return nil
}
