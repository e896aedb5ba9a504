// Package notify доставляет напоминания получателям.
//
// Notifier — внешний коллаборатор dispatcher'а: nil означает успешную
// отправку, любая ошибка — неуспешную. Реализации:
//   - SMTPNotifier  — прямая отправка письма через SMTP
//   - QueueNotifier — постановка письма в очередь RabbitMQ (доставит reminder-mailer)
//   - LogNotifier   — только лог (локальная разработка)
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/shaiso/Reminders/internal/mq"
)

// Ошибки отправки.
var (
	// ErrSendFailed — письмо не отправлено.
	ErrSendFailed = errors.New("send failed")

	// ErrInvalidRecipient — адрес получателя не является email.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Notifier отправляет сообщение получателю.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Func — адаптер функции к Notifier.
type Func func(ctx context.Context, recipient, subject, body string) error

// Send вызывает f.
func (f Func) Send(ctx context.Context, recipient, subject, body string) error {
	return f(ctx, recipient, subject, body)
}

type reminderIDKey struct{}

// WithReminderID добавляет в ctx ID напоминания, к которому относится письмо.
func WithReminderID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, reminderIDKey{}, id)
}

// ReminderIDFromContext возвращает ID напоминания из ctx.
func ReminderIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(reminderIDKey{}).(int64)
	return id, ok
}

// validateRecipient проверяет, что recipient — одиночный email-адрес.
func validateRecipient(recipient string) (string, error) {
	addr, err := mail.ParseAddress(recipient)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidRecipient, recipient, err)
	}
	return addr.Address, nil
}

// EmailPublisher — публикация письма в очередь.
type EmailPublisher interface {
	PublishEmail(ctx context.Context, payload mq.EmailPayload) error
}

// QueueNotifier ставит письмо в очередь email.outbox.
// Успех означает, что брокер подтвердил сообщение (publisher confirm).
type QueueNotifier struct {
	publisher EmailPublisher
}

// NewQueueNotifier создаёт QueueNotifier.
func NewQueueNotifier(publisher EmailPublisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher}
}

// Send публикует письмо.
func (q *QueueNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	to, err := validateRecipient(recipient)
	if err != nil {
		return err
	}

	reminderID, _ := ReminderIDFromContext(ctx)
	err = q.publisher.PublishEmail(ctx, mq.EmailPayload{
		ReminderID: reminderID,
		Recipient:  to,
		Subject:    subject,
		Body:       body,
	})
	if err != nil {
		return fmt.Errorf("%w: enqueue email to %s: %w", ErrSendFailed, to, err)
	}
	return nil
}

// LogNotifier пишет письмо в лог вместо отправки.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send логирует письмо.
func (l *LogNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	logger := l.logger
	if id, ok := ReminderIDFromContext(ctx); ok {
		logger = logger.With("reminder_id", id)
	}
	logger.InfoContext(ctx, "email (log notifier)",
		"recipient", recipient,
		"subject", subject,
		"body", body,
	)
	return nil
}
