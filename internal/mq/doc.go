// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Используется для очереди писем: scheduler (NOTIFIER=queue) публикует
// email.send, reminder-mailer потребляет их и доставляет через SMTP.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление с ack/nack и DLQ
//
// Топология:
//
//	reminders.email (direct)
//	└── email.outbox [routing: send]   Consumer: reminder-mailer, DLQ: dlq.email
//	reminders.dlq (direct)
//	└── dlq.email [routing: email]     ручной разбор
package mq
