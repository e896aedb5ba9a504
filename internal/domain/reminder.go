package domain

import "time"

// DefaultSubject — тема письма-напоминания по умолчанию.
const DefaultSubject = "Reminder"

// Reminder — запланированное напоминание, которое нужно отправить по email.
//
// Reminder становится due, когда наступает ScheduledTime,
// и остаётся due, пока не будет отправлен.
// После отправки Sent выставляется в true и больше никогда не сбрасывается.
type Reminder struct {
	// ID — идентификатор, назначается хранилищем при создании.
	ID int64 `json:"id"`

	// Recipient — адрес получателя (email).
	Recipient string `json:"recipient"`

	// Message — текст напоминания.
	Message string `json:"message"`

	// ScheduledTime — момент, начиная с которого напоминание due.
	// Нормализация часовых поясов выполняется до сохранения.
	ScheduledTime time.Time `json:"scheduled_time"`

	// Sent — флаг отправки. Только false -> true.
	Sent bool `json:"sent"`
}

// IsDue проверяет, пора ли отправлять напоминание.
func (r *Reminder) IsDue(now time.Time) bool {
	if r.Sent {
		return false
	}
	return !r.ScheduledTime.After(now)
}

// MarkSent отмечает напоминание отправленным.
// Повторный вызов ничего не меняет.
func (r *Reminder) MarkSent() {
	r.Sent = true
}
