// Package dispatcher рассылает due напоминания.
//
// Один dispatch-цикл:
//  1. Захватывает распределённый lock (см. internal/lock); если lock занят, цикл пропускается
//  2. Выбирает due напоминания (sent = false, scheduled_time <= now)
//  3. Для каждого отправляет письмо и отмечает напоминание отправленным
//  4. Освобождает lock с учётом min/max hold
//
// Ошибка одного напоминания не блокирует остальные.
// Ни одна ошибка не останавливает процесс: Run логирует её и ждёт следующий цикл.
//
// Гарантия доставки at-least-once: если письмо ушло, а сохранение sent = true
// не удалось, напоминание будет отправлено повторно в следующем цикле.
package dispatcher
