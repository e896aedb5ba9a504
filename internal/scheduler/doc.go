// Package scheduler содержит периодические триггеры.
//
// Структура:
//   - scheduler.go — FixedDelay и FixedRate
//   - cron.go      — парсинг cron-выражений (с секундами) и триггер Cron
//   - heartbeat.go — heartbeat-задачи, подтверждающие что процесс жив
//
// Все триггеры блокируют вызывающую горутину до отмены ctx.
// Запуски одного триггера никогда не пересекаются.
//
// Использование:
//
//	go scheduler.FixedDelay(ctx, 6*time.Second, func(ctx context.Context) {
//	    dispatcher.RunCycle(ctx)
//	})
//
// Leader Election:
//
// Триггеры не координируются между экземплярами. Взаимное исключение
// обеспечивает вызываемая функция (см. internal/lock).
package scheduler
