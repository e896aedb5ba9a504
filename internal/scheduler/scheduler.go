package scheduler

import (
	"context"
	"time"
)

// Job — функция, запускаемая триггером.
type Job func(ctx context.Context)

// FixedDelay запускает job сразу, а каждый следующий запуск
// начинается через delay после завершения предыдущего.
// Возвращается после отмены ctx.
func FixedDelay(ctx context.Context, delay time.Duration, job Job) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		job(ctx)
		timer.Reset(delay)
	}
}

// FixedRate запускает job сразу и затем каждые interval от старта.
// Если job работает дольше interval, пропущенные тики отбрасываются:
// запуски не накапливаются и не пересекаются.
func FixedRate(ctx context.Context, interval time.Duration, job Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		job(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
