package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Reminders/internal/domain"
	"github.com/shaiso/Reminders/internal/lock"
	"github.com/shaiso/Reminders/internal/notify"
	"github.com/shaiso/Reminders/internal/scheduler"
	"github.com/shaiso/Reminders/internal/telemetry"
)

const (
	defaultDelay     = 6 * time.Second
	defaultBatchSize = 100
)

// ReminderStore — хранилище напоминаний.
type ReminderStore interface {
	// FindDue возвращает до limit напоминаний с sent = false и scheduled_time <= now.
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)

	// Save сохраняет напоминание (upsert по ID).
	Save(ctx context.Context, reminder *domain.Reminder) error
}

// CycleStats — итог одного dispatch-цикла.
type CycleStats struct {
	Skipped    bool // lock занят другим экземпляром
	Due        int
	Sent       int
	SendFailed int
	SaveFailed int
	Duration   time.Duration
}

// Config — конфигурация Dispatcher.
type Config struct {
	Store    ReminderStore
	Notifier notify.Notifier
	Locker   lock.Locker

	// Policy — параметры lock. Нулевое значение заменяется на lock.Default*.
	Policy lock.Policy

	Delay     time.Duration // пауза между циклами (default: 6s)
	BatchSize int           // максимум напоминаний за цикл (default: 100)
	Subject   string        // тема письма (default: "Reminder")

	Logger  *slog.Logger
	Metrics *telemetry.DispatchMetrics // опционально
	Now     func() time.Time           // для тестов
}

// Dispatcher — цикл рассылки напоминаний.
type Dispatcher struct {
	store     ReminderStore
	notifier  notify.Notifier
	locker    lock.Locker
	policy    lock.Policy
	delay     time.Duration
	batchSize int
	subject   string
	logger    *slog.Logger
	metrics   *telemetry.DispatchMetrics
	now       func() time.Time
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	policy := cfg.Policy
	if policy == (lock.Policy{}) {
		policy = lock.Policy{
			Name:    lock.DefaultName,
			MinHold: lock.DefaultMinHold,
			MaxHold: lock.DefaultMaxHold,
		}
	}

	delay := cfg.Delay
	if delay <= 0 {
		delay = defaultDelay
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	subject := cfg.Subject
	if subject == "" {
		subject = domain.DefaultSubject
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewDispatchMetrics(nil)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		locker:    cfg.Locker,
		policy:    policy,
		delay:     delay,
		batchSize: batchSize,
		subject:   subject,
		logger:    logger,
		metrics:   metrics,
		now:       now,
	}
}

// Run выполняет циклы с fixed-delay до отмены ctx.
// Первый цикл запускается сразу.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		"delay", d.delay,
		"lock", d.policy.Name,
		"min_hold", d.policy.MinHold,
		"max_hold", d.policy.MaxHold,
	)

	scheduler.FixedDelay(ctx, d.delay, func(ctx context.Context) {
		if _, err := d.RunCycle(ctx); err != nil {
			d.logger.Error("dispatch cycle failed", "error", err)
		}
	})

	d.logger.Info("dispatcher stopped")
}

// RunCycle выполняет один dispatch-цикл.
//
// Занятый lock — не ошибка: возвращается CycleStats{Skipped: true}.
// Ошибки отправки и сохранения отдельных напоминаний логируются
// и учитываются в CycleStats, но не возвращаются.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	started := d.now()

	lease, err := d.locker.TryAcquire(ctx, d.policy)
	if err != nil {
		if errors.Is(err, lock.ErrLockBusy) {
			d.logger.Debug("lock is held by another instance, skipping cycle", "lock", d.policy.Name)
			d.metrics.ObserveCycle(telemetry.CycleLockBusy, started, d.now())
			stats.Skipped = true
			return stats, nil
		}
		d.metrics.ObserveCycle(telemetry.CycleLockError, started, d.now())
		return stats, fmt.Errorf("acquire lock %s: %w", d.policy.Name, err)
	}
	defer d.release(ctx, lease)

	reminders, err := d.store.FindDue(ctx, d.now(), d.batchSize)
	if err != nil {
		d.metrics.ObserveCycle(telemetry.CycleQueryError, started, d.now())
		return stats, fmt.Errorf("find due reminders: %w", err)
	}

	stats.Due = len(reminders)
	d.metrics.Due.Add(float64(stats.Due))
	if stats.Due > 0 {
		d.logger.Info("found due reminders", "count", stats.Due)
	}

	for i := range reminders {
		if ctx.Err() != nil {
			d.logger.Info("dispatch cycle interrupted", "remaining", stats.Due-i)
			break
		}
		// После MaxHold lock может захватить другой экземпляр
		if lease.Expired(d.now()) {
			d.logger.Warn("lock lease expired, stopping cycle",
				"lock", lease.Name,
				"remaining", stats.Due-i,
			)
			break
		}
		d.dispatch(ctx, &reminders[i], &stats)
	}

	finished := d.now()
	stats.Duration = finished.Sub(started)
	d.metrics.ObserveCycle(telemetry.CycleCompleted, started, finished)

	if stats.Due > 0 {
		d.logger.Info("dispatch cycle completed",
			"due", stats.Due,
			"sent", stats.Sent,
			"send_failed", stats.SendFailed,
			"save_failed", stats.SaveFailed,
			"duration", stats.Duration,
		)
	}
	return stats, nil
}

// dispatch отправляет одно напоминание и отмечает его отправленным.
func (d *Dispatcher) dispatch(ctx context.Context, r *domain.Reminder, stats *CycleStats) {
	logger := telemetry.WithReminderID(d.logger, r.ID)

	if err := d.notifier.Send(notify.WithReminderID(ctx, r.ID), r.Recipient, d.subject, r.Message); err != nil {
		// Напоминание остаётся due и будет отправлено в следующем цикле
		logger.Warn("failed to send reminder",
			"recipient", r.Recipient,
			"error", err,
		)
		stats.SendFailed++
		d.metrics.SendFailures.Inc()
		return
	}
	logger.Info("reminder sent", "recipient", r.Recipient)

	r.MarkSent()

	// Письмо уже ушло: сохраняем даже при остановке процесса
	if err := d.store.Save(context.WithoutCancel(ctx), r); err != nil {
		logger.Error("failed to mark reminder as sent",
			"recipient", r.Recipient,
			"error", err,
		)
		stats.SaveFailed++
		d.metrics.SaveFailures.Inc()
		return
	}
	logger.Info("reminder marked as sent")

	stats.Sent++
	d.metrics.Sent.Inc()
}

func (d *Dispatcher) release(ctx context.Context, lease *lock.Lease) {
	// Освобождаем lock и после отмены ctx, иначе он висит до MaxHold
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		d.logger.Warn("failed to release lock",
			"lock", lease.Name,
			"error", err,
		)
	}
}
