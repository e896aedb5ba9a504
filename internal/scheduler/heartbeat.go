package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultHeartbeatCron — ежечасный heartbeat.
const DefaultHeartbeatCron = "0 0 * * * ?"

// HeartbeatConfig — конфигурация heartbeat-задач.
type HeartbeatConfig struct {
	Interval time.Duration // для fixed-rate и fixed-delay (default: 5s)
	Cron     string        // default: DefaultHeartbeatCron
	Logger   *slog.Logger
}

// Heartbeat — три задачи, которые только пишут в лог:
// fixed-rate, fixed-delay и cron. Полезны для проверки,
// что триггеры процесса работают.
type Heartbeat struct {
	interval time.Duration
	cronExpr string
	logger   *slog.Logger
}

// NewHeartbeat создаёт Heartbeat.
func NewHeartbeat(cfg HeartbeatConfig) (*Heartbeat, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = DefaultHeartbeatCron
	}
	if err := ValidateCronExpr(cronExpr); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Heartbeat{
		interval: interval,
		cronExpr: cronExpr,
		logger:   logger,
	}, nil
}

// Run запускает все heartbeat-задачи и блокирует до отмены ctx.
func (h *Heartbeat) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		FixedRate(ctx, h.interval, h.beat("fixed_rate"))
		return nil
	})
	g.Go(func() error {
		FixedDelay(ctx, h.interval, h.beat("fixed_delay"))
		return nil
	})
	g.Go(func() error {
		return Cron(ctx, h.cronExpr, h.beat("cron"))
	})

	return g.Wait()
}

func (h *Heartbeat) beat(trigger string) Job {
	return func(context.Context) {
		h.logger.Info("heartbeat",
			"trigger", trigger,
			"at_ms", time.Now().UnixMilli(),
		)
	}
}
