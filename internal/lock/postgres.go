package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresMaxNameLen — длина колонки scheduler_locks.name.
const PostgresMaxNameLen = 64

// Execer — часть API пула pgx, нужная PostgresLocker.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLocker хранит locks в таблице scheduler_locks.
//
// Одна строка на имя lock. Захват — один INSERT ... ON CONFLICT DO UPDATE,
// который срабатывает, только если lock_until уже прошёл.
// Все сравнения времени выполняются по часам БД, поэтому расхождение
// часов между экземплярами не влияет на взаимное исключение.
type PostgresLocker struct {
	db  Execer
	now func() time.Time
}

// NewPostgresLocker создаёт PostgresLocker.
func NewPostgresLocker(db Execer) *PostgresLocker {
	return &PostgresLocker{db: db, now: time.Now}
}

// TryAcquire захватывает lock на MaxHold.
func (p *PostgresLocker) TryAcquire(ctx context.Context, policy Policy) (*Lease, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if len(policy.Name) > PostgresMaxNameLen {
		return nil, fmt.Errorf("%w: name longer than %d bytes", ErrInvalidPolicy, PostgresMaxNameLen)
	}

	lease := newLease(policy, p.now(), p)

	query := `
		INSERT INTO scheduler_locks (name, lock_until, locked_at, locked_by)
		VALUES ($1, now() + $2::float8 * interval '1 second', now(), $3)
		ON CONFLICT (name) DO UPDATE
		SET lock_until = EXCLUDED.lock_until,
		    locked_at = EXCLUDED.locked_at,
		    locked_by = EXCLUDED.locked_by
		WHERE scheduler_locks.lock_until <= now()
	`
	tag, err := p.db.Exec(ctx, query, policy.Name, policy.MaxHold.Seconds(), lease.Token)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", policy.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLockBusy
	}

	return lease, nil
}

// release сокращает lock_until до locked_at + MinHold (или до now, если MinHold прошёл).
func (p *PostgresLocker) release(ctx context.Context, l *Lease) error {
	query := `
		UPDATE scheduler_locks
		SET lock_until = GREATEST(locked_at + $3::float8 * interval '1 second', now())
		WHERE name = $1 AND locked_by = $2
	`
	tag, err := p.db.Exec(ctx, query, l.Name, l.Token, l.MinHold.Seconds())
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}
