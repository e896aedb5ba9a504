package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default lock parameters.
const (
	DefaultName    = "reminder-dispatch"
	DefaultMinHold = 30 * time.Second
	DefaultMaxHold = 60 * time.Second
)

// Policy — параметры захвата именованного lock.
type Policy struct {
	// Name — имя lock, общее для всех экземпляров.
	Name string

	// MinHold — минимальное время удержания после захвата.
	MinHold time.Duration

	// MaxHold — максимальное время удержания; после него lock можно забрать.
	MaxHold time.Duration
}

// Validate проверяет параметры.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPolicy)
	}
	if p.MaxHold <= 0 {
		return fmt.Errorf("%w: max hold must be positive", ErrInvalidPolicy)
	}
	if p.MinHold < 0 || p.MinHold > p.MaxHold {
		return fmt.Errorf("%w: min hold %s must be within [0, %s]", ErrInvalidPolicy, p.MinHold, p.MaxHold)
	}
	return nil
}

// Locker — распределённая блокировка.
type Locker interface {
	// TryAcquire пытается захватить lock без ожидания.
	// Если lock занят, возвращает ErrLockBusy.
	TryAcquire(ctx context.Context, p Policy) (*Lease, error)
}

// releaser — backend-специфичное освобождение lock.
type releaser interface {
	release(ctx context.Context, l *Lease) error
}

// Lease — захваченный lock (holder-token).
type Lease struct {
	Name       string
	Token      string
	AcquiredAt time.Time
	MinHold    time.Duration
	MaxHold    time.Duration

	backend releaser

	mu       sync.Mutex
	released bool
}

func newLease(p Policy, acquiredAt time.Time, backend releaser) *Lease {
	return &Lease{
		Name:       p.Name,
		Token:      uuid.NewString(),
		AcquiredAt: acquiredAt,
		MinHold:    p.MinHold,
		MaxHold:    p.MaxHold,
		backend:    backend,
	}
}

// ExpiresAt возвращает момент, после которого lock может забрать другой экземпляр.
func (l *Lease) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.MaxHold)
}

// Expired проверяет, истёк ли MaxHold.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt())
}

// keepFor возвращает, сколько ещё нужно удерживать lock после release.
func (l *Lease) keepFor(now time.Time) time.Duration {
	keep := l.AcquiredAt.Add(l.MinHold).Sub(now)
	if keep < 0 {
		return 0
	}
	return keep
}

// Release освобождает lock с учётом MinHold.
// Повторный вызов ничего не делает.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	if l.backend == nil {
		return nil
	}
	return l.backend.release(ctx, l)
}
