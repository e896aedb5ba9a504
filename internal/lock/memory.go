package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker — lock в памяти процесса.
// Подходит для одного экземпляра и для тестов.
type MemoryLocker struct {
	now func() time.Time

	mu    sync.Mutex
	locks map[string]memoryEntry
}

type memoryEntry struct {
	token string
	until time.Time
}

// NewMemoryLocker создаёт MemoryLocker. Если now == nil, используется time.Now.
func NewMemoryLocker(now func() time.Time) *MemoryLocker {
	if now == nil {
		now = time.Now
	}
	return &MemoryLocker{
		now:   now,
		locks: make(map[string]memoryEntry),
	}
}

// TryAcquire захватывает lock, если он свободен или истёк.
func (m *MemoryLocker) TryAcquire(_ context.Context, p Policy) (*Lease, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[p.Name]; ok && now.Before(e.until) {
		return nil, ErrLockBusy
	}

	lease := newLease(p, now, m)
	m.locks[p.Name] = memoryEntry{
		token: lease.Token,
		until: now.Add(p.MaxHold),
	}
	return lease, nil
}

func (m *MemoryLocker) release(_ context.Context, l *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[l.Name]
	if !ok || e.token != l.Token {
		return ErrLeaseLost
	}

	if keep := l.keepFor(m.now()); keep > 0 {
		e.until = l.AcquiredAt.Add(l.MinHold)
		m.locks[l.Name] = e
		return nil
	}

	delete(m.locks, l.Name)
	return nil
}
