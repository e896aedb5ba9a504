package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/Reminders/internal/domain"
	"github.com/shaiso/Reminders/internal/lock"
	"github.com/shaiso/Reminders/internal/mq"
	"github.com/shaiso/Reminders/internal/notify"
	"github.com/shaiso/Reminders/internal/telemetry"
)

// --- fakes ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore — хранилище в памяти с тем же предикатом, что и SQL-запрос.
type memStore struct {
	mu        sync.Mutex
	reminders map[int64]domain.Reminder
	findCalls int
	findErr   error
	saveErr   error
}

func newMemStore(rs ...domain.Reminder) *memStore {
	s := &memStore{reminders: make(map[int64]domain.Reminder)}
	for _, r := range rs {
		s.reminders[r.ID] = r
	}
	return s
}

func (s *memStore) FindDue(_ context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}

	var due []domain.Reminder
	for _, r := range s.reminders {
		if r.IsDue(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) Save(_ context.Context, r *domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.reminders[r.ID] = *r
	return nil
}

func (s *memStore) get(id int64) domain.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reminders[id]
}

func (s *memStore) finds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

type sendCall struct {
	recipient, subject, body string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []sendCall
	fail  func(recipient string) error
}

func (n *recordingNotifier) Send(_ context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	n.calls = append(n.calls, sendCall{recipient, subject, body})
	fail := n.fail
	n.mu.Unlock()

	if fail != nil {
		return fail(recipient)
	}
	return nil
}

func (n *recordingNotifier) sent() []sendCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sendCall(nil), n.calls...)
}

// brokerPublisher — EmailPublisher с заданным исходом confirm.
type brokerPublisher struct {
	mu       sync.Mutex
	err      error
	payloads []mq.EmailPayload
}

func (p *brokerPublisher) PublishEmail(_ context.Context, payload mq.EmailPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

type errLocker struct{ err error }

func (l errLocker) TryAcquire(context.Context, lock.Policy) (*lock.Lease, error) {
	return nil, l.err
}

var testPolicy = lock.Policy{Name: "reminder-dispatch", MinHold: 30 * time.Second, MaxHold: 60 * time.Second}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(store ReminderStore, n notify.Notifier, locker lock.Locker, clock *fakeClock) *Dispatcher {
	return New(Config{
		Store:    store,
		Notifier: n,
		Locker:   locker,
		Policy:   testPolicy,
		Logger:   discardLogger(),
		Now:      clock.Now,
	})
}

func reminder(id int64, recipient string, at time.Time) domain.Reminder {
	return domain.Reminder{ID: id, Recipient: recipient, Message: "msg", ScheduledTime: at}
}

// --- tests ---

func TestRunCycle_SendsEachDueReminderOnce(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	store := newMemStore(
		reminder(1, "a@x.com", now.Add(-2*time.Hour)),
		reminder(2, "b@x.com", now.Add(-time.Minute)),
		reminder(3, "c@x.com", now), // ровно сейчас — тоже due
		reminder(4, "future@x.com", now.Add(time.Hour)),
		domain.Reminder{ID: 5, Recipient: "done@x.com", ScheduledTime: now.Add(-time.Hour), Sent: true},
	)
	n := &recordingNotifier{}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := n.sent()
	if len(calls) != 3 {
		t.Fatalf("expected 3 sends, got %d: %+v", len(calls), calls)
	}
	seen := make(map[string]int)
	for _, c := range calls {
		seen[c.recipient]++
	}
	for _, r := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		if seen[r] != 1 {
			t.Errorf("expected exactly one send to %s, got %d", r, seen[r])
		}
	}

	if stats.Skipped || stats.Due != 3 || stats.Sent != 3 || stats.SendFailed != 0 || stats.SaveFailed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRunCycle_MarksSentOnlyOnSuccess(t *testing.T) {
	clock := newFakeClock()
	past := clock.Now().Add(-time.Hour)

	store := newMemStore(
		reminder(1, "ok@x.com", past),
		reminder(2, "bad@x.com", past),
	)
	n := &recordingNotifier{fail: func(recipient string) error {
		if recipient == "bad@x.com" {
			return notify.ErrSendFailed
		}
		return nil
	}}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.get(1).Sent {
		t.Error("successfully sent reminder must be marked sent")
	}
	if store.get(2).Sent {
		t.Error("failed reminder must stay unsent")
	}
	if stats.Sent != 1 || stats.SendFailed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRunCycle_NackedPublishLeavesUnsent(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(reminder(1, "a@x.com", clock.Now().Add(-time.Hour)))
	pub := &brokerPublisher{err: mq.ErrNacked}
	d := newTestDispatcher(store, notify.NewQueueNotifier(pub), lock.NewMemoryLocker(clock.Now), clock)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.get(1).Sent {
		t.Error("reminder must stay unsent when broker nacks the publish")
	}
	if stats.Sent != 0 || stats.SendFailed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// Брокер снова подтверждает — следующий цикл отправляет
	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	clock.Advance(time.Minute)

	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.get(1).Sent {
		t.Error("reminder should be marked sent after confirmed publish")
	}
	if len(pub.payloads) != 1 || pub.payloads[0].ReminderID != 1 {
		t.Errorf("expected one payload for reminder 1, got %+v", pub.payloads)
	}
}

func TestRunCycle_PassesReminderID(t *testing.T) {
	clock := newFakeClock()
	past := clock.Now().Add(-time.Hour)
	store := newMemStore(reminder(11, "a@x.com", past), reminder(12, "b@x.com", past))

	var mu sync.Mutex
	ids := make(map[string]int64)
	n := notify.Func(func(ctx context.Context, recipient, _, _ string) error {
		id, ok := notify.ReminderIDFromContext(ctx)
		if !ok {
			return errors.New("no reminder id in context")
		}
		mu.Lock()
		ids[recipient] = id
		mu.Unlock()
		return nil
	})
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Sent != 2 {
		t.Fatalf("expected 2 sent, got %+v", stats)
	}
	if ids["a@x.com"] != 11 || ids["b@x.com"] != 12 {
		t.Errorf("unexpected reminder ids: %v", ids)
	}
}

func TestRunCycle_SecondInstanceWithinMinHoldIsNoop(t *testing.T) {
	clock := newFakeClock()
	locker := lock.NewMemoryLocker(clock.Now)
	store := newMemStore(reminder(1, "a@x.com", clock.Now().Add(-time.Hour)))
	n := &recordingNotifier{}

	first := newTestDispatcher(store, n, locker, clock)
	second := newTestDispatcher(store, n, locker, clock)

	if _, err := first.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// Первый цикл уже завершился, но min hold ещё не истёк
	clock.Advance(10 * time.Second)
	store.reminders[2] = reminder(2, "b@x.com", clock.Now().Add(-time.Minute))

	stats, err := second.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if !stats.Skipped {
		t.Fatal("second instance should skip while lock is held for min hold")
	}
	if store.finds() != 1 {
		t.Errorf("skipped cycle must not query the store, finds = %d", store.finds())
	}
	if len(n.sent()) != 1 {
		t.Errorf("expected 1 send in total, got %d", len(n.sent()))
	}
}

func TestRunCycle_ConcurrentInstances(t *testing.T) {
	locker := lock.NewMemoryLocker(nil)
	store := newMemStore(reminder(1, "a@x.com", time.Now().Add(-time.Hour)))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := notify.Func(func(_ context.Context, _, _, _ string) error {
		started <- struct{}{}
		<-release
		return nil
	})

	newInstance := func() *Dispatcher {
		return New(Config{
			Store:    store,
			Notifier: blocking,
			Locker:   locker,
			Policy:   testPolicy,
			Logger:   discardLogger(),
		})
	}

	const instances = 8
	var (
		wg      sync.WaitGroup
		skipped int32
		ran     int32
	)
	for i := 0; i < instances; i++ {
		d := newInstance()
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := d.RunCycle(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if stats.Skipped {
				atomic.AddInt32(&skipped, 1)
			} else {
				atomic.AddInt32(&ran, 1)
			}
		}()
	}

	// Держим отправку, пока остальные экземпляры не завершат свои попытки
	<-started
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&skipped) < instances-1 {
		select {
		case <-deadline:
			t.Fatalf("expected %d skipped instances, got %d", instances-1, atomic.LoadInt32(&skipped))
		case <-time.After(time.Millisecond):
		}
	}
	close(release)
	wg.Wait()

	if ran != 1 {
		t.Errorf("exactly one instance should run the cycle, got %d", ran)
	}
	if store.finds() != 1 {
		t.Errorf("exactly one instance should query the store, got %d", store.finds())
	}
}

func TestRunCycle_SentRemindersNotReturnedAgain(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(reminder(1, "a@x.com", clock.Now().Add(-24*time.Hour)))
	n := &recordingNotifier{}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	clock.Advance(time.Minute)
	due, _ := store.FindDue(context.Background(), clock.Now().Add(365*24*time.Hour), 100)
	if len(due) != 0 {
		t.Errorf("sent reminder must never be due again, got %+v", due)
	}

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.Due != 0 || len(n.sent()) != 1 {
		t.Errorf("reminder was dispatched twice: stats=%+v sends=%d", stats, len(n.sent()))
	}
}

func TestRunCycle_EndToEnd_Success(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(domain.Reminder{
		ID:            1,
		Recipient:     "a@x.com",
		Message:       "hi",
		ScheduledTime: clock.Now().Add(-24 * time.Hour),
	})
	n := &recordingNotifier{}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.get(1).Sent {
		t.Error("reminder should be marked sent")
	}
	calls := n.sent()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 send, got %d", len(calls))
	}
	want := sendCall{"a@x.com", "Reminder", "hi"}
	if calls[0] != want {
		t.Errorf("expected send %+v, got %+v", want, calls[0])
	}
}

func TestRunCycle_EndToEnd_FailureRetriedNextCycle(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(domain.Reminder{
		ID:            1,
		Recipient:     "a@x.com",
		Message:       "hi",
		ScheduledTime: clock.Now().Add(-24 * time.Hour),
	})
	n := &recordingNotifier{fail: func(string) error { return errors.New("smtp unavailable") }}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if store.get(1).Sent {
		t.Fatal("reminder must stay unsent after failed send")
	}

	// После min hold lock снова свободен
	clock.Advance(testPolicy.MinHold + time.Second)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.Skipped {
		t.Fatal("second cycle should acquire the lock")
	}

	calls := n.sent()
	if len(calls) != 2 {
		t.Fatalf("expected send to be retried, got %d calls", len(calls))
	}
	if calls[0] != calls[1] {
		t.Errorf("retry should repeat the same send: %+v vs %+v", calls[0], calls[1])
	}
	if store.get(1).Sent {
		t.Error("reminder must stay unsent while sends fail")
	}
}

func TestRunCycle_FutureReminderWaits(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(reminder(1, "a@x.com", clock.Now().Add(time.Hour)))
	n := &recordingNotifier{}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Due != 0 || len(n.sent()) != 0 {
		t.Fatalf("future reminder must not be dispatched: %+v", stats)
	}

	clock.Advance(2 * time.Hour)
	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.get(1).Sent {
		t.Error("reminder should be sent once its time has passed")
	}
}

func TestRunCycle_QueryErrorReleasesLock(t *testing.T) {
	clock := newFakeClock()
	locker := lock.NewMemoryLocker(clock.Now)
	store := newMemStore()
	store.findErr = errors.New("connection refused")

	d := New(Config{
		Store:    store,
		Notifier: &recordingNotifier{},
		Locker:   locker,
		Policy:   lock.Policy{Name: "reminder-dispatch", MinHold: 0, MaxHold: time.Minute},
		Logger:   discardLogger(),
		Now:      clock.Now,
	})

	_, err := d.RunCycle(context.Background())
	if !errors.Is(err, store.findErr) {
		t.Fatalf("expected query error, got %v", err)
	}

	// MinHold = 0: lock должен быть свободен сразу
	lease, err := locker.TryAcquire(context.Background(), lock.Policy{Name: "reminder-dispatch", MaxHold: time.Minute})
	if err != nil {
		t.Fatalf("lock should be released after query failure: %v", err)
	}
	lease.Release(context.Background())
}

func TestRunCycle_SaveFailureResendsNextCycle(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(reminder(1, "a@x.com", clock.Now().Add(-time.Hour)))
	store.saveErr = errors.New("deadlock detected")
	n := &recordingNotifier{}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("save failure must not fail the cycle: %v", err)
	}
	if stats.Sent != 0 || stats.SaveFailed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	clock.Advance(testPolicy.MinHold)

	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	// at-least-once: повторная отправка допустима
	if len(n.sent()) != 2 {
		t.Errorf("expected reminder to be resent, got %d sends", len(n.sent()))
	}
	if !store.get(1).Sent {
		t.Error("reminder should be marked sent after successful save")
	}
}

func TestRunCycle_LockError(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	lockErr := errors.New("redis: connection pool timeout")
	d := newTestDispatcher(store, &recordingNotifier{}, errLocker{err: lockErr}, clock)

	_, err := d.RunCycle(context.Background())
	if !errors.Is(err, lockErr) {
		t.Fatalf("expected lock error, got %v", err)
	}
	if store.finds() != 0 {
		t.Error("store must not be queried without the lock")
	}
}

func TestRunCycle_StopsWhenLeaseExpires(t *testing.T) {
	clock := newFakeClock()
	past := clock.Now().Add(-time.Hour)
	store := newMemStore(
		reminder(1, "a@x.com", past.Add(-time.Minute)),
		reminder(2, "b@x.com", past),
	)
	// Отправка «зависает» дольше MaxHold
	n := &recordingNotifier{fail: func(string) error {
		clock.Advance(testPolicy.MaxHold + time.Second)
		return nil
	}}
	d := newTestDispatcher(store, n, lock.NewMemoryLocker(clock.Now), clock)

	stats, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(n.sent()) != 1 {
		t.Errorf("cycle should stop after lease expiry, got %d sends", len(n.sent()))
	}
	if stats.Due != 2 || stats.Sent != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if store.get(2).Sent {
		t.Error("second reminder must be left for the next holder")
	}
}

func TestRunCycle_Metrics(t *testing.T) {
	clock := newFakeClock()
	locker := lock.NewMemoryLocker(clock.Now)
	store := newMemStore(
		reminder(1, "a@x.com", clock.Now().Add(-time.Hour)),
		reminder(2, "bad@x.com", clock.Now().Add(-time.Hour)),
	)
	n := &recordingNotifier{fail: func(recipient string) error {
		if recipient == "bad@x.com" {
			return notify.ErrSendFailed
		}
		return nil
	}}
	metrics := telemetry.NewDispatchMetrics(nil)

	d := New(Config{
		Store:    store,
		Notifier: n,
		Locker:   locker,
		Policy:   testPolicy,
		Logger:   discardLogger(),
		Metrics:  metrics,
		Now:      clock.Now,
	})

	d.RunCycle(context.Background())
	d.RunCycle(context.Background()) // lock удерживается min hold

	if got := testutil.ToFloat64(metrics.Sent); got != 1 {
		t.Errorf("sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SendFailures); got != 1 {
		t.Errorf("send failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Cycles.WithLabelValues(telemetry.CycleCompleted)); got != 1 {
		t.Errorf("completed cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Cycles.WithLabelValues(telemetry.CycleLockBusy)); got != 1 {
		t.Errorf("busy cycles = %v, want 1", got)
	}
}

func TestRun_FixedDelayUntilCancelled(t *testing.T) {
	store := newMemStore()
	d := New(Config{
		Store:    store,
		Notifier: &recordingNotifier{},
		Locker:   lock.NewMemoryLocker(nil),
		Policy:   lock.Policy{Name: "reminder-dispatch", MinHold: 0, MaxHold: time.Minute},
		Delay:    10 * time.Millisecond,
		Logger:   discardLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if n := store.finds(); n < 2 {
		t.Errorf("expected several cycles, got %d", n)
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{})

	if d.policy.Name != lock.DefaultName || d.policy.MinHold != lock.DefaultMinHold || d.policy.MaxHold != lock.DefaultMaxHold {
		t.Errorf("unexpected default policy: %+v", d.policy)
	}
	if d.delay != 6*time.Second {
		t.Errorf("expected default delay 6s, got %s", d.delay)
	}
	if d.batchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", d.batchSize)
	}
	if d.subject != "Reminder" {
		t.Errorf("expected default subject Reminder, got %q", d.subject)
	}
}
