// Package lock реализует распределённую блокировку с min/max временем удержания.
//
// Контракт:
//
//	lease, err := locker.TryAcquire(ctx, lock.Policy{
//	    Name:    "reminder-dispatch",
//	    MinHold: 30 * time.Second,
//	    MaxHold: 60 * time.Second,
//	})
//	if errors.Is(err, lock.ErrLockBusy) {
//	    return // lock у другого экземпляра — это не ошибка
//	}
//	defer lease.Release(ctx)
//
// Гарантии:
//   - В любой момент у именованного lock не больше одного владельца
//     среди всех экземпляров, работающих с одним хранилищем.
//   - MinHold: Release до истечения MinHold не освобождает lock,
//     а лишь сокращает его до AcquiredAt + MinHold.
//   - MaxHold: если владелец упал или завис, lock можно забрать
//     через MaxHold после захвата.
//
// Это advisory-блокировка: работа, вышедшая за MaxHold, может пересечься
// с новым владельцем. MaxHold — верхняя граница длительности одного цикла.
//
// Backends:
//   - postgres.go — строка в scheduler_locks (время берётся из БД)
//   - redis.go    — SET NX PX + Lua-скрипт для release
//   - memory.go   — один процесс (тесты, локальная разработка)
package lock
