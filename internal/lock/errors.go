package lock

import "errors"

// Ошибки блокировок.
var (
	// ErrLockBusy — lock удерживается другим владельцем.
	ErrLockBusy = errors.New("lock is busy")

	// ErrLeaseLost — lock уже принадлежит другому владельцу (истёк MaxHold).
	ErrLeaseLost = errors.New("lease lost")

	// ErrInvalidPolicy — некорректные параметры блокировки.
	ErrInvalidPolicy = errors.New("invalid lock policy")
)
